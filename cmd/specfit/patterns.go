package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/specfit/internal/learning"
	"github.com/ShayCichocki/specfit/pkg/models"
)

var (
	patternsRoot   string
	patternsGlobal bool
	patternsLimit  int
	patternsJSON   bool
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect recorded repair patterns",
	Long: `Inspect the append-only store of past repair attempts.

Every patch the repair loop applies is recorded with the failure classes it
addressed and the score change it caused. Successful patterns are offered to
the generator when similar failures come up again.

Usage:
  specfit patterns list                  # Most recent patterns
  specfit patterns search "price gt"     # Full-text search
  specfit patterns show pt-1a2b3c4d      # Full patch and metadata
  specfit patterns stats                 # Counts and average gain`,
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPatternStore(func(store *learning.Store) error {
			results, err := store.List(cmd.Context(), patternsLimit)
			if err != nil {
				return err
			}
			return printPatterns(cmd.OutOrStdout(), results, "No patterns recorded yet.")
		})
	},
}

var patternsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search patterns by failure text, class, or patch content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPatternStore(func(store *learning.Store) error {
			results, err := store.Search(cmd.Context(), strings.Join(args, " "), patternsLimit)
			if err != nil {
				return err
			}
			return printPatterns(cmd.OutOrStdout(), results, "No patterns found matching query.")
		})
	},
}

var patternsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one pattern in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPatternStore(func(store *learning.Store) error {
			p, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if patternsJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), p)
			}
			printPatternDetailed(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

var patternsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the pattern store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPatternStore(func(store *learning.Store) error {
			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if patternsJSON {
				return writeIndentedJSON(cmd.OutOrStdout(), st)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Store:       %s\n", store.Path())
			fmt.Fprintf(w, "Patterns:    %d\n", st.Total)
			fmt.Fprintf(w, "Successes:   %d\n", st.Successes)
			fmt.Fprintf(w, "Failures:    %d\n", st.Failures)
			fmt.Fprintf(w, "Signatures:  %d\n", st.Signatures)
			fmt.Fprintf(w, "Avg gain:    %+.3f\n", st.AvgSuccessDelta)
			return nil
		})
	},
}

func init() {
	patternsCmd.PersistentFlags().StringVarP(&patternsRoot, "root", "r", ".", "Artifact root whose project store to open")
	patternsCmd.PersistentFlags().BoolVar(&patternsGlobal, "global", false, "Use the global store")
	patternsCmd.PersistentFlags().BoolVar(&patternsJSON, "json", false, "Print JSON")
	patternsListCmd.Flags().IntVarP(&patternsLimit, "limit", "n", 20, "Maximum patterns to list")
	patternsSearchCmd.Flags().IntVarP(&patternsLimit, "limit", "n", 20, "Maximum patterns to return")

	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsSearchCmd)
	patternsCmd.AddCommand(patternsShowCmd)
	patternsCmd.AddCommand(patternsStatsCmd)
}

func withPatternStore(fn func(store *learning.Store) error) error {
	path := learning.GlobalDBPath()
	if !patternsGlobal {
		root, err := artifactRoot(patternsRoot)
		if err != nil {
			return err
		}
		path = patternDBPath(cfg, root)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("no pattern store at %s (run specfit repair first)", path)
	}

	store, err := learning.Open(path)
	if err != nil {
		return fmt.Errorf("open pattern store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func printPatterns(w io.Writer, patterns []*models.Pattern, empty string) error {
	if patternsJSON {
		if patterns == nil {
			patterns = []*models.Pattern{}
		}
		return writeIndentedJSON(w, patterns)
	}
	if len(patterns) == 0 {
		fmt.Fprintln(w, empty)
		return nil
	}
	fmt.Fprintf(w, "Found %d pattern(s):\n\n", len(patterns))
	for _, p := range patterns {
		printPatternCompact(w, p)
	}
	return nil
}

func kindLabel(k models.PatternKind) string {
	if k == models.PatternSuccess {
		return color.GreenString(string(k))
	}
	return color.YellowString(string(k))
}

// printPatternCompact prints a compact pattern summary
func printPatternCompact(w io.Writer, p *models.Pattern) {
	fmt.Fprintf(w, "[%s] %s %+.2f  %s\n", p.ID, kindLabel(p.Kind), p.Metadata.Delta, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "         classes: %s\n", truncate(strings.Join(p.Metadata.FailureClasses, ", "), 60))
	if len(p.Metadata.Failures) > 0 {
		fmt.Fprintf(w, "         first:   %s\n", truncate(p.Metadata.Failures[0], 60))
	}
	fmt.Fprintln(w)
}

// printPatternDetailed prints full details about a pattern
func printPatternDetailed(w io.Writer, p *models.Pattern) {
	fmt.Fprintf(w, "ID:         %s\n", p.ID)
	fmt.Fprintf(w, "Kind:       %s\n", kindLabel(p.Kind))
	fmt.Fprintf(w, "Created:    %s\n", p.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Score:      %.2f -> %.2f (%+.2f)\n", p.Metadata.Before, p.Metadata.After, p.Metadata.Delta)
	if p.Metadata.RunID != "" {
		fmt.Fprintf(w, "Run:        %s (iteration %d)\n", p.Metadata.RunID, p.Metadata.Iteration)
	}
	if p.Metadata.Artifact != "" {
		fmt.Fprintf(w, "Artifact:   %s\n", p.Metadata.Artifact)
	}
	fmt.Fprintf(w, "Signature:  %s\n", p.Signature)
	if len(p.Metadata.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, f := range p.Metadata.Failures {
			fmt.Fprintf(w, "  - %s\n", f)
		}
	}
	fmt.Fprintln(w, "\nPatch:")
	fmt.Fprintln(w, p.Patch)
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens a string to max length, adding ellipsis if needed
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
