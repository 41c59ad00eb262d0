package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/specfit/internal/extract"
	"github.com/ShayCichocki/specfit/internal/render"
	"github.com/ShayCichocki/specfit/internal/specdoc"
	"github.com/ShayCichocki/specfit/pkg/models"
)

// scoreFlags are shared by score, repair, and watch.
type scoreFlags struct {
	spec     string
	root     string
	baseURL  string
	strategy string
	format   string
	target   float64
}

func (f *scoreFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.spec, "spec", "s", "", "Specification document (YAML or JSON)")
	cmd.Flags().StringVarP(&f.root, "root", "r", ".", "Artifact source root")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Base URL of a running service (implies --strategy dynamic)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Extraction strategy: static or dynamic (default from config)")
	cmd.Flags().StringVarP(&f.format, "format", "o", "text", "Output format: text or json")
	cmd.Flags().Float64Var(&f.target, "target", 0, "Target compliance score (default from config)")
	_ = cmd.MarkFlagRequired("spec")
}

// resolve fills defaults from config and loads the specification.
func (f *scoreFlags) resolve() (render.Format, specdoc.Expected, string, error) {
	format, err := render.ParseFormat(f.format)
	if err != nil {
		return "", specdoc.Expected{}, "", err
	}
	if f.target <= 0 {
		f.target = cfg.Repair.Target
	}
	if f.target > 1 {
		return "", specdoc.Expected{}, "", fmt.Errorf("target %.2f is above 1", f.target)
	}
	root, err := artifactRoot(f.root)
	if err != nil {
		return "", specdoc.Expected{}, "", err
	}
	doc, err := specdoc.Load(f.spec)
	if err != nil {
		return "", specdoc.Expected{}, "", err
	}
	return format, doc.Expected(), root, nil
}

func (f *scoreFlags) source(root string) extract.Source {
	return extract.Source{Root: root, BaseURL: f.baseURL}
}

func (f *scoreFlags) overrides() extractOverrides {
	return extractOverrides{strategy: f.strategy, baseURL: f.baseURL}
}

var (
	scoreOpts  scoreFlags
	scoreCheck bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score an artifact against its specification",
	Long: `Extract facts from an artifact and score them against a specification.

The overall score is a weighted sum of entity, endpoint, and validation
coverage. With --check the command exits non-zero below the target.

Examples:
  specfit score --spec spec.yaml --root ./service
  specfit score --spec spec.yaml --base-url http://localhost:8000 -o json
  specfit score --spec spec.yaml --check --target 0.9`,
	Args: cobra.NoArgs,
	RunE: runScore,
}

func init() {
	scoreOpts.register(scoreCmd)
	scoreCmd.Flags().BoolVar(&scoreCheck, "check", false, "Exit non-zero when compliance is below target")
}

func runScore(cmd *cobra.Command, args []string) error {
	format, expected, root, err := scoreOpts.resolve()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, nil, logger, scoreOpts.overrides())
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := scoreOnce(ctx, eng, &scoreOpts, root, expected)
	if err != nil {
		return err
	}
	if err := render.Report(cmd.OutOrStdout(), format, report, scoreOpts.target); err != nil {
		return err
	}

	if scoreCheck && !report.MeetsTarget(scoreOpts.target) {
		printStatus("✗", fmt.Sprintf("compliance %.2f is below target %.2f", report.Overall, scoreOpts.target),
			scoreColor(report.Overall, scoreOpts.target))
		return errBelowTarget
	}
	return nil
}

func scoreOnce(ctx context.Context, eng *engine, f *scoreFlags, root string, expected specdoc.Expected) (*models.ComplianceReport, error) {
	return eng.scorer.ScoreSource(ctx, eng.extractor, f.source(root), expected)
}
