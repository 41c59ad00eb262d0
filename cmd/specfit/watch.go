package main

import (
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/specfit/internal/render"
	"github.com/ShayCichocki/specfit/internal/specdoc"
)

var (
	watchOpts     scoreFlags
	watchDebounce time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-score an artifact whenever its files change",
	Long: `Score an artifact, then watch its source tree and score again after
each burst of changes. Changes to the specification document are picked up
too.

Examples:
  specfit watch --spec spec.yaml --root ./service`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchOpts.register(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "Quiet period before re-scoring")
}

// skipWatchDir reports directories whose changes never affect a score.
func skipWatchDir(name string) bool {
	switch name {
	case ".git", ".specfit", "__pycache__", "node_modules", "venv", ".venv", ".mypy_cache", ".pytest_cache":
		return true
	}
	return false
}

func addWatchRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipWatchDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// ignoredEvent drops events inside skipped directories and pure chmods.
func ignoredEvent(root string, ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return true
	}
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if skipWatchDir(part) {
			return true
		}
	}
	return false
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, expected, root, err := watchOpts.resolve()
	if err != nil {
		return err
	}
	specPath, err := filepath.Abs(watchOpts.spec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, nil, logger, watchOpts.overrides())
	if err != nil {
		return err
	}
	defer eng.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, root); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	if !strings.HasPrefix(specPath, root+string(filepath.Separator)) {
		if err := watcher.Add(filepath.Dir(specPath)); err != nil {
			return fmt.Errorf("watch spec: %w", err)
		}
	}

	last := -1.0
	rescore := func() {
		if doc, err := specdoc.Load(specPath); err != nil {
			printStatus("✗", fmt.Sprintf("spec: %v", err), color.FgRed)
		} else {
			expected = doc.Expected()
		}
		report, err := scoreOnce(ctx, eng, &watchOpts, root, expected)
		if err != nil {
			if ctx.Err() == nil {
				printStatus("✗", err.Error(), color.FgRed)
			}
			return
		}
		if format == render.FormatJSON {
			_ = render.Report(cmd.OutOrStdout(), format, report, watchOpts.target)
		}
		msg := fmt.Sprintf("compliance %.1f%%", report.Overall*100)
		if last >= 0 {
			msg += fmt.Sprintf(" (%+.1f)", (report.Overall-last)*100)
		}
		printStatus("●", msg, scoreColor(report.Overall, watchOpts.target))
		if format == render.FormatText && report.Overall != last {
			_ = render.Report(cmd.OutOrStdout(), format, report, watchOpts.target)
		}
		last = report.Overall
	}

	rescore()
	printStatus("…", "watching "+root, color.FgCyan)

	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != specPath && ignoredEvent(root, ev) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addWatchRecursive(watcher, ev.Name)
				}
			}
			timer = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		case <-timer:
			timer = nil
			rescore()
		}
	}
}

