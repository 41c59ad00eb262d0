package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/specfit/internal/artifact"
	"github.com/ShayCichocki/specfit/internal/learning"
	"github.com/ShayCichocki/specfit/internal/metrics"
	"github.com/ShayCichocki/specfit/internal/render"
	"github.com/ShayCichocki/specfit/internal/repair"
	"github.com/ShayCichocki/specfit/pkg/models"
)

var (
	repairOpts          scoreFlags
	repairMaxIterations int
	repairGeneratorCmd  string
	repairMetricsAddr   string
	repairNoPatterns    bool
	repairArtifactID    string
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair an artifact toward its specification",
	Long: `Run the bounded repair loop against an artifact.

Each iteration analyzes the failures in the latest report, retrieves similar
past repairs, asks the generator for a patch, backs the artifact up, applies
the patch, and rescores. Patches that lower the score are rolled back and
remembered as failures. The loop stops at the target, after the iteration
budget, or when the score stops improving.

The generator is Claude by default. --generator-cmd runs a shell command
instead: it receives {"context": ..., "patterns": [...]} as JSON on stdin
and prints a unified diff or "=== FILE: path ===" blocks on stdout.

Examples:
  specfit repair --spec spec.yaml --root ./service
  specfit repair --spec spec.yaml --root ./service --max-iterations 5 --target 0.9
  specfit repair --spec spec.yaml --generator-cmd ./my-fixer.sh --metrics-addr :9464`,
	Args: cobra.NoArgs,
	RunE: runRepair,
}

func init() {
	repairOpts.register(repairCmd)
	repairCmd.Flags().IntVar(&repairMaxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	repairCmd.Flags().StringVar(&repairGeneratorCmd, "generator-cmd", "", "Shell command that prints a patch for the failure context on stdin")
	repairCmd.Flags().StringVar(&repairMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	repairCmd.Flags().BoolVar(&repairNoPatterns, "no-patterns", false, "Do not read or record repair patterns")
	repairCmd.Flags().StringVar(&repairArtifactID, "artifact-id", "", "Artifact identifier recorded with patterns (default: root directory name)")
}

func runRepair(cmd *cobra.Command, args []string) error {
	format, expected, root, err := repairOpts.resolve()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if repairMetricsAddr != "" {
		shutdown, err := serveMetrics(repairMetricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	eng, err := newEngine(cfg, m, logger, repairOpts.overrides())
	if err != nil {
		return err
	}
	defer eng.Close()

	ws, err := artifact.New(artifact.Config{Root: root, Logger: logger})
	if err != nil {
		return err
	}

	gen, err := newGenerator(cfg, repairGeneratorCmd, root)
	if err != nil {
		return err
	}

	var patterns repair.PatternStore
	if !repairNoPatterns {
		store, err := learning.Open(patternDBPath(cfg, root))
		if err != nil {
			return fmt.Errorf("open pattern store: %w", err)
		}
		defer store.Close()
		patterns = store
	}

	rc := repair.Config{
		Target:          repairOpts.target,
		MaxIterations:   cfg.Repair.MaxIterations,
		StagnationLimit: cfg.Repair.StagnationLimit,
		GenerateTimeout: cfg.Repair.GenerateTimeout,
		SendFiles:       cfg.Repair.SendFiles,
	}
	if repairMaxIterations > 0 {
		rc.MaxIterations = repairMaxIterations
	}
	if format == render.FormatText {
		rc.OnTransition = announce
	}

	ctrl, err := repair.New(rc, repair.Deps{
		Score: func(ctx context.Context) (*models.ComplianceReport, error) {
			return scoreOnce(ctx, eng, &repairOpts, root, expected)
		},
		Generator: gen,
		Patterns:  patterns,
		Workspace: ws,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	artifactID := repairArtifactID
	if artifactID == "" {
		artifactID = filepath.Base(root)
	}

	res, runErr := ctrl.Run(ctx, artifactID)
	if res != nil {
		if err := render.Repair(cmd.OutOrStdout(), format, res, repairOpts.target); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if !res.Skipped && !res.Final.MeetsTarget(repairOpts.target) {
		printStatus("!", fmt.Sprintf("stopped at %.2f (%s), target %.2f", res.Final.Overall, res.StopReason, repairOpts.target),
			scoreColor(res.Final.Overall, repairOpts.target))
		return errBelowTarget
	}
	return nil
}

// announce prints loop progress to stderr.
func announce(tr repair.Transition) {
	switch tr.To {
	case repair.StatePatching:
		printStatus("→", fmt.Sprintf("iteration %d: generating patch", tr.Iteration), color.FgCyan)
	case repair.StateAccepted:
		printStatus("✓", fmt.Sprintf("iteration %d: patch kept", tr.Iteration), color.FgGreen)
	case repair.StateRolledBack:
		printStatus("↺", fmt.Sprintf("iteration %d: rolled back", tr.Iteration), color.FgYellow)
	}
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
