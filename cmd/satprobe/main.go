package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/satprobe/internal/config"
	"github.com/pingsantohq/satprobe/internal/health"
	"github.com/pingsantohq/satprobe/internal/logging"
	"github.com/pingsantohq/satprobe/internal/metrics"
	"github.com/pingsantohq/satprobe/internal/runtime"
	"github.com/pingsantohq/satprobe/internal/server"
	"github.com/pingsantohq/satprobe/internal/targets"
	"github.com/pingsantohq/satprobe/internal/task"
	"github.com/pingsantohq/satprobe/internal/writer"
)

const shutdownTimeout = 3 * time.Second

// app holds the flag values shared by every subcommand.
type app struct {
	configPath string
	duration   time.Duration
	output     string
	newProbe   runtime.ProbeFactory
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "satprobe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "satprobe",
		Short:         "Scheduled network probing with durable result files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to configuration file (default $SATPROBE_CONFIG or "+config.DefaultConfigPath+")")
	root.PersistentFlags().DurationVar(&a.duration, "duration", 0, "override scheduler.run_duration")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "", "override general.output_dir")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Probe the target list and write per-kind JSON Lines files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd.Context(), task.ModeSingle)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "mass",
		Short: "Probe every cohort of the cohort list and write per-target CSV files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd.Context(), task.ModeCohort)
		},
	})
	return root
}

func (a *app) loadConfig(ctx context.Context) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(ctx, a.configPath)
	} else {
		cfg, err = config.LoadFromEnv(ctx)
	}
	if err != nil {
		return cfg, err
	}
	if a.duration > 0 {
		cfg.Scheduler.RunDuration = a.duration
	}
	if a.output != "" {
		cfg.General.OutputDir = a.output
	}
	return cfg, cfg.Validate()
}

func (a *app) execute(ctx context.Context, mode task.Mode) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		all        []string
		cohorts    []targets.Cohort
		targetFile = cfg.General.TargetFile
	)
	switch mode {
	case task.ModeCohort:
		targetFile = cfg.General.CohortFile
		if targetFile == "" {
			return errors.New("general.cohort_file is required for mass mode")
		}
		if cohorts, err = targets.LoadCohorts(targetFile); err != nil {
			return err
		}
		for _, c := range cohorts {
			all = append(all, c.Targets...)
		}
	default:
		if all, err = targets.Load(targetFile); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(cohorts))
	for _, c := range cohorts {
		names = append(names, c.Name)
	}
	tk, err := task.Create(task.Spec{
		Config:     cfg,
		Mode:       mode,
		Targets:    all,
		Cohorts:    names,
		TargetFile: targetFile,
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Extra:  tk.Log(),
	})
	if err != nil {
		_ = tk.Finish(task.ReasonError, time.Now(), nil)
		return fmt.Errorf("init logging: %w", err)
	}
	logger.Info("task starting",
		"run_id", tk.Manifest.RunID, "dir", tk.Dir, "mode", mode,
		"targets", len(all), "kinds", tk.Manifest.Kinds, "duration", cfg.Scheduler.RunDuration)

	store := metrics.NewStore()
	checker := health.NewChecker(store, 0)
	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithMetricsStore(store),
		runtime.WithHealthChecker(checker),
	}
	if a.newProbe != nil {
		opts = append(opts, runtime.WithProbeFactory(a.newProbe))
	}
	rt := runtime.New(cfg, opts...)

	if err := addStreams(ctx, rt, cfg, tk.Dir, mode, all, cohorts); err != nil {
		_ = tk.Finish(task.ReasonError, time.Now(), nil)
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()

	var (
		grp     errgroup.Group
		summary runtime.Summary
	)
	if cfg.Metrics.Listen != "" {
		srv := server.New(server.Config{Addr: cfg.Metrics.Listen}, server.Dependencies{
			Logger:  logger,
			Metrics: store,
			Health:  checker,
		})
		grp.Go(func() error {
			return serveMonitoring(monitorCtx, srv, logger)
		})
	}
	grp.Go(func() error {
		defer stopMonitor()
		var runErr error
		summary, runErr = rt.Run(runCtx)
		return runErr
	})
	runErr := grp.Wait()

	reason := summary.Reason
	if runErr != nil {
		reason = task.ReasonError
	}
	if err := tk.Finish(reason, time.Now(), counts(store.Snapshot(), summary)); err != nil {
		logger.Warn("finalize manifest", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("task finished", "dir", tk.Dir, "reason", reason)
	return nil
}

// addStreams wires one output stream for single mode or one per cohort.
func addStreams(ctx context.Context, rt *runtime.Runtime, cfg config.Config, dir string, mode task.Mode, all []string, cohorts []targets.Cohort) error {
	if mode == task.ModeCohort {
		for _, c := range cohorts {
			sink, err := writer.NewCohortSink(filepath.Join(dir, c.Name))
			if err != nil {
				return err
			}
			if err := rt.AddStream(c.Name, c.Name, c.Targets, sink); err != nil {
				return err
			}
		}
		return nil
	}

	stream, err := writer.NewStreamSink(dir)
	if err != nil {
		return err
	}
	var sink writer.Sink = stream
	if cfg.Writer.SQLitePath != "" {
		index, err := writer.NewSQLiteSink(ctx, cfg.Writer.SQLitePath)
		if err != nil {
			return err
		}
		sink = writer.Tee{stream, index}
	}
	return rt.AddStream("results", "", all, sink)
}

func counts(snap metrics.Snapshot, summary runtime.Summary) map[string]int {
	out := map[string]int{
		"results":           int(snap.ResultsTotal()),
		"dropped":           int(summary.Dropped),
		"overlap_skipped":   int(snap.OverlapSkippedTotal),
		"misfired":          int(snap.MisfireTotal),
		"dispatch_failed":   int(snap.DispatchFailedTotal),
		"writers_aborted":   len(summary.Aborted),
		"writers_abandoned": len(summary.Abandoned),
	}
	for _, lc := range snap.Results {
		if len(lc.Labels) == 2 {
			out[lc.Labels[0]+"_"+lc.Labels[1]] += int(lc.Count)
		}
	}
	return out
}

func serveMonitoring(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("monitoring listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitoring server: %w", err)
	}
}
