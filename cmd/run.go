package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"crucible/internal/config"
	"crucible/internal/engine"
	"crucible/internal/loader"
	"crucible/internal/perf"
	"crucible/internal/suite"
	"crucible/pkg/logging"
)

var (
	runConfigPath string
	runTags       []string
	runFailFast   bool
	runVerbose    bool
	runDebug      bool
	runReportPath string
	runHistory    string
	runWatch      bool
	runQuiet      bool
)

// runCmd executes a suite file once, or continuously with --watch.
var runCmd = &cobra.Command{
	Use:   "run <suite.yaml>",
	Short: "Run the tests defined in a suite file",
	Long: `Loads the given suite file, schedules its tests in dependency order and
executes them sequentially. Exits non-zero if any test fails or errors.

With --watch the suite is re-run every time the file changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig()
		if err != nil {
			return err
		}
		initLogging(cfg)

		if runWatch {
			return watchAndRun(cmd.Context(), args[0], cfg)
		}
		failed, err := runSuiteFile(cmd.Context(), args[0], cfg)
		if err != nil {
			return err
		}
		if failed {
			return fmt.Errorf("suite failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Configuration directory (default: ~/.config/crucible)")
	runCmd.Flags().StringSliceVar(&runTags, "tags", nil, "Only run tests carrying any of these tags")
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop at the first failed or errored test")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable info-level logging")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug-level logging")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Write a JSON report to this path")
	runCmd.Flags().StringVar(&runHistory, "history", "", "SQLite database for performance history")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Re-run the suite whenever the file changes")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Suppress the progress spinner")
	rootCmd.AddCommand(runCmd)
}

func loadRunConfig() (config.Config, error) {
	path := runConfigPath
	if path == "" {
		path = config.DefaultConfigPathOrPanic()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if len(runTags) > 0 {
		cfg.Tags = runTags
	}
	if runFailFast {
		cfg.FailFast = true
	}
	if runVerbose {
		cfg.Verbose = true
	}
	if runDebug {
		cfg.Debug = true
	}
	if runReportPath != "" {
		cfg.ReportPath = runReportPath
	}
	if runHistory != "" {
		cfg.HistoryPath = runHistory
	}
	return cfg, nil
}

func initLogging(cfg config.Config) {
	level := logging.LevelWarn
	if cfg.Verbose {
		level = logging.LevelInfo
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stderr)
}

// runSuiteFile executes one pass over the suite file and reports whether
// any test failed or errored.
func runSuiteFile(ctx context.Context, path string, cfg config.Config) (bool, error) {
	loaded, err := loader.Load(path)
	if err != nil {
		return false, err
	}

	opts := suite.Options{FailFast: cfg.FailFast}
	if cfg.HistoryPath != "" {
		store, err := perf.NewSQLiteStore(cfg.HistoryPath)
		if err != nil {
			return false, err
		}
		defer store.Close()
		opts.PerfStore = store
	}

	registry := engine.NewRegistry()
	if err := loader.RegisterAll(registry, loaded); err != nil {
		return false, err
	}
	coordinator := suite.NewCoordinator(registry, opts)

	var s *spinner.Spinner
	if !runQuiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Running suite %q...", loaded.Name)
		s.Start()
	}
	results, err := coordinator.RunSuite(ctx, nil, cfg.Tags)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return false, err
	}

	reporter := suite.NewReporter()
	reporter.PrintResults(coordinator.Results())
	report := coordinator.GenerateReport()
	reporter.PrintReport(report)

	if cfg.ReportPath != "" {
		sink := &suite.JSONSink{Path: cfg.ReportPath}
		if err := sink.Write(report); err != nil {
			return false, err
		}
		fmt.Printf("Report written to %s\n", cfg.ReportPath)
	}

	failed := false
	for _, result := range results {
		if result.Status == engine.StatusFailed || result.Status == engine.StatusError {
			failed = true
			break
		}
	}
	return failed, nil
}

// watchAndRun re-runs the suite whenever the file changes, until
// interrupted.
func watchAndRun(ctx context.Context, path string, cfg config.Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory: editors replace files on save, which would
	// drop a watch on the file itself
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := runSuiteFile(ctx, path, cfg); err != nil {
		logging.Error("Watch", err, "Suite run failed")
	}
	fmt.Printf("\nWatching %s for changes (ctrl-c to stop)\n", path)

	// coalesce bursts of events from a single save
	var pending <-chan time.Time
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Watch", "Watcher error: %v", err)
		case <-pending:
			pending = nil
			if _, err := runSuiteFile(ctx, path, cfg); err != nil {
				logging.Error("Watch", err, "Suite run failed")
			}
			fmt.Printf("\nWatching %s for changes (ctrl-c to stop)\n", path)
		}
	}
}
