// Command ucicheck batch-tests UCI chess engines for protocol conformance
// before they are trusted inside a GUI or match runner.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pssnyder/engine-tester/internal/batch"
	"github.com/pssnyder/engine-tester/internal/config"
	"github.com/pssnyder/engine-tester/internal/conformance"
	"github.com/pssnyder/engine-tester/internal/doctor"
	"github.com/pssnyder/engine-tester/internal/engine"
	"github.com/pssnyder/engine-tester/internal/events"
	"github.com/pssnyder/engine-tester/internal/logging"
	"github.com/pssnyder/engine-tester/internal/report"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cmd := newRootCommand(cfg)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

type runFlags struct {
	dir          string
	include      []string
	exclude      []string
	parallel     int
	timeoutScale float64
	maxMoveMS    int
	jsonPath     string
	mdPath       string
	verbose      bool
}

func newRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "ucicheck",
		Short:         "UCI engine conformance test harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(newRunCommand(cfg), newDoctorCommand(cfg))
	return root
}

func newRunCommand(cfg *config.Config) *cobra.Command {
	flags := runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover engines and run the full conformance batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyRunFlags(cmd, cfg, &flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBatch(cmd.Context(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.dir, "dir", cfg.EngineDir, "directory containing engine executables")
	cmd.Flags().StringArrayVar(&flags.include, "include", cfg.Include, "glob pattern to include (repeatable)")
	cmd.Flags().StringArrayVar(&flags.exclude, "exclude", cfg.Exclude, "glob pattern to exclude (repeatable)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", cfg.Workers, "number of engines to test concurrently")
	cmd.Flags().Float64Var(&flags.timeoutScale, "timeout-scale", cfg.TimeoutScale, "multiply all stage timeouts by this factor")
	cmd.Flags().IntVar(&flags.maxMoveMS, "max-move-ms", int(cfg.MoveHardCap/time.Millisecond), "hard cap on a single move wait in milliseconds (0 disables)")
	cmd.Flags().StringVar(&flags.jsonPath, "json", "", "override JSON report path")
	cmd.Flags().StringVar(&flags.mdPath, "md", "", "override Markdown report path")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "log per-stage progress")
	return cmd
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags *runFlags) {
	if cmd.Flags().Changed("dir") {
		cfg.EngineDir = flags.dir
	}
	if cmd.Flags().Changed("include") {
		cfg.Include = flags.include
	}
	if cmd.Flags().Changed("exclude") {
		cfg.Exclude = flags.exclude
	}
	if cmd.Flags().Changed("parallel") {
		cfg.Workers = flags.parallel
	}
	if cmd.Flags().Changed("timeout-scale") {
		cfg.TimeoutScale = flags.timeoutScale
	}
	if cmd.Flags().Changed("max-move-ms") {
		cfg.MoveHardCap = time.Duration(flags.maxMoveMS) * time.Millisecond
	}
}

func runBatch(ctx context.Context, cfg *config.Config, flags runFlags) error {
	logger := logging.Console(flags.verbose)

	engines, err := engine.Discover(cfg.EngineDir, cfg.Include, cfg.Exclude)
	if err != nil {
		return fmt.Errorf("discover engines: %w", err)
	}
	if len(engines) == 0 {
		return fmt.Errorf("no engines found in %s", cfg.EngineDir)
	}
	logger.Info("engines discovered", "count", len(engines), "dir", cfg.EngineDir)

	// Detailed per-stage records go to the JSON runtime log; the console
	// stays readable. Console-only is a degraded mode, not a failure.
	runLogger := logger
	fileLog, err := logging.New()
	if err != nil {
		logger.Warn("runtime file logging disabled", "err", err)
	} else {
		defer func() {
			_ = fileLog.Close()
		}()
		runLogger = fileLog.Logger
		logger.Debug("runtime log", "path", fileLog.Path())
	}

	bus := events.New()
	subscribeProgress(bus, logger)

	runner, err := conformance.NewRunner(conformance.DefaultStages(), conformance.Tuning{
		Scale:         cfg.TimeoutScale,
		MoveHardCap:   cfg.MoveHardCap,
		GracePeriod:   cfg.GracePeriod,
		TranscriptCap: cfg.TranscriptCap,
	}, runLogger, bus)
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}
	orchestrator, err := batch.NewOrchestrator(runner, cfg.Workers, runLogger, bus)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	result := orchestrator.Run(ctx, engines)

	if err := writeTranscriptLogs(cfg.LogDir, result, logger); err != nil {
		logger.Warn("transcript logs not written", "err", err)
	}
	if err := writeReports(cfg.ReportDir, result, flags, logger); err != nil {
		return err
	}

	for _, session := range result.Sessions {
		fmt.Printf("%-30s %s\n", session.Engine.Name, session.Verdict())
	}
	if failures := result.Failures(); failures > 0 {
		return fmt.Errorf("%d of %d engine(s) failed conformance", failures, len(result.Sessions))
	}
	return nil
}

// subscribeProgress mirrors stage progress onto the console logger.
func subscribeProgress(bus events.Bus, logger *log.Logger) {
	bus.Subscribe(events.EventTypeStageResult, func(event events.Event) {
		stage, ok := event.Payload.(conformance.StageResult)
		if !ok {
			return
		}
		progress := logger.With(
			"engine", event.EntityID,
			"stage", stage.Stage.Kind,
			"elapsed", stage.Elapsed.Round(time.Millisecond),
		)
		if stage.Passed() {
			progress.Debug("stage passed")
			return
		}
		progress.Warn("stage failed", "category", stage.Category, "detail", stage.Detail)
	})
}

func writeTranscriptLogs(dir string, result batch.Result, logger *log.Logger) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	for _, session := range result.Sessions {
		path := filepath.Join(dir, session.Engine.Name+".log")
		if err := os.WriteFile(path, []byte(session.Transcript), 0o600); err != nil {
			return fmt.Errorf("write transcript %s: %w", path, err)
		}
	}
	logger.Debug("transcripts written", "dir", dir, "count", len(result.Sessions))
	return nil
}

func writeReports(dir string, result batch.Result, flags runFlags, logger *log.Logger) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	base := report.DefaultBaseName(result.StartedAt)
	jsonPath := flags.jsonPath
	if jsonPath == "" {
		jsonPath = filepath.Join(dir, base+".json")
	}
	mdPath := flags.mdPath
	if mdPath == "" {
		mdPath = filepath.Join(dir, base+".md")
	}

	if err := writeReportFile(jsonPath, result, report.WriteJSON); err != nil {
		return err
	}
	if err := writeReportFile(mdPath, result, report.WriteMarkdown); err != nil {
		return err
	}
	logger.Info("reports written", "json", jsonPath, "md", mdPath)
	return nil
}

func writeReportFile(path string, result batch.Result, write func(w io.Writer, result batch.Result) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()
	if err := write(file, result); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run environment preflight checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			rep, err := doctor.Run(cfg)
			if err != nil {
				return err
			}
			for _, check := range rep.Checks {
				status := "ok"
				if !check.OK {
					status = "FAIL"
				}
				fmt.Printf("%-18s %-4s %s\n", check.Name, status, check.Detail)
			}
			if !rep.Healthy() {
				return fmt.Errorf("preflight failed")
			}
			return nil
		},
	}
}
