package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/config"
	"github.com/lucasnoah/patchpilot/internal/pipeline"
	"github.com/lucasnoah/patchpilot/internal/report"
	"github.com/lucasnoah/patchpilot/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run <video>",
	Short: "Take a bug recording through the pipeline and write the artifacts",
	Long: `Run analyzes the video, generates a Playwright test, runs it, and, if the
test reproduces the bug, generates a patch and exports a bug report.

Artifacts (bug-report.md, the generated spec, patch.diff, snapshot.json) are
written to --out even when a stage fails, so partial results survive.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)
		if errs := config.Validate(cfg); len(errs) > 0 {
			return fmt.Errorf("invalid configuration: %v", errs[0])
		}

		until, _ := cmd.Flags().GetString("until")
		last, err := pipeline.ParseStage(until)
		if err != nil {
			return err
		}
		retries, _ := cmd.Flags().GetInt("retry")
		targetURL, _ := cmd.Flags().GetString("target-url")
		format, _ := cmd.Flags().GetString("format")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := newLogger(cmd)
		out := cmd.OutOrStdout()
		prog := newProgress(out)
		if format == "json" {
			prog = newProgress(io.Discard)
		}

		sess, err := newSession(cfg, logger, prog)
		if err != nil {
			return err
		}
		defer sess.close()

		video, err := backend.OpenVideo(args[0])
		if err != nil {
			return err
		}
		if err := sess.machine.SetVideo(video); err != nil {
			return err
		}

		runErr := runStages(ctx, sess.machine, prog, last, targetURL, retries)

		snap := sess.machine.Snapshot()
		paths, err := pipeline.NewArtifacts(cfg.OutputDir).Write(snap)
		if err != nil {
			return err
		}
		sess.flushMetrics()

		if format == "json" {
			data, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Session %s\n", snap.SessionID)
			for _, p := range paths {
				fmt.Fprintf(out, "  wrote %s\n", p)
			}
		}
		return runErr
	},
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("mode") {
		cfg.PipelineMode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Changed("backend-url") {
		cfg.BackendURL, _ = cmd.Flags().GetString("backend-url")
	}
	if cmd.Flags().Changed("out") {
		cfg.OutputDir, _ = cmd.Flags().GetString("out")
	}
}

// session wires a machine to its adapter and telemetry sinks.
type session struct {
	machine     *pipeline.Machine
	metrics     *telemetry.Metrics
	metricsFile string
	logger      *slog.Logger
	cleanups    []func()
}

func newSession(cfg *config.Config, logger *slog.Logger, prog *progress) (*session, error) {
	opts, err := cfg.AdapterOptions()
	if err != nil {
		return nil, err
	}
	rec := backend.NewRecorder()
	opts.Recorder = rec
	opts.Logger = logger
	adapter, err := backend.New(opts)
	if err != nil {
		return nil, err
	}

	tmpl, err := report.LoadTemplate(cfg.Report.Template)
	if err != nil {
		return nil, err
	}

	s := &session{
		metrics:     telemetry.NewMetrics(),
		metricsFile: cfg.Telemetry.MetricsFile,
		logger:      logger,
	}
	id := uuid.NewString()
	sinks := telemetry.Multi{telemetry.NewLogSink(logger), s.metrics}
	if cfg.Telemetry.Database != "" {
		d, cleanup, err := openTelemetryDB(cfg)
		if err != nil {
			return nil, err
		}
		s.cleanups = append(s.cleanups, cleanup)
		sinks = append(sinks, telemetry.NewStore(d, id, logger))
	}
	hook, unsubscribe := telemetry.Attach(rec, sinks)
	s.cleanups = append(s.cleanups, unsubscribe)

	s.machine = pipeline.New(adapter,
		pipeline.WithSessionID(id),
		pipeline.WithLogger(logger),
		pipeline.WithReportTemplate(tmpl),
		hook,
		pipeline.WithTransitionHook(prog.transition),
	)
	return s, nil
}

func (s *session) flushMetrics() {
	if s.metricsFile == "" {
		return
	}
	if err := s.metrics.WriteFile(s.metricsFile); err != nil {
		s.logger.Warn("failed to write metrics", "path", s.metricsFile, "error", err)
	}
}

func (s *session) close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
}

// runStages runs every stage after upload up to last, retrying failed
// stages up to retries times. A passing test ends the run early since
// there is no bug to patch.
func runStages(ctx context.Context, m *pipeline.Machine, prog *progress, last pipeline.Stage, targetURL string, retries int) error {
	if last == pipeline.StageUpload {
		return nil
	}
	for _, st := range pipeline.Stages[1:] {
		if st == pipeline.StagePatch && !m.CanGeneratePatch() {
			prog.note("test passed: the bug was not reproduced, so no patch was generated")
			return nil
		}

		err := runStage(ctx, m, st, targetURL)
		for attempt := 0; err != nil && attempt < retries && ctx.Err() == nil && !pipeline.IsPrecondition(err); attempt++ {
			err = m.Retry(ctx, st)
		}
		if err != nil {
			return fmt.Errorf("stage %s failed: %s", st, pipeline.Describe(err))
		}
		if st == last {
			return nil
		}
	}
	return nil
}

func runStage(ctx context.Context, m *pipeline.Machine, st pipeline.Stage, targetURL string) error {
	if st == pipeline.StageTest {
		return m.RunGenerateTest(ctx, targetURL)
	}
	return m.Run(ctx, st)
}

func init() {
	runCmd.Flags().String("mode", "", "pipeline mode: sample or network (overrides config)")
	runCmd.Flags().String("backend-url", "", "backend base URL (overrides config)")
	runCmd.Flags().String("target-url", "", "URL of the app under test, overriding the analysis")
	runCmd.Flags().StringP("out", "o", "", "artifact output directory (overrides config)")
	runCmd.Flags().String("until", string(pipeline.StageExport), "last stage to run")
	runCmd.Flags().Int("retry", 0, "times to retry a failed stage")
	runCmd.Flags().String("format", "text", "output format: text or json")
}
