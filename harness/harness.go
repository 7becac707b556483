// Package harness sequences a benchmark run: prerequisites, build, volume
// provisioning, server startup, the timed operation stages and the
// concurrent batch, followed by a teardown that runs on every exit path.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"rustfs-bench/bench"
	"rustfs-bench/config"
	"rustfs-bench/instances"
	"rustfs-bench/logging"
	"rustfs-bench/report"
	"rustfs-bench/supervisor"
)

// Builder produces the server binary.
type Builder interface {
	Build(ctx context.Context) (string, error)
}

// Supervisor owns the server process.
type Supervisor interface {
	Start(ctx context.Context, spec supervisor.LaunchSpec) (*supervisor.ServerProcess, error)
	AwaitReady(ctx context.Context, proc *supervisor.ServerProcess, endpoint string, timeout time.Duration) error
	Stop(ctx context.Context) error
}

// Client performs storage operations against the running server.
type Client interface {
	bench.Invoker
	bench.BucketProvisioner
}

// HostSampler samples host resources while the server runs.
type HostSampler interface {
	Run(ctx context.Context, interval time.Duration, fn func(*instances.HostStats), onErr func(error))
	Usage() bench.HostUsage
}

// ReportRecorder receives the finished report, e.g. to export it as metrics.
type ReportRecorder interface {
	RecordReport(r *bench.RunReport)
}

// Options wires a Harness. Config, Builder, Supervisor and Client are
// required.
type Options struct {
	Config     *config.Config
	RunID      string
	Logger     logging.Logger
	Builder    Builder
	Supervisor Supervisor
	Client     Client
	// LookPath resolves prerequisite tools; defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	// Observers see every outcome as it is recorded.
	Observers    bench.Observers
	Host         HostSampler
	OnHostSample func(*instances.HostStats)
	Recorder     ReportRecorder
	// OutcomesPath is recorded in the report's artifacts when set.
	OutcomesPath string
	// TracesPath is recorded in the report's artifacts when set.
	TracesPath string
	// TracerProvider creates the run and stage spans; defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// Harness runs one benchmark. It is not reusable.
type Harness struct {
	config     *config.Config
	runID      string
	logger     logging.Logger
	builder    Builder
	supervisor Supervisor
	client     Client
	lookPath   func(string) (string, error)
	observers  bench.Observers
	host       HostSampler
	onHost     func(*instances.HostStats)
	recorder   ReportRecorder
	outcomes   string
	traces     string
	tracer     trace.Tracer
	scratch    *Scratch
}

type runResults struct {
	outcomes map[bench.Kind][]bench.Outcome
	batch    bench.BatchResult
}

// New creates a harness from opts.
func New(opts Options) (*Harness, error) {
	if opts.Config == nil {
		return nil, errors.New("harness: config is required")
	}
	if opts.Builder == nil || opts.Supervisor == nil || opts.Client == nil {
		return nil, errors.New("harness: builder, supervisor and client are required")
	}

	h := &Harness{
		config:     opts.Config,
		runID:      opts.RunID,
		logger:     opts.Logger,
		builder:    opts.Builder,
		supervisor: opts.Supervisor,
		client:     opts.Client,
		lookPath:   opts.LookPath,
		observers:  opts.Observers,
		host:       opts.Host,
		onHost:     opts.OnHostSample,
		recorder:   opts.Recorder,
		outcomes:   opts.OutcomesPath,
		traces:     opts.TracesPath,
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	h.tracer = tp.Tracer("rustfs-bench/harness")
	if h.runID == "" {
		h.runID = uuid.NewString()
	}
	if h.logger == nil {
		h.logger = logging.NewNop()
	}
	if h.lookPath == nil {
		h.lookPath = exec.LookPath
	}
	h.logger = h.logger.With(zap.String("run_id", h.runID))
	h.scratch = NewScratch(h.config.Output.ScratchDir, h.runID, h.config.Server.Volumes)

	return h, nil
}

// RunID returns the identifier of this run.
func (h *Harness) RunID() string {
	return h.runID
}

// Scratch returns the run's scratch layout.
func (h *Harness) Scratch() *Scratch {
	return h.scratch
}

// Run executes the full pipeline. Teardown has completed by the time Run
// returns, whatever the outcome. A nil report comes with a *FatalError.
func (h *Harness) Run(ctx context.Context) (*bench.RunReport, error) {
	started := time.Now()

	ctx, span := h.tracer.Start(ctx, "harness.run", trace.WithAttributes(attribute.String("run_id", h.runID)))
	defer span.End()

	h.logger.Info(ctx, "Starting benchmark run",
		zap.Int("iterations", h.config.Iterations),
		zap.Int("concurrency", h.config.Concurrency),
		zap.Int64("file_size", h.config.FileSize),
		zap.String("endpoint", h.config.Endpoint),
		zap.String("bucket", h.config.Bucket))

	td := newTeardown(h.logger)
	defer td.run(context.WithoutCancel(ctx))

	results, err := h.execute(ctx, td)
	td.run(context.WithoutCancel(ctx))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var fe *FatalError
		if errors.As(err, &fe) {
			h.logger.Error(ctx, "Benchmark run failed",
				zap.String("kind", string(fe.Kind)),
				zap.String("stage", fe.Stage),
				zap.String("log", fe.LogPath),
				zap.Error(fe.Err))
		} else {
			h.logger.Error(ctx, "Benchmark run failed", zap.Error(err))
		}
		return nil, err
	}

	th := bench.Thresholds{ExcellentPct: h.config.Thresholds.Excellent, GoodPct: h.config.Thresholds.Good}
	rep := bench.NewRunReport(h.runID, started, time.Now(), results.outcomes, results.batch, th)
	if h.host != nil {
		rep.Host = h.host.Usage()
	}
	rep.Artifacts = bench.Artifacts{
		ServerLog:    h.config.ServerLogPath(),
		BenchmarkLog: h.config.Logging.FilePath,
		Summary:      h.config.SummaryPath(),
		Outcomes:     h.outcomes,
		Traces:       h.traces,
	}
	if !h.config.Server.SkipBuild {
		rep.Artifacts.BuildLog = h.config.BuildLogPath()
	}

	if h.recorder != nil {
		h.recorder.RecordReport(&rep)
	}

	if err := report.WriteJSON(rep.Artifacts.Summary, rep); err != nil {
		h.logger.Warn(ctx, "Failed to write summary", zap.Error(err))
		rep.Artifacts.Summary = ""
	}

	span.SetAttributes(
		attribute.String("status", string(rep.Status)),
		attribute.Float64("combined_success_rate_pct", rep.CombinedSuccessRatePct))

	h.logger.Info(ctx, "Benchmark run complete",
		zap.String("status", string(rep.Status)),
		zap.Float64("combined_success_rate_pct", rep.CombinedSuccessRatePct),
		zap.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)))

	return &rep, nil
}

func (h *Harness) execute(ctx context.Context, td *teardown) (*runResults, error) {
	cfg := h.config
	results := &runResults{outcomes: make(map[bench.Kind][]bench.Outcome)}

	if err := h.stage(ctx, "prerequisites", func(ctx context.Context) error {
		if err := CheckPrerequisites(cfg, h.lookPath); err != nil {
			return fatal(KindPrerequisiteMissing, "prerequisites", "", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var binary string
	if err := h.stage(ctx, "build", func(ctx context.Context) error {
		var err error
		binary, err = h.builder.Build(ctx)
		if err != nil {
			return fatal(KindBuildFailure, "build", cfg.BuildLogPath(), err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := h.stage(ctx, "provision volumes", func(ctx context.Context) error {
		td.add("remove scratch", func(ctx context.Context) error {
			return h.scratch.Remove()
		})
		if err := h.scratch.Provision(); err != nil {
			return fatal(KindSetupFailure, "provision volumes", "", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := h.stage(ctx, "start server", func(ctx context.Context) error {
		return h.startServer(ctx, td, binary)
	}); err != nil {
		return nil, err
	}

	if err := h.stage(ctx, "provision test data", func(ctx context.Context) error {
		if err := h.scratch.WritePayload(cfg.FileSize); err != nil {
			return fatal(KindSetupFailure, "provision test data", "", err)
		}
		if err := h.client.CreateBucket(ctx); err != nil {
			h.logger.Warn(ctx, "Bucket creation failed, continuing", zap.String("bucket", cfg.Bucket), zap.Error(err))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sampler := bench.NewSampler(h.client,
		bench.WithDelay(cfg.Sampling.InterIterationDelay),
		bench.WithObserver(h.observers))

	for _, kind := range bench.ExecutionOrder {
		if kind == bench.KindBatch {
			if err := h.stage(ctx, "batch", func(ctx context.Context) error {
				results.batch = h.runBatch(ctx)
				return nil
			}); err != nil {
				return nil, err
			}
			continue
		}

		if err := h.stage(ctx, string(kind), func(ctx context.Context) error {
			outcomes := sampler.Run(ctx, kind, cfg.Iterations, h.requestFor(kind))
			results.outcomes[kind] = outcomes
			h.logStats(ctx, bench.Reduce(kind, outcomes))
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func (h *Harness) startServer(ctx context.Context, td *teardown, binary string) error {
	cfg := h.config
	logPath := cfg.ServerLogPath()

	td.add("stop server", h.supervisor.Stop)

	proc, err := h.supervisor.Start(ctx, supervisor.LaunchSpec{
		Binary:  binary,
		Address: cfg.Server.Address,
		Volumes: h.scratch.Volumes,
		LogPath: logPath,
		Env: []string{
			"RUSTFS_ACCESS_KEY=" + cfg.Credentials.AccessKey,
			"RUSTFS_SECRET_KEY=" + cfg.Credentials.SecretKey,
		},
	})
	if err != nil {
		return fatal(KindLaunchFailure, "start server", logPath, err)
	}

	if err := h.supervisor.AwaitReady(ctx, proc, cfg.Endpoint, cfg.StartupTimeout); err != nil {
		switch {
		case errors.Is(err, supervisor.ErrProcessDied):
			return fatal(KindProcessDied, "start server", logPath, err)
		case errors.Is(err, supervisor.ErrStartupTimeout):
			return fatal(KindStartupTimeout, "start server", logPath, err)
		case ctx.Err() != nil:
			return fatal(KindInterrupted, "start server", "", err)
		default:
			return fatal(KindLaunchFailure, "start server", logPath, err)
		}
	}

	if h.host != nil && cfg.Sampling.HostSampleInterval > 0 {
		h.startHostSampling(ctx, td)
	}
	return nil
}

func (h *Harness) startHostSampling(ctx context.Context, td *teardown) {
	hostCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		h.host.Run(hostCtx, h.config.Sampling.HostSampleInterval, func(s *instances.HostStats) {
			if h.onHost != nil {
				h.onHost(s)
			}
		}, func(err error) {
			h.logger.Debug(hostCtx, "Host sample failed", zap.Error(err))
		})
	}()

	td.add("stop host sampling", func(ctx context.Context) error {
		cancel()
		<-done
		return nil
	})
}

func (h *Harness) runBatch(ctx context.Context) bench.BatchResult {
	cfg := h.config
	runner := bench.NewBatchRunner(h.client, h.observers)

	result := runner.Run(ctx, cfg.Concurrency, cfg.FileSize, func(i int) bench.Request {
		return bench.Request{Kind: bench.KindBatch, Key: h.batchKey(i), LocalPath: h.scratch.PayloadPath}
	})

	h.logger.Info(ctx, "Concurrent batch complete",
		zap.Int("concurrency", result.Concurrency),
		zap.Int("successful", result.Successful),
		zap.Duration("elapsed", result.Elapsed),
		zap.Float64("throughput_mbps", result.ThroughputMBps()))
	return result
}

// requestFor builds the i-th request of a timed stage. DELETE i removes the
// object PUT i wrote; LIST always lists the run's prefix.
func (h *Harness) requestFor(kind bench.Kind) func(i int) bench.Request {
	return func(i int) bench.Request {
		switch kind {
		case bench.KindPut:
			return bench.Request{Kind: kind, Key: h.objectKey(i), LocalPath: h.scratch.PayloadPath}
		case bench.KindGet:
			return bench.Request{Kind: kind, Key: h.objectKey(i), LocalPath: h.scratch.DownloadPath(i)}
		case bench.KindList:
			return bench.Request{Kind: kind, Key: h.runID + "/"}
		default:
			return bench.Request{Kind: kind, Key: h.objectKey(i)}
		}
	}
}

func (h *Harness) objectKey(i int) string {
	return fmt.Sprintf("%s/object-%d", h.runID, i)
}

func (h *Harness) batchKey(i int) string {
	return fmt.Sprintf("%s/batch-%d", h.runID, i)
}

// stage runs one pipeline step in its own span. A cancelled context turns
// into an Interrupted error at the stage boundary.
func (h *Harness) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fatal(KindInterrupted, name, "", err)
	}

	ctx, span := h.tracer.Start(ctx, "stage "+name)
	defer span.End()

	start := time.Now()
	h.logger.Info(ctx, "Stage started", zap.String("stage", name))

	err := fn(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && KindOf(err) != KindInterrupted {
		err = fatal(KindInterrupted, name, "", ctxErr)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	h.logger.Info(ctx, "Stage finished", zap.String("stage", name), zap.Duration("duration", time.Since(start)))
	return nil
}

func (h *Harness) logStats(ctx context.Context, s bench.Stats) {
	fields := []zap.Field{
		zap.String("kind", string(s.Kind)),
		zap.Int("successful", s.Successful),
		zap.Int("attempted", s.Attempted),
		zap.Duration("avg", s.AverageDuration),
		zap.Float64("success_rate_pct", s.SuccessRatePct),
	}
	if s.Successful == 0 {
		h.logger.Warn(ctx, "Every attempt failed", fields...)
		return
	}
	h.logger.Info(ctx, "Stage stats", fields...)
}
