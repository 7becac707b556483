package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"rustfs-bench/bench"
	"rustfs-bench/config"
	"rustfs-bench/harness"
	"rustfs-bench/instances"
	"rustfs-bench/logging"
	"rustfs-bench/report"
	"rustfs-bench/storage"
	"rustfs-bench/supervisor"
	"rustfs-bench/telemetry"
	"rustfs-bench/visualisation"
)

// parquetBatchSize is the number of outcome rows buffered between flushes.
const parquetBatchSize = 100

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rustfs-bench",
		Short: "Build, launch and benchmark a local RustFS server",
		Long: `rustfs-bench builds the RustFS server from source, starts it on scratch
volumes, measures PUT, GET, LIST, DELETE and concurrent upload performance
through an S3 client, prints a summary and always tears everything down.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBenchmark,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: ./rustfs-bench.yaml)")
	addRunFlags(rootCmd.Flags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full benchmark",
		Args:  cobra.NoArgs,
		RunE:  runBenchmark,
	}
	addRunFlags(runCmd.Flags())

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify prerequisites without starting a run",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	addRunFlags(checkCmd.Flags())

	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Write a Grafana dashboard for the exported metrics",
		Args:  cobra.NoArgs,
		RunE:  runDashboard,
	}
	dashboardCmd.Flags().StringP("output", "o", "grafana/rustfs-bench-dashboard.json", "Dashboard output path")

	rootCmd.AddCommand(runCmd, checkCmd, dashboardCmd)
	return rootCmd
}

// addRunFlags registers the flags config.Load binds. Defaults mirror the
// configuration defaults so --help shows them.
func addRunFlags(fs *pflag.FlagSet) {
	d := config.Default()

	fs.Int("iterations", d.Iterations, "Iterations per operation kind")
	fs.Int("concurrency", d.Concurrency, "Parallel uploads in the concurrent batch")
	fs.Int64("file-size", d.FileSize, "Payload size in bytes")
	fs.Duration("startup-timeout", d.StartupTimeout, "How long to wait for the server to accept connections")
	fs.String("endpoint", d.Endpoint, "S3 endpoint of the launched server")
	fs.String("bucket", d.Bucket, "Bucket used for the benchmark")
	fs.String("client", d.Client, "Storage client: cli or sdk")
	fs.String("access-key", d.Credentials.AccessKey, "Access key for server and client")
	fs.String("secret-key", d.Credentials.SecretKey, "Secret key for server and client")
	fs.String("source-dir", d.Server.SourceDir, "RustFS source tree")
	fs.String("binary", "", "Server binary (default: <source-dir>/target/release/rustfs)")
	fs.Bool("skip-build", d.Server.SkipBuild, "Use an existing binary instead of building")
	fs.String("address", d.Server.Address, "Listen address passed to the server")
	fs.Int("volumes", d.Server.Volumes, "Number of scratch volumes")
	fs.String("output-dir", d.Output.Dir, "Directory for logs and result files")
	fs.String("scratch-dir", "", "Directory for volumes and payloads (default: <output-dir>/scratch)")
	fs.Bool("parquet", d.Output.Parquet, "Write per-operation outcomes to parquet")
	fs.Bool("traces", d.Output.Traces, "Write run and stage spans to traces.jsonl")
	fs.String("metrics-addr", d.Output.MetricsAddr, "Serve Prometheus metrics on this address during the run")
	fs.String("log-level", d.Logging.Level, "Log level (debug, info, warn, error)")
	fs.String("log-format", d.Logging.Format, "Log format (console, json)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	var tracesPath string
	if cfg.Output.Traces {
		tracesPath = cfg.TracesPath()
	}
	tracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "rustfs-bench",
		TracesPath:  tracesPath,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := tracing.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "Failed to flush traces", zap.Error(err))
		}
	}()

	client, err := newClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.Client, err)
	}

	exporter := storage.NewPrometheusExporter()
	if cfg.Output.MetricsAddr != "" {
		addr, err := exporter.Serve(cfg.Output.MetricsAddr)
		if err != nil {
			return err
		}
		logger.Info(ctx, "Serving metrics", zap.String("addr", addr))
		defer func() {
			if err := exporter.Shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "Metrics server shutdown failed", zap.Error(err))
			}
		}()
	}
	observers := bench.Observers{exporter}

	var parquet *storage.ParquetWriter
	var outcomesPath string
	if cfg.Output.Parquet {
		parquet, err = storage.NewParquetWriter(cfg.Output.Dir, runID, parquetBatchSize)
		if err != nil {
			return err
		}
		observers = append(observers, parquet)
		outcomesPath = parquet.FilePath()
	}

	h, err := harness.New(harness.Options{
		Config: cfg,
		RunID:  runID,
		Logger: logger,
		Builder: &supervisor.Builder{
			SourceDir:  cfg.Server.SourceDir,
			Command:    cfg.Server.BuildCommand,
			BinaryPath: cfg.Server.Binary,
			SkipBuild:  cfg.Server.SkipBuild,
			LogPath:    cfg.BuildLogPath(),
			Logger:     logger,
		},
		Supervisor: supervisor.New(supervisor.Config{
			PollInterval:     cfg.Server.PollInterval,
			GracePeriod:      cfg.Server.GracePeriod,
			StopAttempts:     cfg.Server.StopAttempts,
			StopPollInterval: cfg.Server.StopPollInterval,
		}, logger),
		Client:    client,
		Observers: observers,
		Host:      instances.NewHostMonitor("/proc"),
		OnHostSample: func(s *instances.HostStats) {
			exporter.UpdateHostStats(s.CPUUtilization, s.MemoryUsage, s.Network.BytesReceived, s.Network.BytesSent)
		},
		Recorder:       exporter,
		OutcomesPath:   outcomesPath,
		TracesPath:     tracesPath,
		TracerProvider: tracing.Provider(),
	})
	if err != nil {
		return err
	}

	rep, runErr := h.Run(ctx)

	if parquet != nil {
		if err := parquet.Close(); err != nil {
			logger.Warn(ctx, "Failed to close outcome file", zap.Error(err))
		}
	}

	if runErr != nil {
		var fe *harness.FatalError
		if errors.As(runErr, &fe) {
			fmt.Fprintf(os.Stderr, "Benchmark aborted during %s (%s). Benchmark log: %s\n",
				fe.Stage, fe.Kind, cfg.Logging.FilePath)
		}
		return runErr
	}

	return report.NewRenderer(!color.NoColor).Render(cmd.OutOrStdout(), *rep)
}

func newClient(ctx context.Context, cfg *config.Config) (harness.Client, error) {
	endpoint := instances.Endpoint{
		URL:       cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.Credentials.AccessKey,
		SecretKey: cfg.Credentials.SecretKey,
		Region:    cfg.Credentials.Region,
	}
	if cfg.Client == config.ClientSDK {
		return instances.NewS3Invoker(ctx, endpoint)
	}
	return instances.NewCLIInvoker(cfg.CLI.Tool, endpoint, cfg.CLI.ConnectTimeout, cfg.CLI.ReadTimeout), nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	// Validation is reported as one of the checks.
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	checks := harness.Preflight(cfg, exec.LookPath)
	ok := color.New(color.FgGreen).SprintFunc()
	fail := color.New(color.FgRed).SprintFunc()
	out := cmd.OutOrStdout()
	for _, c := range checks {
		if c.OK() {
			fmt.Fprintf(out, "%s %s\n", ok("ok  "), c.Name)
		} else {
			fmt.Fprintf(out, "%s %s: %v\n", fail("FAIL"), c.Name, c.Err)
		}
	}
	return harness.FirstFailure(checks)
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	dashboard := visualisation.CreateHarnessDashboard(cfg.Thresholds.Good, cfg.Thresholds.Excellent)
	if err := visualisation.SaveDashboard(dashboard, path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dashboard written to %s\n", path)
	return nil
}
