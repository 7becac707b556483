// Package config loads the benchmark configuration from defaults, an optional
// YAML file, RUSTFS_BENCH_* environment variables and command line flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rustfs-bench/logging"
)

// Client selects how storage operations are performed.
const (
	ClientCLI = "cli"
	ClientSDK = "sdk"
)

// Config holds the benchmark configuration. It is loaded once before a run
// and not modified afterwards.
type Config struct {
	Iterations     int           `mapstructure:"iterations"`
	Concurrency    int           `mapstructure:"concurrency"`
	FileSize       int64         `mapstructure:"file_size"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Endpoint       string        `mapstructure:"endpoint"`
	Bucket         string        `mapstructure:"bucket"`
	Client         string        `mapstructure:"client"`

	Credentials CredentialsConfig `mapstructure:"credentials"`
	Server      ServerConfig      `mapstructure:"server"`
	Sampling    SamplingConfig    `mapstructure:"sampling"`
	CLI         CLIConfig         `mapstructure:"cli"`
	Thresholds  ThresholdsConfig  `mapstructure:"thresholds"`
	Output      OutputConfig      `mapstructure:"output"`
	Logging     logging.Config    `mapstructure:"logging"`
}

// CredentialsConfig holds the access key pair used by the server and client.
type CredentialsConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
}

// ServerConfig describes how the storage server is built and supervised.
type ServerConfig struct {
	SourceDir        string        `mapstructure:"source_dir"`
	BuildCommand     []string      `mapstructure:"build_command"`
	Binary           string        `mapstructure:"binary"`
	SkipBuild        bool          `mapstructure:"skip_build"`
	Address          string        `mapstructure:"address"`
	Volumes          int           `mapstructure:"volumes"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	StopAttempts     int           `mapstructure:"stop_attempts"`
	StopPollInterval time.Duration `mapstructure:"stop_poll_interval"`
}

// SamplingConfig tunes the timed samplers.
type SamplingConfig struct {
	InterIterationDelay time.Duration `mapstructure:"inter_iteration_delay"`
	HostSampleInterval  time.Duration `mapstructure:"host_sample_interval"`
}

// CLIConfig configures the external object storage client.
type CLIConfig struct {
	Tool           string        `mapstructure:"tool"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// ThresholdsConfig holds the overall status cut-offs in percent.
type ThresholdsConfig struct {
	Excellent float64 `mapstructure:"excellent"`
	Good      float64 `mapstructure:"good"`
}

// OutputConfig says where artifacts and scratch state live.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	ScratchDir  string `mapstructure:"scratch_dir"`
	Parquet     bool   `mapstructure:"parquet"`
	Traces      bool   `mapstructure:"traces"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"iterations":      "iterations",
	"concurrency":     "concurrency",
	"file-size":       "file_size",
	"startup-timeout": "startup_timeout",
	"endpoint":        "endpoint",
	"bucket":          "bucket",
	"client":          "client",
	"access-key":      "credentials.access_key",
	"secret-key":      "credentials.secret_key",
	"source-dir":      "server.source_dir",
	"binary":          "server.binary",
	"skip-build":      "server.skip_build",
	"address":         "server.address",
	"volumes":         "server.volumes",
	"output-dir":      "output.dir",
	"scratch-dir":     "output.scratch_dir",
	"parquet":         "output.parquet",
	"traces":          "output.traces",
	"metrics-addr":    "output.metrics_addr",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
}

// Load loads configuration from file, environment and flags. configFile and
// flags may both be empty.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("rustfs-bench")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("RUSTFS_BENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.resolve()

	return &cfg, nil
}

// Default returns the built-in defaults, ignoring any config file,
// environment or flags.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults alone cannot fail to decode.
		panic(err)
	}
	cfg.resolve()
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("iterations", 10)
	v.SetDefault("concurrency", 4)
	v.SetDefault("file_size", 1024*1024)
	v.SetDefault("startup_timeout", "30s")
	v.SetDefault("endpoint", "http://127.0.0.1:9000")
	v.SetDefault("bucket", "rustfs-bench")
	v.SetDefault("client", ClientCLI)

	v.SetDefault("credentials.access_key", "rustfsadmin")
	v.SetDefault("credentials.secret_key", "rustfsadmin")
	v.SetDefault("credentials.region", "us-east-1")

	v.SetDefault("server.source_dir", ".")
	v.SetDefault("server.build_command", []string{"cargo", "build", "--release", "--bin", "rustfs"})
	v.SetDefault("server.binary", "")
	v.SetDefault("server.skip_build", false)
	v.SetDefault("server.address", "127.0.0.1:9000")
	v.SetDefault("server.volumes", 4)
	v.SetDefault("server.poll_interval", "2s")
	v.SetDefault("server.grace_period", "5s")
	v.SetDefault("server.stop_attempts", 10)
	v.SetDefault("server.stop_poll_interval", "500ms")

	v.SetDefault("sampling.inter_iteration_delay", "100ms")
	v.SetDefault("sampling.host_sample_interval", "1s")

	v.SetDefault("cli.tool", "aws")
	v.SetDefault("cli.connect_timeout", "10s")
	v.SetDefault("cli.read_timeout", "60s")

	v.SetDefault("thresholds.excellent", 80.0)
	v.SetDefault("thresholds.good", 60.0)

	v.SetDefault("output.dir", "./bench-output")
	v.SetDefault("output.scratch_dir", "")
	v.SetDefault("output.parquet", true)
	v.SetDefault("output.traces", true)
	v.SetDefault("output.metrics_addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// resolve fills paths derived from other settings.
func (c *Config) resolve() {
	if c.Server.Binary == "" {
		c.Server.Binary = filepath.Join(c.Server.SourceDir, "target", "release", "rustfs")
	}
	if c.Output.ScratchDir == "" {
		c.Output.ScratchDir = filepath.Join(c.Output.Dir, "scratch")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = c.BenchmarkLogPath()
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.FileSize <= 0 {
		return fmt.Errorf("file_size must be positive, got %d", c.FileSize)
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("startup_timeout must be positive, got %v", c.StartupTimeout)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != ClientCLI && c.Client != ClientSDK {
		return fmt.Errorf("invalid client: %s (must be %s or %s)", c.Client, ClientCLI, ClientSDK)
	}
	if c.Credentials.AccessKey == "" || c.Credentials.SecretKey == "" {
		return fmt.Errorf("credentials.access_key and credentials.secret_key are required")
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.Volumes < 1 {
		return fmt.Errorf("server.volumes must be at least 1, got %d", c.Server.Volumes)
	}
	if !c.Server.SkipBuild && len(c.Server.BuildCommand) == 0 {
		return fmt.Errorf("server.build_command is required unless server.skip_build is set")
	}
	if c.Thresholds.Good < 0 || c.Thresholds.Excellent > 100 || c.Thresholds.Good > c.Thresholds.Excellent {
		return fmt.Errorf("thresholds must satisfy 0 <= good <= excellent <= 100, got good=%v excellent=%v",
			c.Thresholds.Good, c.Thresholds.Excellent)
	}
	if c.Client == ClientCLI && c.CLI.Tool == "" {
		return fmt.Errorf("cli.tool is required when client is %s", ClientCLI)
	}
	if c.CLI.ConnectTimeout < 0 || c.CLI.ReadTimeout < 0 {
		return fmt.Errorf("cli timeouts must not be negative, got connect=%v read=%v",
			c.CLI.ConnectTimeout, c.CLI.ReadTimeout)
	}
	return nil
}

// Prerequisites lists the external tools a run needs on PATH.
func (c *Config) Prerequisites() []string {
	var tools []string
	if !c.Server.SkipBuild && len(c.Server.BuildCommand) > 0 {
		tools = append(tools, c.Server.BuildCommand[0])
	}
	if c.Client == ClientCLI {
		tools = append(tools, c.CLI.Tool)
	}
	return tools
}

// ServerLogPath is where the supervised server's output goes.
func (c *Config) ServerLogPath() string {
	return filepath.Join(c.Output.Dir, "server.log")
}

// BenchmarkLogPath is the harness's own log.
func (c *Config) BenchmarkLogPath() string {
	return filepath.Join(c.Output.Dir, "benchmark.log")
}

// BuildLogPath receives the build toolchain's output.
func (c *Config) BuildLogPath() string {
	return filepath.Join(c.Output.Dir, "build.log")
}

// TracesPath receives the run's spans, one JSON object per line.
func (c *Config) TracesPath() string {
	return filepath.Join(c.Output.Dir, "traces.jsonl")
}

// SummaryPath is the JSON summary written at the end of a run.
func (c *Config) SummaryPath() string {
	return filepath.Join(c.Output.Dir, "summary.json")
}
