package rpcbench

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for rpcbench
type Config struct {
	Benchmark   BenchmarkConfig   `mapstructure:"benchmark"`
	Echo        EchoConfig        `mapstructure:"echo"`
	Throughput  ThroughputConfig  `mapstructure:"throughput"`
	Reliability ReliabilityConfig `mapstructure:"reliability"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	History     HistoryConfig     `mapstructure:"history"`
}

// BenchmarkConfig is the run configuration every scenario receives. It is
// passed by value and never changes during a scenario run.
type BenchmarkConfig struct {
	Framework string `mapstructure:"framework"`
	Scenario  string `mapstructure:"scenario"`

	// Iterations > 0 bounds the measuring phase by call count instead of
	// DurationSeconds.
	DurationSeconds int `mapstructure:"duration"`
	Iterations      int `mapstructure:"iterations"`
	WarmupSeconds   int `mapstructure:"warmup"`

	// Reserved: scenarios are single-threaded today.
	NumClients       int `mapstructure:"num_clients"`
	ThreadsPerClient int `mapstructure:"threads_per_client"`

	MessageSize int `mapstructure:"message_size"`
	BatchSize   int `mapstructure:"batch_size"`

	ServerAddress    string `mapstructure:"address"`
	SelfHost         bool   `mapstructure:"self_host"`
	MeasureResources bool   `mapstructure:"measure_resources"`

	Verbose    bool   `mapstructure:"verbose"`
	OutputFile string `mapstructure:"output"`
}

// Duration returns the measuring window.
func (c BenchmarkConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// Warmup returns the warmup window.
func (c BenchmarkConfig) Warmup() time.Duration {
	return time.Duration(c.WarmupSeconds) * time.Second
}

// EchoConfig defines echo scenario settings
type EchoConfig struct {
	Async bool `mapstructure:"async"`
}

// ThroughputConfig defines streaming scenario settings
type ThroughputConfig struct {
	ChunkCount int `mapstructure:"chunk_count"`
	DelayMs    int `mapstructure:"delay_ms"`
}

// ReliabilityConfig defines failure injection settings
type ReliabilityConfig struct {
	FailureRate float64 `mapstructure:"failure_rate"`
	UnknownRate float64 `mapstructure:"unknown_rate"`
	Seed        uint64  `mapstructure:"seed"`
}

// TransportConfig defines settings shared by the network backends
type TransportConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxFrameSize      int           `mapstructure:"max_frame_size"`
	SocketPermissions uint32        `mapstructure:"socket_permissions"`
	KeepaliveTime     time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout  time.Duration `mapstructure:"keepalive_timeout"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines the Prometheus results exporter
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// HistoryConfig defines the run history store. An empty path disables it.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"framework":         "benchmark.framework",
	"scenario":          "benchmark.scenario",
	"duration":          "benchmark.duration",
	"iterations":        "benchmark.iterations",
	"warmup":            "benchmark.warmup",
	"message-size":      "benchmark.message_size",
	"batch-size":        "benchmark.batch_size",
	"address":           "benchmark.address",
	"self-host":         "benchmark.self_host",
	"measure-resources": "benchmark.measure_resources",
	"verbose":           "benchmark.verbose",
	"output":            "benchmark.output",
	"async":             "echo.async",
	"chunk-count":       "throughput.chunk_count",
	"log-level":         "logging.level",
	"log-format":        "logging.format",
	"metrics-addr":      "metrics.endpoint",
	"history":           "history.path",
}

// LoadConfig loads configuration from defaults, an optional yaml file, a
// .env file, RPCBENCH_* environment variables and finally flags. flags may
// be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rpcbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rpcbench")
	}

	// Read environment variables
	v.SetEnvPrefix("RPCBENCH")
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

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file doesn't exist, we have defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsDurationHook decodes durations given as plain numbers as seconds
// and strings such as "1500ms" with time.ParseDuration.
func secondsDurationHook(from, to reflect.Type, data any) (any, error) {
	if from == nil || to != durationType || from == durationType {
		return data, nil
	}

	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	case reflect.String:
		str := strings.TrimSpace(data.(string))
		if secs, err := strconv.ParseFloat(str, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", str, err)
		}
		return d, nil
	}
	return data, nil
}

// DefaultConfig returns the configuration LoadConfig produces with no file,
// environment or flags.
func DefaultConfig() Config {
	return Config{
		Benchmark: BenchmarkConfig{
			Framework:        "all",
			Scenario:         "echo",
			DurationSeconds:  10,
			WarmupSeconds:    1,
			NumClients:       1,
			ThreadsPerClient: 1,
			MessageSize:      1024,
			BatchSize:        100,
			ServerAddress:    "localhost:50051",
			SelfHost:         true,
		},
		Throughput: ThroughputConfig{ChunkCount: 16},
		Reliability: ReliabilityConfig{
			FailureRate: 0.1,
			UnknownRate: 0.05,
			Seed:        42,
		},
		Transport: TransportConfig{
			ConnectTimeout:    5 * time.Second,
			MaxFrameSize:      16 * 1024 * 1024,
			SocketPermissions: 0600,
			KeepaliveTime:     30 * time.Second,
			KeepaliveTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", TraceEnabled: true},
		Metrics: MetricsConfig{Endpoint: ":9090", Path: "/metrics"},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("benchmark.framework", d.Benchmark.Framework)
	v.SetDefault("benchmark.scenario", d.Benchmark.Scenario)
	v.SetDefault("benchmark.duration", d.Benchmark.DurationSeconds)
	v.SetDefault("benchmark.iterations", 0)
	v.SetDefault("benchmark.warmup", d.Benchmark.WarmupSeconds)
	v.SetDefault("benchmark.num_clients", d.Benchmark.NumClients)
	v.SetDefault("benchmark.threads_per_client", d.Benchmark.ThreadsPerClient)
	v.SetDefault("benchmark.message_size", d.Benchmark.MessageSize)
	v.SetDefault("benchmark.batch_size", d.Benchmark.BatchSize)
	v.SetDefault("benchmark.address", d.Benchmark.ServerAddress)
	v.SetDefault("benchmark.self_host", d.Benchmark.SelfHost)
	v.SetDefault("benchmark.measure_resources", false)
	v.SetDefault("benchmark.verbose", false)
	v.SetDefault("benchmark.output", "")

	v.SetDefault("echo.async", false)

	v.SetDefault("throughput.chunk_count", d.Throughput.ChunkCount)
	v.SetDefault("throughput.delay_ms", 0)

	v.SetDefault("reliability.failure_rate", d.Reliability.FailureRate)
	v.SetDefault("reliability.unknown_rate", d.Reliability.UnknownRate)
	v.SetDefault("reliability.seed", d.Reliability.Seed)

	// Transport defaults (plain numbers are seconds)
	v.SetDefault("transport.connect_timeout", 5)
	v.SetDefault("transport.max_frame_size", d.Transport.MaxFrameSize)
	v.SetDefault("transport.socket_permissions", d.Transport.SocketPermissions)
	v.SetDefault("transport.keepalive_time", 30)
	v.SetDefault("transport.keepalive_timeout", 10)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.trace_enabled", d.Logging.TraceEnabled)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.endpoint", d.Metrics.Endpoint)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("history.path", "")
}

// Validate rejects configurations no scenario can run with.
func (c *Config) Validate() error {
	b := c.Benchmark
	switch {
	case b.DurationSeconds < 0:
		return fmt.Errorf("duration must not be negative: %d", b.DurationSeconds)
	case b.Iterations < 0:
		return fmt.Errorf("iterations must not be negative: %d", b.Iterations)
	case b.WarmupSeconds < 0:
		return fmt.Errorf("warmup must not be negative: %d", b.WarmupSeconds)
	case b.MessageSize < 0:
		return fmt.Errorf("message size must not be negative: %d", b.MessageSize)
	case b.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive: %d", b.BatchSize)
	case c.Throughput.ChunkCount <= 0:
		return fmt.Errorf("chunk count must be positive: %d", c.Throughput.ChunkCount)
	}

	r := c.Reliability
	if r.FailureRate < 0 || r.UnknownRate < 0 || r.FailureRate+r.UnknownRate > 1 {
		return fmt.Errorf("failure rates out of range: failure=%v unknown=%v", r.FailureRate, r.UnknownRate)
	}
	return nil
}
