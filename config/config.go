package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ModeReplay = "replay"
	ModeLive   = "live"
)

type Config struct {
	Mode        string             `mapstructure:"mode"`
	Log         LogConfig          `mapstructure:"log"`
	Postgres    PostgresConfig     `mapstructure:"postgres"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Replay      ReplayConfig       `mapstructure:"replay"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Output      OutputConfig       `mapstructure:"output"`
	Kafka       KafkaConfig        `mapstructure:"kafka"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
}

// InstrumentConfig is one roster entry. Class decides which sizes the feed reports.
type InstrumentConfig struct {
	Name  string `mapstructure:"name"`
	ID    uint32 `mapstructure:"id"`
	Class string `mapstructure:"class"`
}

type ReplayConfig struct {
	Intervals []IntervalConfig `mapstructure:"intervals"`
	// Record live ticks into the historical table for later replay.
	RecordLive bool `mapstructure:"record_live"`
	// Recorded ticks older than this are deleted; zero keeps everything.
	Retention time.Duration `mapstructure:"retention"`
}

// IntervalConfig is a [start, end) window in RFC3339.
type IntervalConfig struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// Parse returns the window bounds.
func (i IntervalConfig) Parse() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, i.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("interval start %q: %w", i.Start, err)
	}
	end, err := time.Parse(time.RFC3339, i.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("interval end %q: %w", i.End, err)
	}
	return start, end, nil
}

type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	Mode        string `mapstructure:"mode"` // separate, aggregated or both
	CutoffHour  int    `mapstructure:"cutoff_hour"`
	PriceLevels int    `mapstructure:"price_levels"`
	AllStates   bool   `mapstructure:"all_states"`
	LogEachTick bool   `mapstructure:"log_each_tick"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics endpoint
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables,
// after loading a .env file when present.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	if dir := os.Getenv("WRANGLER_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}
	v.AddConfigPath("./config")

	setDefaults(v)

	// Support environment variables with dot notation (e.g., OUTPUT_CUTOFF_HOUR)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeReplay)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("feed.reconnect_delay", 3*time.Second)
	v.SetDefault("output.dir", "./out")
	v.SetDefault("output.mode", "aggregated")
	v.SetDefault("output.cutoff_hour", 17)
	v.SetDefault("output.price_levels", 5)
}

// Validate checks the values viper cannot.
func (c *Config) Validate() error {
	if c.Mode != ModeReplay && c.Mode != ModeLive {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeReplay, ModeLive, c.Mode)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("no instruments configured")
	}
	if c.Output.CutoffHour < 0 || c.Output.CutoffHour > 23 {
		return fmt.Errorf("output.cutoff_hour %d out of range", c.Output.CutoffHour)
	}
	if c.Replay.Retention < 0 {
		return fmt.Errorf("replay.retention must not be negative")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka enabled without brokers or topic")
	}
	return nil
}
