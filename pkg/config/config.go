// Package config provides configuration management for the crash analysis tools.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/crash-analysis/pkg/errors"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. CRASH_ANALYSIS_WORKERS overrides analysis.workers.
const EnvPrefix = "CRASH"

// Config holds all configuration for the application.
type Config struct {
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Helper    HelperConfig    `mapstructure:"helper"`
	Collector CollectorConfig `mapstructure:"collector"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
}

// AnalysisConfig holds minidump analysis configuration.
type AnalysisConfig struct {
	Version     string `mapstructure:"version"`
	DataDir     string `mapstructure:"data_dir"`
	AllThreads  bool   `mapstructure:"all_threads"`
	Workers     int    `mapstructure:"workers"`
	SymbolsDir  string `mapstructure:"symbols_dir"`
	MaxDumpSize int64  `mapstructure:"max_dump_size"` // bytes
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Endpoint  string `mapstructure:"endpoint"`   // overrides the bucket URL
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	PollInterval  int `mapstructure:"poll_interval"`  // in seconds
	WorkerCount   int `mapstructure:"worker_count"`
	PrioritySlots int `mapstructure:"priority_slots"` // workers reserved for priority tasks
	TaskBatchSize int `mapstructure:"task_batch_size"`
}

// HelperConfig holds the crash helper server configuration.
type HelperConfig struct {
	SocketPath string `mapstructure:"socket_path"`
	DumpDir    string `mapstructure:"dump_dir"`
	Analyze    bool   `mapstructure:"analyze"`
}

// CollectorConfig holds the HTTP upload endpoint configuration.
type CollectorConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Listen        string `mapstructure:"listen"`
	MaxUploadSize int64  `mapstructure:"max_upload_size"` // bytes
}

// AMQPConfig holds the RabbitMQ task intake configuration. Intake is off
// when URL is empty.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Queue    string `mapstructure:"queue"`
	Exchange string `mapstructure:"exchange"` // analyzed events, optional
	Prefetch int    `mapstructure:"prefetch"`
}

// CacheConfig selects the fingerprint cache backend.
type CacheConfig struct {
	Type     string   `mapstructure:"type"` // none, memory, redis or memcache
	Address  string   `mapstructure:"address"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Servers  []string `mapstructure:"servers"` // memcache
	TTL      int      `mapstructure:"ttl"`     // in seconds
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/crash-analysis")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "config validation failed", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from a byte slice (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration made only of default values.
func Default() *Config {
	v := newViper()
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("analysis.version", "1.0.0")
	v.SetDefault("analysis.data_dir", "./data")
	v.SetDefault("analysis.all_threads", false)
	v.SetDefault("analysis.workers", 4)
	v.SetDefault("analysis.symbols_dir", "")
	v.SetDefault("analysis.max_dump_size", 256<<20)

	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")

	v.SetDefault("scheduler.poll_interval", 2)
	v.SetDefault("scheduler.worker_count", 5)
	v.SetDefault("scheduler.priority_slots", 1)
	v.SetDefault("scheduler.task_batch_size", 10)

	v.SetDefault("helper.socket_path", filepath.Join(os.TempDir(), "crash-helper.sock"))
	v.SetDefault("helper.dump_dir", "./minidumps")
	v.SetDefault("helper.analyze", true)

	v.SetDefault("collector.enabled", false)
	v.SetDefault("collector.listen", ":8080")
	v.SetDefault("collector.max_upload_size", 64<<20)

	v.SetDefault("amqp.queue", "crash-tasks")
	v.SetDefault("amqp.prefetch", 1)

	v.SetDefault("cache.type", "none")
	v.SetDefault("cache.ttl", 30*24*3600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Type != "postgres" && c.Database.Type != "mysql" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	// Storage config validation is delegated to storage package

	if c.Scheduler.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("analysis workers must be at least 1")
	}
	switch c.Cache.Type {
	case "", "none", "memory", "redis", "memcache":
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}
	if c.Collector.Enabled && c.Collector.Listen == "" {
		return fmt.Errorf("collector listen address is required")
	}

	return nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	if c.Analysis.DataDir == "" {
		return nil
	}
	return os.MkdirAll(c.Analysis.DataDir, 0755)
}

// GetTaskDir returns the task-specific directory path.
func (c *Config) GetTaskDir(taskUUID string) string {
	return filepath.Join(c.Analysis.DataDir, taskUUID)
}
