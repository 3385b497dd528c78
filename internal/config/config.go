package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    Server    `yaml:"server"`
	Storage   S3Config  `yaml:"storage"`
	Registry  Registry  `yaml:"registry"`
	Recording Recording `yaml:"recording"`
	LogLevel  string    `yaml:"log_level"`
}

// Server represents the HTTP / control-channel server configuration
type Server struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// S3Config represents S3-compatible object storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// Registry represents chunk-registry configuration
type Registry struct {
	DBPath        string        `yaml:"db_path"`
	URLExpiry     time.Duration `yaml:"url_expiry"`
	VerifyUploads bool          `yaml:"verify_uploads"`
}

// Recording represents capture and upload configuration used by recording clients
type Recording struct {
	ChunkInterval     time.Duration `yaml:"chunk_interval"`
	FinalFlushTimeout time.Duration `yaml:"final_flush_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoffMs    int           `yaml:"retry_backoff_ms"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Server: Server{
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Registry: Registry{
			DBPath:    "./sessions.db",
			URLExpiry: 15 * time.Minute,
		},
		Recording: Recording{
			ChunkInterval:     30 * time.Second,
			FinalFlushTimeout: 10 * time.Second,
			MaxRetries:        5,
			RetryBackoffMs:    500,
			UploadConcurrency: 4,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		loadFromFlags(cfg, flags)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("s3-endpoint") {
		cfg.Storage.Endpoint, _ = flags.GetString("s3-endpoint")
	}
	if flags.Changed("s3-access-key") {
		cfg.Storage.AccessKey, _ = flags.GetString("s3-access-key")
	}
	if flags.Changed("s3-secret-key") {
		cfg.Storage.SecretKey, _ = flags.GetString("s3-secret-key")
	}
	if flags.Changed("s3-bucket") {
		cfg.Storage.Bucket, _ = flags.GetString("s3-bucket")
	}
	if flags.Changed("s3-secure") {
		cfg.Storage.Secure, _ = flags.GetBool("s3-secure")
	}
	if flags.Changed("db") {
		cfg.Registry.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("url-expiry") {
		cfg.Registry.URLExpiry, _ = flags.GetDuration("url-expiry")
	}
	if flags.Changed("verify-uploads") {
		cfg.Registry.VerifyUploads, _ = flags.GetBool("verify-uploads")
	}
	if flags.Changed("chunk-interval") {
		cfg.Recording.ChunkInterval, _ = flags.GetDuration("chunk-interval")
	}
	if flags.Changed("max-retries") {
		cfg.Recording.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Recording.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

func (c *Config) validate() error {
	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}
	if c.Storage.AccessKey == "" {
		return fmt.Errorf("storage access key is required")
	}
	if c.Storage.SecretKey == "" {
		return fmt.Errorf("storage secret key is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535")
	}

	if c.Registry.URLExpiry <= 0 {
		return fmt.Errorf("url expiry must be positive")
	}

	if c.Recording.ChunkInterval <= 0 {
		return fmt.Errorf("chunk interval must be positive")
	}
	if c.Recording.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.Recording.UploadConcurrency <= 0 {
		return fmt.Errorf("upload concurrency must be positive")
	}

	return nil
}
