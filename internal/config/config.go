package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "GALLERY"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "gallery.db"
	defaultLogLevel       = "info"
	defaultStoreDriver    = StoreDriverSQLite
	defaultStoreTimeout   = 5 * time.Second
	defaultRedisAddress   = "127.0.0.1:6379"
	defaultBlobDriver     = BlobDriverFilesystem
	defaultBlobDirectory  = "blobs"
	defaultBlobServePath  = "/blobs"
	defaultHeartbeat      = 25 * time.Second
	defaultLogMaxSizeMB   = 100
	defaultLogMaxBackups  = 3
	defaultLogMaxAgeDays  = 28
	defaultMetricsEnabled = true
)

// Record store drivers.
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"
)

// Blob store drivers.
const (
	BlobDriverFilesystem = "filesystem"
	BlobDriverOSS        = "oss"
)

// LogConfig describes log level and optional rotating file output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// RedisConfig holds connection settings for the redis record store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// OSSConfig holds Aliyun OSS bucket settings for the oss blob driver.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	AdminSecret       string
	AdminSecretHash   string
	Log               LogConfig
	StoreDriver       string
	StoreTimeout      time.Duration
	DatabasePath      string
	Redis             RedisConfig
	BlobDriver        string
	BlobPublicBaseURL string
	BlobDirectory     string
	BlobServePath     string
	OSS               OSSConfig
	MetricsEnabled    bool
	RealtimeHeartbeat time.Duration
}

// AdminConfigured reports whether any admin credential is configured.
func (c AppConfig) AdminConfigured() bool {
	return strings.TrimSpace(c.AdminSecret) != "" || strings.TrimSpace(c.AdminSecretHash) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("admin.secret", "")
	configViper.SetDefault("admin.secret_hash", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("log.compress", true)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("store.timeout", defaultStoreTimeout)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("blob.driver", defaultBlobDriver)
	configViper.SetDefault("blob.public_base_url", "")
	configViper.SetDefault("blob.directory", defaultBlobDirectory)
	configViper.SetDefault("blob.serve_path", defaultBlobServePath)
	configViper.SetDefault("oss.endpoint", "")
	configViper.SetDefault("oss.access_key_id", "")
	configViper.SetDefault("oss.access_key_secret", "")
	configViper.SetDefault("oss.bucket", "")
	configViper.SetDefault("metrics.enabled", defaultMetricsEnabled)
	configViper.SetDefault("realtime.heartbeat", defaultHeartbeat)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		AdminSecret:     configViper.GetString("admin.secret"),
		AdminSecretHash: configViper.GetString("admin.secret_hash"),
		Log: LogConfig{
			Level:      configViper.GetString("log.level"),
			File:       configViper.GetString("log.file"),
			MaxSizeMB:  configViper.GetInt("log.max_size_mb"),
			MaxBackups: configViper.GetInt("log.max_backups"),
			MaxAgeDays: configViper.GetInt("log.max_age_days"),
			Compress:   configViper.GetBool("log.compress"),
		},
		StoreDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		StoreTimeout: configViper.GetDuration("store.timeout"),
		DatabasePath: configViper.GetString("database.path"),
		Redis: RedisConfig{
			Address:  configViper.GetString("redis.address"),
			Password: configViper.GetString("redis.password"),
			DB:       configViper.GetInt("redis.db"),
		},
		BlobDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("blob.driver"))),
		BlobPublicBaseURL: strings.TrimSpace(configViper.GetString("blob.public_base_url")),
		BlobDirectory:     configViper.GetString("blob.directory"),
		BlobServePath:     configViper.GetString("blob.serve_path"),
		OSS: OSSConfig{
			Endpoint:        configViper.GetString("oss.endpoint"),
			AccessKeyID:     configViper.GetString("oss.access_key_id"),
			AccessKeySecret: configViper.GetString("oss.access_key_secret"),
			Bucket:          configViper.GetString("oss.bucket"),
		},
		MetricsEnabled:    configViper.GetBool("metrics.enabled"),
		RealtimeHeartbeat: configViper.GetDuration("realtime.heartbeat"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}
	if c.RealtimeHeartbeat <= 0 {
		return fmt.Errorf("realtime.heartbeat must be positive")
	}

	switch c.StoreDriver {
	case StoreDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StoreDriverRedis:
		if strings.TrimSpace(c.Redis.Address) == "" {
			return fmt.Errorf("redis.address is required")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", c.StoreDriver)
	}

	switch c.BlobDriver {
	case BlobDriverFilesystem:
		if strings.TrimSpace(c.BlobDirectory) == "" {
			return fmt.Errorf("blob.directory is required")
		}
	case BlobDriverOSS:
		if strings.TrimSpace(c.OSS.Endpoint) == "" {
			return fmt.Errorf("oss.endpoint is required")
		}
		if strings.TrimSpace(c.OSS.Bucket) == "" {
			return fmt.Errorf("oss.bucket is required")
		}
		if strings.TrimSpace(c.OSS.AccessKeyID) == "" || strings.TrimSpace(c.OSS.AccessKeySecret) == "" {
			return fmt.Errorf("oss.access_key_id and oss.access_key_secret are required")
		}
	default:
		return fmt.Errorf("unsupported blob.driver %q", c.BlobDriver)
	}
	return nil
}
