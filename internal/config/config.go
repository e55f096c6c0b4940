// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

const (
	defaultPrivateKey   = "88888888888888888888888888888888"
	defaultIdentitySalt = "visitlens-development-salt"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`
	ExportsDirectory      string `mapstructure:"exportsdir"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Ingestion settings
	IdentitySalt      string  `mapstructure:"identitysalt"`
	HeatmapEnabled    bool    `mapstructure:"heatmapenabled"`
	HeatmapSampleRate float64 `mapstructure:"heatmapsamplerate"`

	// Admin API
	AdminAPIKeyHash string `mapstructure:"adminapikeyhash"`
	DashboardURL    string `mapstructure:"dashboardurl"`

	// Reports
	ReportsTimezone string `mapstructure:"reportstimezone"`

	// Email delivery
	SMTPHost     string `mapstructure:"smtphost"`
	SMTPPort     int    `mapstructure:"smtpport"`
	SMTPUsername string `mapstructure:"smtpusername"`
	SMTPPassword string `mapstructure:"smtppassword"`
	SMTPFrom     string `mapstructure:"smtpfrom"`

	AlertWebhookURL string `mapstructure:"alertwebhookurl"`

	// Warehouse (ClickHouse)
	ClickHouseAddr     string `mapstructure:"clickhouseaddr"`
	ClickHouseDatabase string `mapstructure:"clickhousedatabase"`
	ClickHouseUsername string `mapstructure:"clickhouseusername"`
	ClickHousePassword string `mapstructure:"clickhousepassword"`
	ClickHouseTable    string `mapstructure:"clickhousetable"`

	// Job scheduling settings
	ReportSweepIntervalSeconds int `mapstructure:"reportsweepintervalseconds"`
	AlertIntervalSeconds       int `mapstructure:"alertintervalseconds"`
	FunnelIntervalSeconds      int `mapstructure:"funnelintervalseconds"`
	AlertCooldownMinutes       int `mapstructure:"alertcooldownminutes"`
	ExportRetentionDays        int `mapstructure:"exportretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "visitlens")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "")
		v.SetDefault("publicdir", "web/dist")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("exportsdir", "storage/exports")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("identitysalt", defaultIdentitySalt)
		v.SetDefault("heatmapenabled", true)
		v.SetDefault("heatmapsamplerate", 0.1)
		v.SetDefault("dashboardurl", "http://localhost:3000/admin")
		v.SetDefault("reportstimezone", "UTC")
		v.SetDefault("smtpport", 587)
		v.SetDefault("clickhousedatabase", "default")
		v.SetDefault("clickhouseusername", "default")
		v.SetDefault("clickhousetable", "visitlens_exports")
		v.SetDefault("reportsweepintervalseconds", 60)
		v.SetDefault("alertintervalseconds", 900)
		v.SetDefault("funnelintervalseconds", 3600)
		v.SetDefault("alertcooldownminutes", 60)
		v.SetDefault("exportretentiondays", 30)

		v.BindEnv("appname", "VISITLENS_APP_NAME")
		v.BindEnv("appport", "VISITLENS_APP_PORT")
		v.BindEnv("environment", "VISITLENS_ENV")
		v.BindEnv("loglevel", "VISITLENS_LOG_LEVEL")
		v.BindEnv("privatekey", "VISITLENS_PRIVATE_KEY")
		v.BindEnv("storagepath", "VISITLENS_STORAGE_PATH")
		v.BindEnv("geodbpath", "VISITLENS_GEO_DB_PATH")
		v.BindEnv("publicdir", "VISITLENS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "VISITLENS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("exportsdir", "VISITLENS_EXPORTS_DIR")
		v.BindEnv("logsdir", "VISITLENS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "VISITLENS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "VISITLENS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "VISITLENS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "VISITLENS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "VISITLENS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "VISITLENS_DB_MAX_IDLE_CONNS")
		v.BindEnv("identitysalt", "VISITLENS_IDENTITY_SALT")
		v.BindEnv("heatmapenabled", "VISITLENS_HEATMAP_ENABLED")
		v.BindEnv("heatmapsamplerate", "VISITLENS_HEATMAP_SAMPLE_RATE")
		v.BindEnv("adminapikeyhash", "VISITLENS_ADMIN_API_KEY_HASH")
		v.BindEnv("dashboardurl", "VISITLENS_DASHBOARD_URL")
		v.BindEnv("reportstimezone", "VISITLENS_REPORTS_TIMEZONE")
		v.BindEnv("smtphost", "VISITLENS_SMTP_HOST")
		v.BindEnv("smtpport", "VISITLENS_SMTP_PORT")
		v.BindEnv("smtpusername", "VISITLENS_SMTP_USERNAME")
		v.BindEnv("smtppassword", "VISITLENS_SMTP_PASSWORD")
		v.BindEnv("smtpfrom", "VISITLENS_SMTP_FROM")
		v.BindEnv("alertwebhookurl", "VISITLENS_ALERT_WEBHOOK_URL")
		v.BindEnv("clickhouseaddr", "VISITLENS_CLICKHOUSE_ADDR")
		v.BindEnv("clickhousedatabase", "VISITLENS_CLICKHOUSE_DATABASE")
		v.BindEnv("clickhouseusername", "VISITLENS_CLICKHOUSE_USERNAME")
		v.BindEnv("clickhousepassword", "VISITLENS_CLICKHOUSE_PASSWORD")
		v.BindEnv("clickhousetable", "VISITLENS_CLICKHOUSE_TABLE")
		v.BindEnv("reportsweepintervalseconds", "VISITLENS_REPORT_SWEEP_INTERVAL_SECONDS")
		v.BindEnv("alertintervalseconds", "VISITLENS_ALERT_INTERVAL_SECONDS")
		v.BindEnv("funnelintervalseconds", "VISITLENS_FUNNEL_INTERVAL_SECONDS")
		v.BindEnv("alertcooldownminutes", "VISITLENS_ALERT_COOLDOWN_MINUTES")
		v.BindEnv("exportretentiondays", "VISITLENS_EXPORT_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultPrivateKey {
			log.Fatal("Production requires a unique VISITLENS_PRIVATE_KEY (cannot use default)")
		}
		if cfg.IsProduction() && (cfg.IdentitySalt == "" || cfg.IdentitySalt == defaultIdentitySalt) {
			log.Fatal("Production requires a unique VISITLENS_IDENTITY_SALT (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.HeatmapSampleRate < 0 || c.HeatmapSampleRate > 1 {
		return fmt.Errorf("heatmap sample rate must be within [0, 1], got %v", c.HeatmapSampleRate)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// WarehouseConfigured reports whether ClickHouse credentials are present.
func (c *Config) WarehouseConfigured() bool {
	return c.ClickHouseAddr != ""
}

// EmailConfigured reports whether an SMTP relay is configured.
func (c *Config) EmailConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (concurrent reads for the summary queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
