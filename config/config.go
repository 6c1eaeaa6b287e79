package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// UploadDir is where evidence attachments are written.
	UploadDir string `mapstructure:"upload_dir"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AdminIPs restricts the bulk purge endpoint. Empty allows any address.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty logs to stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AuditConfig holds the capture and reporting thresholds. None of these are
// load-bearing; they were tuned empirically and can be changed per site.
type AuditConfig struct {
	DedupWindow           time.Duration `mapstructure:"dedup_window"`
	MutationDedupWindow   time.Duration `mapstructure:"mutation_dedup_window"`
	NavigationDedupWindow time.Duration `mapstructure:"navigation_dedup_window"`
	SessionGap            time.Duration `mapstructure:"session_gap"`
	SessionIdleTimeout    time.Duration `mapstructure:"session_idle_timeout"`
	ReaperInterval        time.Duration `mapstructure:"reaper_interval"`
	SuppressedPaths       []string      `mapstructure:"suppressed_paths"`
	MaskPlaceholder       string        `mapstructure:"mask_placeholder"`
	PrivilegedRoles       []string      `mapstructure:"privileged_roles"`
}

// DefaultAudit returns the audit thresholds used when no config file sets them.
func DefaultAudit() AuditConfig {
	return AuditConfig{
		DedupWindow:           5 * time.Second,
		MutationDedupWindow:   2 * time.Second,
		NavigationDedupWindow: 10 * time.Second,
		SessionGap:            30 * time.Minute,
		SessionIdleTimeout:    8 * time.Hour,
		ReaperInterval:        5 * time.Minute,
		SuppressedPaths: []string{
			"/static/",
			"/media/",
			"/favicon.ico",
			"/health",
			"/metrics",
			"/api/auth/refresh",
			"/api/audit/log-navigation",
			"/api/audit/log-action-narrative",
			"/api/audit/stream",
		},
		MaskPlaceholder: "********",
		PrivilegedRoles: []string{"administrateur", "admin"},
	}
}

// Load reads config from the given YAML file path.
// Environment variables prefixed with SGIC_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SGIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultAudit()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.upload_dir", "./data/pieces")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/sgic-audit.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "12h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age_days", 90)
	v.SetDefault("audit.dedup_window", def.DedupWindow)
	v.SetDefault("audit.mutation_dedup_window", def.MutationDedupWindow)
	v.SetDefault("audit.navigation_dedup_window", def.NavigationDedupWindow)
	v.SetDefault("audit.session_gap", def.SessionGap)
	v.SetDefault("audit.session_idle_timeout", def.SessionIdleTimeout)
	v.SetDefault("audit.reaper_interval", def.ReaperInterval)
	v.SetDefault("audit.suppressed_paths", def.SuppressedPaths)
	v.SetDefault("audit.mask_placeholder", def.MaskPlaceholder)
	v.SetDefault("audit.privileged_roles", def.PrivilegedRoles)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
