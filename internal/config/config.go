// Package config loads ledger engine settings from an optional YAML file,
// a .env file, and LEDGER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // calendar days must resolve in minimal containers

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/gerenciadorbet/ledger-engine/internal/model"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Cron   CronConfig   `mapstructure:"cron"`
	Admin  AdminConfig  `mapstructure:"admin"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	Output            string `mapstructure:"output"` // stdout, stderr or a file path
}

type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Brokers            string `mapstructure:"brokers"`
	TopicNotifications string `mapstructure:"topic_notifications"`
}

type CronConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Reconcile string `mapstructure:"reconcile"`
}

// AdminConfig holds the system-wide defaults for new users and data resets.
// Money values are strings so they reach decimal.Decimal without a float hop.
type AdminConfig struct {
	DefaultInitialBalance string `mapstructure:"default_initial_balance"`
	DefaultStopLoss       string `mapstructure:"default_stop_loss"`
	DefaultStopWin        string `mapstructure:"default_stop_win"`
	DefaultNotifications  bool   `mapstructure:"default_notifications"`
	DefaultTheme          string `mapstructure:"default_theme"`
}

// Load reads configuration. An empty path means environment only. A missing
// .env file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "5m")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic_notifications", "ledger_notifications")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.reconcile", "0 */15 * * * *")
	v.SetDefault("admin.default_initial_balance", "1000")
	v.SetDefault("admin.default_stop_loss", "300")
	v.SetDefault("admin.default_stop_win", "500")
	v.SetDefault("admin.default_notifications", true)
	v.SetDefault("admin.default_theme", "light")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Location resolves the calendar time zone used for day keys, goal windows
// and "today".
func (c Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid app.timezone %q: %w", c.App.Timezone, err)
	}
	return loc, nil
}

// Defaults parses the admin section into AdminDefaults.
func (a AdminConfig) Defaults() (model.AdminDefaults, error) {
	var d model.AdminDefaults
	fields := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"admin.default_initial_balance", a.DefaultInitialBalance, &d.InitialBalance},
		{"admin.default_stop_loss", a.DefaultStopLoss, &d.StopLoss},
		{"admin.default_stop_win", a.DefaultStopWin, &d.StopWin},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return d, fmt.Errorf("invalid %s %q: %w", f.key, f.raw, err)
		}
		*f.dst = v
	}
	if d.InitialBalance.IsNegative() {
		return d, fmt.Errorf("invalid admin.default_initial_balance: must not be negative")
	}
	if !d.StopLoss.IsPositive() || !d.StopWin.IsPositive() {
		return d, fmt.Errorf("invalid admin stop limits: must be positive")
	}

	d.NotificationsEnabled = a.DefaultNotifications
	switch theme := model.Theme(a.DefaultTheme); theme {
	case model.ThemeLight, model.ThemeDark:
		d.Theme = theme
	case "":
		d.Theme = model.ThemeLight
	default:
		return d, fmt.Errorf("invalid admin.default_theme %q", a.DefaultTheme)
	}
	return d, nil
}
