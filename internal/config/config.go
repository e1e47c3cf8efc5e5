package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Database DBConfig      `mapstructure:"database"`
	Log      LogConfig     `mapstructure:"log"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Notify   NotifyConfig  `mapstructure:"notify"`
	Report   ReportConfig  `mapstructure:"report"`
}

type ServerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Port      int           `mapstructure:"port"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	Sampling          bool   `mapstructure:"sampling"`
}

type MonitorConfig struct {
	ConfigPath     string        `mapstructure:"config_path"`
	Policy         string        `mapstructure:"policy"`
	EnvPrefix      string        `mapstructure:"env_prefix"`
	EnvBlobVar     string        `mapstructure:"env_blob_var"`
	PrimaryKey     string        `mapstructure:"primary_key"`
	LegacyKey      string        `mapstructure:"legacy_key"`
	ThresholdKey   string        `mapstructure:"threshold_key"`
	CycleTimeout   time.Duration `mapstructure:"cycle_timeout"`
	EnrichTimeout  time.Duration `mapstructure:"enrich_timeout"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	ReloadSpec     string        `mapstructure:"reload_spec"`
	MetricURL      string        `mapstructure:"metric_url"`
	SeedThresholds bool          `mapstructure:"seed_thresholds"`
}

type NotifyConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

type SlackConfig struct {
	Token      string `mapstructure:"token"`
	Channel    string `mapstructure:"channel"`
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
}

type EmailConfig struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	From        string   `mapstructure:"from"`
	Password    string   `mapstructure:"password"`
	ToReceivers []string `mapstructure:"to_receivers"`
}

type WebhookConfig struct {
	SMSURL   string `mapstructure:"sms_url"`
	VoiceURL string `mapstructure:"voice_url"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ReportConfig struct {
	Spec   string        `mapstructure:"spec"`
	Window time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", 24*time.Hour)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/riskeye.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)

	v.SetDefault("monitor.config_path", "data/monitor_config.json")
	v.SetDefault("monitor.policy", "JSON_FIRST")
	v.SetDefault("monitor.env_prefix", "SONIC")
	v.SetDefault("monitor.env_blob_var", "SONIC_MONITOR_CONFIG_JSON")
	v.SetDefault("monitor.primary_key", "monitor_config")
	v.SetDefault("monitor.legacy_key", "sonic_monitor")
	v.SetDefault("monitor.threshold_key", "alert_thresholds")
	v.SetDefault("monitor.cycle_timeout", 2*time.Minute)
	v.SetDefault("monitor.enrich_timeout", 10*time.Second)
	v.SetDefault("monitor.notify_timeout", 15*time.Second)
	v.SetDefault("monitor.max_concurrency", 8)
	v.SetDefault("monitor.reload_spec", "@every 1m")
	v.SetDefault("monitor.metric_url", "")
	v.SetDefault("monitor.seed_thresholds", true)

	v.SetDefault("notify.slack.username", "riskeye")
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.kafka.topic", "riskeye.alerts")

	v.SetDefault("report.spec", "")
	v.SetDefault("report.window", 24*time.Hour)
}

// Load reads config.yaml from path (a file or a directory), then applies
// RISKEYE_* environment overrides. A default file is written when none exists.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RISKEYE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" && filepath.Ext(path) != "" {
		v.SetConfigFile(path)
	} else {
		if path == "" {
			path = "."
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if err := writeDefaults(v, path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
			}
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func writeDefaults(v *viper.Viper, path string) error {
	if err := os.MkdirAll("data", 0755); err != nil {
		return err
	}
	if filepath.Ext(path) != "" {
		return v.SafeWriteConfigAs(path)
	}
	return v.SafeWriteConfigAs(filepath.Join(path, "config.yaml"))
}
