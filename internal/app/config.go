package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/randevly/randevly/internal/database"
	"github.com/randevly/randevly/internal/scheduler"
	"github.com/randevly/randevly/pkg/mail"
	"github.com/randevly/randevly/pkg/sms"
)

// Config is the full application configuration, loaded from an optional
// YAML file and RANDEVLY_* environment variables. Environment values win.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      database.Config     `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	SMS           SMSConfig           `mapstructure:"sms"`
	Email         EmailConfig         `mapstructure:"email"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
}

// ServerConfig holds the HTTP listener options.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the host:port listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging options.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CacheConfig selects the backing store for shared counters.
type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the optional Redis connection. When disabled the
// database-backed store is used instead.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// NotificationsConfig tunes push delivery.
type NotificationsConfig struct {
	VAPID VAPIDConfig `mapstructure:"vapid"`

	TTLSeconds        int     `mapstructure:"ttl_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

// VAPIDConfig holds the Web Push signing key pair. Push delivery is
// disabled when the pair is absent.
type VAPIDConfig struct {
	Subscriber string `mapstructure:"subscriber"`
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
}

// SMSConfig holds the HTTP SMS gateway settings.
type SMSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	Sender  string        `mapstructure:"sender"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Settings converts to the sender's configuration type.
func (c SMSConfig) Settings() sms.GatewaySettings {
	return sms.GatewaySettings{
		Enabled: c.Enabled,
		APIURL:  c.APIURL,
		APIKey:  c.APIKey,
		Sender:  c.Sender,
		Timeout: c.Timeout,
	}
}

// EmailConfig wraps the SMTP settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds SMTP delivery settings.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Settings converts to the mailer's configuration type.
func (c SMTPConfig) Settings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.Enabled,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		UseTLS:   c.UseTLS,
		Timeout:  c.Timeout,
	}
}

// SchedulerConfig holds the cron specs for each job and the cleanup
// retention windows.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	ReminderSpec string `mapstructure:"reminder_spec"`
	RenewalSpec  string `mapstructure:"renewal_spec"`
	NoticeSpec   string `mapstructure:"notice_spec"`
	CleanupSpec  string `mapstructure:"cleanup_spec"`

	NotificationRetention time.Duration `mapstructure:"notification_retention"`
	UsageRetention        time.Duration `mapstructure:"usage_retention"`
	SubscriptionRetention time.Duration `mapstructure:"subscription_retention"`
	PaymentScrubAge       time.Duration `mapstructure:"payment_scrub_age"`
	PastDueCancelAge      time.Duration `mapstructure:"past_due_cancel_age"`
}

// CleanupConfig converts the retention windows to the cleanup job's type.
func (c SchedulerConfig) CleanupConfig() scheduler.CleanupConfig {
	return scheduler.CleanupConfig{
		NotificationRetention: c.NotificationRetention,
		UsageRetention:        c.UsageRetention,
		SubscriptionRetention: c.SubscriptionRetention,
		PaymentScrubAge:       c.PaymentScrubAge,
		PastDueCancelAge:      c.PastDueCancelAge,
	}
}

// LoadConfig reads configuration from the given file path (optional) and
// the environment.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix("RANDEVLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "randevly.db")

	v.SetDefault("cache.redis.enabled", false)

	v.SetDefault("notifications.ttl_seconds", 3600)
	v.SetDefault("notifications.requests_per_second", 50)
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.workers", 4)

	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.timeout", "10s")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reminder_spec", "*/15 * * * *")
	v.SetDefault("scheduler.renewal_spec", "0 3 * * *")
	v.SetDefault("scheduler.notice_spec", "0 9 * * *")
	v.SetDefault("scheduler.cleanup_spec", "0 4 * * 0")
}
