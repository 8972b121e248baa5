package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the alerting daemon.
type Config struct {
	PRTG       PRTGConfig
	WhatsApp   WhatsAppConfig
	Email      EmailConfig
	Monitoring MonitoringConfig
	Kafka      KafkaConfig
	HTTP       HTTPConfig
	Dispatch   DispatchConfig
	Log        LogConfig
}

// PRTGConfig points at the monitoring server that is polled.
type PRTGConfig struct {
	URL      string
	Username string
	Password string
	// InsecureTLS skips certificate verification; PRTG often runs with a self-signed cert.
	InsecureTLS  bool
	FetchTimeout time.Duration
}

// WhatsAppConfig configures the push gateway.
type WhatsAppConfig struct {
	APIURL      string
	Recipients  []string
	CountryCode string
	Timeout     time.Duration
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	SMTPServer string
	SMTPPort   int
	Sender     string
	Password   string
	Recipients []string
}

// MonitoringConfig drives the poll loop and the state store.
type MonitoringConfig struct {
	CheckInterval    time.Duration
	ErrorBackoff     time.Duration
	FailureThreshold int
	ShutdownTimeout  time.Duration
	DatabaseFile     string
}

// KafkaConfig configures the optional notification event stream.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Producer ProducerConfig
}

// ProducerConfig holds kafka writer tuning.
type ProducerConfig struct {
	PoolSize     int
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Compression  string
	MaxRetries   int
	RetryBackoff time.Duration
}

// HTTPConfig configures the status API. An empty Addr disables it.
type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

// DispatchConfig sizes the notification worker pool.
type DispatchConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string
	File  string
}

// Configuration errors
var (
	ErrMissingPRTGURL   = errors.New("PRTG_URL is required")
	ErrInvalidInterval  = errors.New("CHECK_INTERVAL must be positive")
	ErrInvalidThreshold = errors.New("FAILURE_THRESHOLD must be positive")
)

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		PRTG: PRTGConfig{
			InsecureTLS:  true,
			FetchTimeout: 30 * time.Second,
		},
		WhatsApp: WhatsAppConfig{
			APIURL:      "http://localhost:3000",
			CountryCode: "91",
			Timeout:     15 * time.Second,
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Monitoring: MonitoringConfig{
			CheckInterval:    60 * time.Second,
			ErrorBackoff:     30 * time.Second,
			FailureThreshold: 5,
			ShutdownTimeout:  10 * time.Second,
			DatabaseFile:     "prtg_alerts.db",
		},
		Kafka: KafkaConfig{
			Topic: "prtg-alerts",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Dispatch: DispatchConfig{
			Workers:     4,
			QueueSize:   256,
			SendTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			File:  "prtg_alerts.log",
		},
	}
}

// Load reads optional .env files and overlays environment variables on Default.
// Missing files are not an error; variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := Default()
	var errs []error
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(dst *[]string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = splitList(v)
		}
	}
	integer := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(&cfg.PRTG.URL, "PRTG_URL")
	str(&cfg.PRTG.Username, "PRTG_USERNAME")
	str(&cfg.PRTG.Password, "PRTG_PASSWORD")
	boolean(&cfg.PRTG.InsecureTLS, "PRTG_INSECURE_TLS")
	duration(&cfg.PRTG.FetchTimeout, "PRTG_FETCH_TIMEOUT")

	str(&cfg.WhatsApp.APIURL, "WHATSAPP_API_URL")
	list(&cfg.WhatsApp.Recipients, "WHATSAPP_RECIPIENTS")
	str(&cfg.WhatsApp.CountryCode, "WHATSAPP_COUNTRY_CODE")
	duration(&cfg.WhatsApp.Timeout, "WHATSAPP_TIMEOUT")

	str(&cfg.Email.SMTPServer, "SMTP_SERVER")
	integer(&cfg.Email.SMTPPort, "SMTP_PORT")
	str(&cfg.Email.Sender, "SMTP_SENDER")
	str(&cfg.Email.Password, "SMTP_PASSWORD")
	list(&cfg.Email.Recipients, "EMAIL_RECIPIENTS")

	duration(&cfg.Monitoring.CheckInterval, "CHECK_INTERVAL")
	duration(&cfg.Monitoring.ErrorBackoff, "ERROR_BACKOFF")
	integer(&cfg.Monitoring.FailureThreshold, "FAILURE_THRESHOLD")
	duration(&cfg.Monitoring.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	str(&cfg.Monitoring.DatabaseFile, "DATABASE_FILE")

	list(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	str(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	str(&cfg.Kafka.Producer.Compression, "KAFKA_COMPRESSION")
	integer(&cfg.Kafka.Producer.MaxRetries, "KAFKA_MAX_RETRIES")

	str(&cfg.HTTP.Addr, "HTTP_ADDR")
	list(&cfg.HTTP.AllowedOrigins, "CORS_ORIGINS")

	integer(&cfg.Dispatch.Workers, "DISPATCH_WORKERS")
	integer(&cfg.Dispatch.QueueSize, "DISPATCH_QUEUE_SIZE")
	duration(&cfg.Dispatch.SendTimeout, "DISPATCH_SEND_TIMEOUT")

	str(&cfg.Log.Level, "LOG_LEVEL")
	str(&cfg.Log.File, "LOG_FILE")

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks the settings the poll loop cannot run without.
func (c *Config) Validate() error {
	if c.PRTG.URL == "" {
		return ErrMissingPRTGURL
	}
	if c.Monitoring.CheckInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.Monitoring.FailureThreshold <= 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// PushEnabled reports whether any push recipient is configured.
func (c *Config) PushEnabled() bool {
	return c.WhatsApp.APIURL != "" && len(c.WhatsApp.Recipients) > 0
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.Email.SMTPServer != "" && c.Email.Sender != "" && len(c.Email.Recipients) > 0
}

// KafkaEnabled reports whether the event stream is configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Kafka.Topic != ""
}

// ParseDuration accepts Go duration syntax or a bare number of seconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
