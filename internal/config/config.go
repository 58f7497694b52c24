// Package config loads runtime settings from AAES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/aaes/internal/export"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Enhancement service
	ServiceURL     string
	RequestTimeout time.Duration

	// Local control server
	Port        int
	PreviewFade time.Duration // fade applied when a preview is paused or switched
	ICEServers  []string

	// Export
	ExportDir    string
	ExportFormat string
	S3Bucket     string // empty disables the S3 sink
	S3Prefix     string
	S3Region     string
	S3Endpoint   string // MinIO/LocalStack
	S3AccessKey  string
	S3SecretKey  string

	// Processing reports
	ReportCSV    string   // empty disables the CSV sink
	KafkaBrokers []string // empty disables the Kafka sink
	KafkaTopic   string

	// Logging
	LogLevel  string
	LogFormat string // text or json

	// Stub service
	StubPort int
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		ServiceURL:     envStr("AAES_SERVICE_URL", "http://127.0.0.1:5000"),
		RequestTimeout: envSeconds("AAES_REQUEST_TIMEOUT", 120),

		Port:        envInt("AAES_PORT", 8080),
		PreviewFade: time.Duration(envInt("AAES_PREVIEW_FADE_MS", 150)) * time.Millisecond,
		ICEServers:  envList("AAES_ICE_SERVERS"),

		ExportDir:    envStr("AAES_EXPORT_DIR", "."),
		ExportFormat: envStr("AAES_EXPORT_FORMAT", "wav"),
		S3Bucket:     envStr("AAES_S3_BUCKET", ""),
		S3Prefix:     envStr("AAES_S3_PREFIX", "exports/"),
		S3Region:     envStr("AAES_S3_REGION", "us-east-1"),
		S3Endpoint:   envStr("AAES_S3_ENDPOINT", ""),
		S3AccessKey:  envStr("AAES_S3_ACCESS_KEY", ""),
		S3SecretKey:  envStr("AAES_S3_SECRET_KEY", ""),

		ReportCSV:    envStr("AAES_REPORT_CSV", ""),
		KafkaBrokers: envList("AAES_KAFKA_BROKERS"),
		KafkaTopic:   envStr("AAES_KAFKA_TOPIC", "aaes.reports"),

		LogLevel:  envStr("AAES_LOG_LEVEL", "info"),
		LogFormat: envStr("AAES_LOG_FORMAT", "text"),

		StubPort: envInt("AAES_STUB_PORT", 5000),
	}
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("service url %q: must be an absolute http(s) URL", c.ServiceURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout %v: must be positive", c.RequestTimeout))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d: out of range", c.Port))
	}
	if c.StubPort <= 0 || c.StubPort > 65535 {
		errs = append(errs, fmt.Errorf("stub port %d: out of range", c.StubPort))
	}
	if _, err := export.ParseFormat(c.ExportFormat); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format %q: want text or json", c.LogFormat))
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		errs = append(errs, errors.New("s3 access key and secret key must be set together"))
	}
	return errors.Join(errs...)
}

// S3Enabled reports whether exports are also uploaded to S3.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// KafkaEnabled reports whether reports are published to Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
