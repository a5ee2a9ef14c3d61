// Package config loads the expenses service configuration.
//
// Values start from Default, are overlaid by an optional YAML file (named by
// CELERIX_EXPENSES_CONFIG or the --config flag), and finally by environment
// variables, so a deployment can keep secrets out of the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigEnvVar names the environment variable holding the YAML file path.
const ConfigEnvVar = "CELERIX_EXPENSES_CONFIG"

// Backend names accepted by Store.Backend.
const (
	BackendMemory   = "memory"
	BackendDisk     = "disk"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
)

// Config is the master configuration for the daemon and CLI.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Store      StoreConfig      `yaml:"store"`
	Auth       AuthConfig       `yaml:"auth"`
	Repository RepositoryConfig `yaml:"repository"`
	Intake     IntakeConfig     `yaml:"intake"`
	Mail       MailConfig       `yaml:"mail"`
	Log        LogConfig        `yaml:"log"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Port       string `yaml:"port"`
	PublicURL  string `yaml:"public_url"` // base for blob URLs served by the daemon
	CORSOrigin string `yaml:"cors_origin"`
	TLS        bool   `yaml:"tls"` // serve HTTPS with a generated self-signed certificate
	StaticDir  string `yaml:"static_dir"`
}

// StoreConfig selects and configures the blob store backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	DataDir  string         `yaml:"data_dir"`
	S3       S3Config       `yaml:"s3"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PublicURL       string `yaml:"public_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// AuthConfig configures admin login and session tokens.
type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"`
	PasswordHash  string        `yaml:"password_hash"` // sha256 hex or bcrypt
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

// RepositoryConfig bounds repository reads.
type RepositoryConfig struct {
	FetchBudget     time.Duration `yaml:"fetch_budget"`
	FetchWorkers    int           `yaml:"fetch_workers"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
}

// IntakeConfig limits submission payloads.
type IntakeConfig struct {
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
	MaxReceiptBytes int64 `yaml:"max_receipt_bytes"`
}

// MailConfig configures SMTP notifications. An empty Host disables email.
type MailConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	From            string   `yaml:"from"`
	AdminRecipients []string `yaml:"admin_recipients"`
	ContactAddress  string   `yaml:"contact_address"`
	Organization    string   `yaml:"organization"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// NewLogger builds the process logger writing to w.
// Unknown levels fall back to info and unknown formats to JSON.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Default returns a Config with development defaults.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:      "7003",
			PublicURL: "http://localhost:7003",
		},
		Store: StoreConfig{
			Backend: BackendDisk,
			DataDir: "./data",
			S3:      S3Config{Region: "us-east-1"},
			Postgres: PostgresConfig{
				Table: "expense_blobs",
			},
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Repository: RepositoryConfig{
			FetchBudget:     8 * time.Second,
			FetchWorkers:    8,
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Intake: IntakeConfig{
			MaxBodyBytes:    100 << 20,
			MaxReceiptBytes: 15 << 20,
		},
		Mail: MailConfig{
			Port:         587,
			Organization: "Celerix",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by CELERIX_EXPENSES_CONFIG when set, then applies
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(ConfigEnvVar))
}

// LoadFile loads path (skipped when empty) over the defaults, then applies
// environment overrides and validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. The unprefixed names are the ones
// earlier deployments of the service were configured with.
func (c *Config) applyEnv() error {
	setString(&c.HTTP.Port, "PORT")
	setString(&c.HTTP.Port, "CELERIX_HTTP_PORT")
	setString(&c.HTTP.PublicURL, "CELERIX_PUBLIC_URL")
	setString(&c.HTTP.CORSOrigin, "CORS_ORIGIN")
	setString(&c.HTTP.StaticDir, "CELERIX_STATIC_DIR")
	if v := os.Getenv("CELERIX_DISABLE_TLS"); v != "" {
		c.HTTP.TLS = v != "true"
	}

	setString(&c.Store.Backend, "CELERIX_STORE_BACKEND")
	setString(&c.Store.DataDir, "CELERIX_DATA_DIR")
	setString(&c.Store.S3.Bucket, "S3_BUCKET")
	setString(&c.Store.S3.Region, "AWS_REGION")
	setString(&c.Store.S3.Prefix, "S3_PREFIX")
	setString(&c.Store.S3.Endpoint, "AWS_ENDPOINT_URL")
	setString(&c.Store.S3.PublicURL, "S3_PUBLIC_URL")
	setString(&c.Store.Postgres.URL, "DATABASE_URL")
	setString(&c.Store.Postgres.Table, "CELERIX_BLOB_TABLE")

	setString(&c.Auth.SessionSecret, "ADMIN_SESSION_SECRET")
	setString(&c.Auth.PasswordHash, "ADMIN_PASSWORD_HASH")

	setString(&c.Mail.Host, "SMTP_HOST")
	setString(&c.Mail.Username, "SMTP_USERNAME")
	setString(&c.Mail.Password, "SMTP_PASSWORD")
	setString(&c.Mail.From, "MAIL_FROM")
	if v := os.Getenv("MAIL_ADMIN_RECIPIENTS"); v != "" {
		c.Mail.AdminRecipients = splitList(v)
	}

	setString(&c.Log.Level, "CELERIX_LOG_LEVEL")
	setString(&c.Log.Format, "CELERIX_LOG_FORMAT")

	var errs []error
	if err := setInt(&c.Mail.Port, "SMTP_PORT"); err != nil {
		errs = append(errs, err)
	}
	if err := setInt(&c.Repository.FetchWorkers, "CELERIX_FETCH_WORKERS"); err != nil {
		errs = append(errs, err)
	}
	if err := setDuration(&c.Repository.FetchBudget, "CELERIX_FETCH_BUDGET"); err != nil {
		errs = append(errs, err)
	}
	if err := setDuration(&c.Auth.TokenTTL, "ADMIN_TOKEN_TTL"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendDisk:
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			return errors.New("config: store.s3.bucket is required for the s3 backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.URL == "" {
			return errors.New("config: store.postgres.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Repository.FetchBudget <= 0 {
		return errors.New("config: repository.fetch_budget must be positive")
	}
	if c.Repository.FetchWorkers <= 0 {
		return errors.New("config: repository.fetch_workers must be positive")
	}
	if c.Repository.MaxPageSize <= 0 || c.Repository.DefaultPageSize <= 0 {
		return errors.New("config: repository page sizes must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	return nil
}

// MailEnabled reports whether SMTP notifications are configured.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != "" && c.Mail.From != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
