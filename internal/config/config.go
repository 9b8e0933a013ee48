package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Retention RetentionConfig `yaml:"retention"`
	Auth      AuthConfig      `yaml:"auth"`
	Audit     AuditConfig     `yaml:"audit"`
}

type AppConfig struct {
	Port            string        `yaml:"port"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

// DSN returns a connection URL for pgx scoped to the order_service schema.
func (p PostgresConfig) DSN() string {
	return p.connURL(url.Values{"search_path": []string{"order_service"}})
}

// URL returns the connection as a postgres URL, as expected by lib/pq.
func (p PostgresConfig) URL() string {
	return p.connURL(url.Values{})
}

// connURL escapes credentials and database name, so passwords may contain any character.
func (p PostgresConfig) connURL(params url.Values) string {
	params.Set("sslmode", p.SSLMode)
	return (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.DBName,
		RawQuery: params.Encode(),
	}).String()
}

type CatalogConfig struct {
	// DSN of the catalog database. Empty means the orders database.
	DSN string `yaml:"dsn"`
}

type PricingConfig struct {
	// ExtraSurcharge is a decimal amount, e.g. "0.50".
	ExtraSurcharge string `yaml:"extra_surcharge"`
}

type RetentionConfig struct {
	Window       time.Duration `yaml:"window"`
	Interval     time.Duration `yaml:"interval"`
	TerminalOnly bool          `yaml:"terminal_only"`
	BatchSize    int           `yaml:"batch_size"`
}

type AuthConfig struct {
	CustomerSecret string `yaml:"customer_secret"`
	StaffSecret    string `yaml:"staff_secret"`
}

type AuditConfig struct {
	// Postgres enables the admin_logs sink.
	Postgres     bool     `yaml:"postgres"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Port = "8080"
	cfg.App.LogLevel = "info"
	cfg.App.ShutdownTimeout = 15 * time.Second
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Pricing.ExtraSurcharge = "0.50"
	cfg.Retention.Window = 30 * 24 * time.Hour
	cfg.Retention.Interval = 24 * time.Hour
	cfg.Audit.Postgres = true
	cfg.Audit.KafkaTopic = "order-audit"
	return cfg
}

// NewConfig loads .env (if present), then the YAML file named by CONFIG_PATH (if set), then
// applies environment variables on top.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	setString(&c.App.Port, "APP_PORT")
	setString(&c.App.LogLevel, "LOG_LEVEL")
	errs = append(errs, setDuration(&c.App.ShutdownTimeout, "APP_SHUTDOWN_TIMEOUT"))

	setString(&c.Postgres.Host, "DB_HOST")
	setString(&c.Postgres.Port, "DB_PORT")
	setString(&c.Postgres.User, "DB_USER")
	setString(&c.Postgres.Password, "DB_PASSWORD")
	setString(&c.Postgres.DBName, "DB_NAME")
	setString(&c.Postgres.SSLMode, "DB_SSLMODE")
	errs = append(errs,
		setInt32(&c.Postgres.MaxConns, "DB_MAX_CONNS"),
		setInt32(&c.Postgres.MinConns, "DB_MIN_CONNS"),
		setDuration(&c.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"),
	)

	setString(&c.Catalog.DSN, "CATALOG_DSN")
	setString(&c.Pricing.ExtraSurcharge, "PRICING_EXTRA_SURCHARGE")

	errs = append(errs,
		setDuration(&c.Retention.Window, "RETENTION_WINDOW"),
		setDuration(&c.Retention.Interval, "RETENTION_INTERVAL"),
		setBool(&c.Retention.TerminalOnly, "RETENTION_TERMINAL_ONLY"),
		setInt(&c.Retention.BatchSize, "RETENTION_BATCH_SIZE"),
	)

	setString(&c.Auth.CustomerSecret, "AUTH_CUSTOMER_SECRET")
	setString(&c.Auth.StaffSecret, "AUTH_STAFF_SECRET")

	errs = append(errs, setBool(&c.Audit.Postgres, "AUDIT_POSTGRES"))
	if v, ok := os.LookupEnv("AUDIT_KAFKA_BROKERS"); ok {
		c.Audit.KafkaBrokers = splitList(v)
	}
	setString(&c.Audit.KafkaTopic, "AUDIT_KAFKA_TOPIC")

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	var errs []error

	required := map[string]string{
		"DB_HOST":              c.Postgres.Host,
		"DB_PORT":              c.Postgres.Port,
		"DB_USER":              c.Postgres.User,
		"DB_PASSWORD":          c.Postgres.Password,
		"DB_NAME":              c.Postgres.DBName,
		"AUTH_CUSTOMER_SECRET": c.Auth.CustomerSecret,
		"AUTH_STAFF_SECRET":    c.Auth.StaffSecret,
	}
	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "AUTH_CUSTOMER_SECRET", "AUTH_STAFF_SECRET"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	surcharge, err := decimal.NewFromString(c.Pricing.ExtraSurcharge)
	if err != nil {
		errs = append(errs, fmt.Errorf("PRICING_EXTRA_SURCHARGE: %w", err))
	} else if surcharge.IsNegative() {
		errs = append(errs, fmt.Errorf("PRICING_EXTRA_SURCHARGE must be non-negative, got %s", surcharge))
	}

	if c.Retention.Window <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_WINDOW must be positive, got %s", c.Retention.Window))
	}
	if c.Retention.Interval <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_INTERVAL must be positive, got %s", c.Retention.Interval))
	}
	if c.Retention.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("RETENTION_BATCH_SIZE must be non-negative, got %d", c.Retention.BatchSize))
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Audit.KafkaTopic == "" {
		errs = append(errs, errors.New("AUDIT_KAFKA_TOPIC is required when AUDIT_KAFKA_BROKERS is set"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = int32(n)
	return nil
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
