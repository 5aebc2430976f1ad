package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	ServiceName  string             `mapstructure:"service_name"`
	Port         string             `mapstructure:"port"`
	AdminToken   string             `mapstructure:"admin_token"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Epayco       EpaycoConfig       `mapstructure:"epayco"`
	ThreeDS      ThreeDSConfig      `mapstructure:"threeds"`
	Scan         ScanConfig         `mapstructure:"scan"`
	Sweep        SweepConfig        `mapstructure:"sweep"`
	Entitlement  EntitlementConfig  `mapstructure:"entitlement"`
	Notification NotificationConfig `mapstructure:"notification"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EpaycoConfig holds the credentials used both to query transactions and to
// verify confirmation signatures.
type EpaycoConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	CustomerID   string        `mapstructure:"customer_id"`
	PKey         string        `mapstructure:"p_key"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type ThreeDSConfig struct {
	UnauthenticatedWindow time.Duration `mapstructure:"unauthenticated_window"`
	AuthenticatedWindow   time.Duration `mapstructure:"authenticated_window"`
}

type ScanConfig struct {
	MinAge    time.Duration `mapstructure:"min_age"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	BatchSize int           `mapstructure:"batch_size"`
	ItemDelay time.Duration `mapstructure:"item_delay"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	LockName  string        `mapstructure:"lock_name"`
	Cron      string        `mapstructure:"cron"`
}

type SweepConfig struct {
	Ceiling time.Duration `mapstructure:"ceiling"`
	Cron    string        `mapstructure:"cron"`
}

type EntitlementConfig struct {
	URL         string        `mapstructure:"url"`
	DefaultDays int           `mapstructure:"default_days"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Cron        string        `mapstructure:"cron"`
	BatchSize   int           `mapstructure:"batch_size"`
	ClaimLease  time.Duration `mapstructure:"claim_lease"`
}

type NotificationConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]any{
	"service_name": "payment-reconciler",
	"port":         "8081",
	"admin_token":  "",

	"telemetry.enabled":       false,
	"telemetry.otel_endpoint": "localhost:4317",

	"database.driver":         "sqlite",
	"database.dsn":            "file:reconciler.db?_busy_timeout=5000&_journal_mode=WAL",
	"database.max_open_conns": 10,

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"epayco.api_url":       "https://secure.epayco.co",
	"epayco.customer_id":   "",
	"epayco.p_key":         "",
	"epayco.query_timeout": 8 * time.Second,

	"threeds.unauthenticated_window": 6 * time.Minute,
	"threeds.authenticated_window":   3 * time.Minute,

	"scan.min_age":    10 * time.Minute,
	"scan.max_age":    24 * time.Hour,
	"scan.batch_size": 100,
	"scan.item_delay": 500 * time.Millisecond,
	"scan.lock_ttl":   30 * time.Minute,
	"scan.lock_name":  "payment-reconciler:stuck-scan",
	"scan.cron":       "0 */5 * * * *",

	"sweep.ceiling": 24 * time.Hour,
	"sweep.cron":    "0 15 * * * *",

	"entitlement.url":          "",
	"entitlement.default_days": 30,
	"entitlement.timeout":      5 * time.Second,
	"entitlement.cron":         "30 */2 * * * *",
	"entitlement.batch_size":   50,
	"entitlement.claim_lease":  time.Minute,

	"notification.url":     "",
	"notification.timeout": 5 * time.Second,
}

// Load loads configuration from defaults, an optional YAML file and
// environment variables, in increasing precedence. Nested keys map to
// upper-case env names with dots replaced: scan.min_age <- SCAN_MIN_AGE.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The standard OTel variable also sets the endpoint.
	_ = v.BindEnv("telemetry.otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
