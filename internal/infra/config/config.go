package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App           AppSettings           `mapstructure:"app"`
	Postgres      PostgresSettings      `mapstructure:"postgres"`
	Redis         RedisSettings         `mapstructure:"redis"`
	Kafka         KafkaSettings         `mapstructure:"kafka"`
	Identity      IdentitySettings      `mapstructure:"identity"`
	Session       SessionSettings       `mapstructure:"session"`
	Authorization AuthorizationSettings `mapstructure:"authorization"`
	RateLimit     RateLimitSettings     `mapstructure:"rate_limit"`
	Retention     RetentionSettings     `mapstructure:"retention"`
	Restrictions  RestrictionSettings   `mapstructure:"restrictions"`
	Telemetry     TelemetrySettings     `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	MigrateOnStart    bool          `mapstructure:"migrate_on_start"`
}

// RedisSettings configures the Redis connection and TLS.
type RedisSettings struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	DB                 int           `mapstructure:"db"`
	Password           string        `mapstructure:"password"`
	TLSEnabled         bool          `mapstructure:"tls_enabled"`
	SessionCacheTTL    time.Duration `mapstructure:"session_cache_ttl"`
	ConfirmationTTL    time.Duration `mapstructure:"confirmation_ttl"`
	ConfirmationPrefix string        `mapstructure:"confirmation_prefix"`
}

// KafkaSettings configures the security event producer.
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

// IdentitySettings configures verification of identity-provider tokens.
type IdentitySettings struct {
	SharedSecret string `mapstructure:"shared_secret"`
	Issuer       string `mapstructure:"issuer"`
}

// SessionSettings tunes session lifecycle.
type SessionSettings struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	StandardTTL     time.Duration `mapstructure:"standard_ttl"`
	ElevatedTTL     time.Duration `mapstructure:"elevated_ttl"`
	ExtensionWindow time.Duration `mapstructure:"extension_window"`
}

// AuthorizationSettings tunes the decision engine.
type AuthorizationSettings struct {
	ReauthWindow    time.Duration `mapstructure:"reauth_window"`
	DecisionTimeout time.Duration `mapstructure:"decision_timeout"`
}

// RateLimitSettings configures the failed-attempt budgets, the lockout
// policy, and the transport-level sliding window.
type RateLimitSettings struct {
	Window              time.Duration `mapstructure:"window"`
	PrincipalBudget     int           `mapstructure:"principal_budget"`
	OriginBudget        int           `mapstructure:"origin_budget"`
	LockoutThreshold    int           `mapstructure:"lockout_threshold"`
	LockoutDuration     time.Duration `mapstructure:"lockout_duration"`
	HTTPWindow          time.Duration `mapstructure:"http_window"`
	HTTPMaxPerOrigin    int           `mapstructure:"http_max_per_origin"`
	HTTPMaxPerPrincipal int           `mapstructure:"http_max_per_principal"`
	IncidentsPerMin     float64       `mapstructure:"incidents_per_min"`
	IncidentBurstSize   int           `mapstructure:"incident_burst_size"`
}

// RetentionSettings tunes deletion scheduling and the hygiene sweep.
type RetentionSettings struct {
	GracePeriod   time.Duration `mapstructure:"grace_period"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RestrictionSettings configures the soft restriction overlay.
type RestrictionSettings struct {
	BusinessHoursStart    int      `mapstructure:"business_hours_start"`
	BusinessHoursEnd      int      `mapstructure:"business_hours_end"`
	BusinessHoursEnforced bool     `mapstructure:"business_hours_enforced"`
	FlaggedOrigins        []string `mapstructure:"flagged_origins"`
	FlaggedEnforced       bool     `mapstructure:"flagged_enforced"`
	ConcurrentThreshold   int      `mapstructure:"concurrent_threshold"`
	ConcurrentEnforced    bool     `mapstructure:"concurrent_enforced"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("MEDREC")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.migrate_on_start",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.session_cache_ttl",
		"redis.confirmation_ttl",
		"redis.confirmation_prefix",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"identity.shared_secret",
		"identity.issuer",
		"session.max_concurrent",
		"session.standard_ttl",
		"session.elevated_ttl",
		"session.extension_window",
		"authorization.reauth_window",
		"authorization.decision_timeout",
		"rate_limit.window",
		"rate_limit.principal_budget",
		"rate_limit.origin_budget",
		"rate_limit.lockout_threshold",
		"rate_limit.lockout_duration",
		"rate_limit.http_window",
		"rate_limit.http_max_per_origin",
		"rate_limit.http_max_per_principal",
		"rate_limit.incidents_per_min",
		"rate_limit.incident_burst_size",
		"retention.grace_period",
		"retention.sweep_interval",
		"restrictions.business_hours_start",
		"restrictions.business_hours_end",
		"restrictions.business_hours_enforced",
		"restrictions.flagged_origins",
		"restrictions.flagged_enforced",
		"restrictions.concurrent_threshold",
		"restrictions.concurrent_enforced",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "medrecord-access")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "medrecord")
	v.SetDefault("postgres.password", "medrecord_password")
	v.SetDefault("postgres.database", "medrecord")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.migrate_on_start", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.session_cache_ttl", "30s")
	v.SetDefault("redis.confirmation_ttl", "5m")
	v.SetDefault("redis.confirmation_prefix", "medrec:deletion_confirm")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "medrec")

	v.SetDefault("identity.shared_secret", "")
	v.SetDefault("identity.issuer", "medrecord-identity")

	v.SetDefault("session.max_concurrent", 3)
	v.SetDefault("session.standard_ttl", "15m")
	v.SetDefault("session.elevated_ttl", "5m")
	v.SetDefault("session.extension_window", "5m")

	v.SetDefault("authorization.reauth_window", "5m")
	v.SetDefault("authorization.decision_timeout", "5s")

	v.SetDefault("rate_limit.window", "1h")
	v.SetDefault("rate_limit.principal_budget", 20)
	v.SetDefault("rate_limit.origin_budget", 50)
	v.SetDefault("rate_limit.lockout_threshold", 5)
	v.SetDefault("rate_limit.lockout_duration", "30m")
	v.SetDefault("rate_limit.http_window", "1m")
	v.SetDefault("rate_limit.http_max_per_origin", 120)
	v.SetDefault("rate_limit.http_max_per_principal", 60)
	v.SetDefault("rate_limit.incidents_per_min", 6.0)
	v.SetDefault("rate_limit.incident_burst_size", 10)

	v.SetDefault("retention.grace_period", "720h")
	v.SetDefault("retention.sweep_interval", "1h")

	v.SetDefault("restrictions.business_hours_start", 7)
	v.SetDefault("restrictions.business_hours_end", 22)
	v.SetDefault("restrictions.business_hours_enforced", false)
	v.SetDefault("restrictions.flagged_origins", []string{})
	v.SetDefault("restrictions.flagged_enforced", true)
	v.SetDefault("restrictions.concurrent_threshold", 3)
	v.SetDefault("restrictions.concurrent_enforced", false)

	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "medrecord-access")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "MEDREC_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
