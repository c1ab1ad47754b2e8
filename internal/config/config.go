package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/orsched/orsched/internal/domain/booking"
	"github.com/orsched/orsched/internal/platform/guard"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	JWTIssuer   string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	Timezone              string        `mapstructure:"TIMEZONE"`
	PriorityFile          string        `mapstructure:"PRIORITY_FILE"`
	WriteGuard            string        `mapstructure:"WRITE_GUARD"`
	WriteGuardTTL         time.Duration `mapstructure:"WRITE_GUARD_TTL"`
	NoonCutoffHour        int           `mapstructure:"NOON_CUTOFF_HOUR"`
	AdvanceWindowDays     int           `mapstructure:"ADVANCE_WINDOW_DAYS"`
	ModificationLeadHours int           `mapstructure:"MODIFICATION_LEAD_HOURS"`
	FallbackContact       string        `mapstructure:"FALLBACK_CONTACT"`

	NotifyRedisStream   string `mapstructure:"NOTIFY_REDIS_STREAM"`
	NotifyWebhookURL    string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string `mapstructure:"NOTIFY_WEBHOOK_SECRET"`
	MQTTBrokerURL       string `mapstructure:"MQTT_BROKER_URL"`
	MQTTTopicPrefix     string `mapstructure:"MQTT_TOPIC_PREFIX"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS",
	"TIMEZONE", "PRIORITY_FILE", "WRITE_GUARD", "WRITE_GUARD_TTL",
	"NOON_CUTOFF_HOUR", "ADVANCE_WINDOW_DAYS", "MODIFICATION_LEAD_HOURS", "FALLBACK_CONTACT",
	"NOTIFY_REDIS_STREAM", "NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_SECRET",
	"MQTT_BROKER_URL", "MQTT_TOPIC_PREFIX",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "orsched")
	v.SetDefault("TIMEZONE", "Asia/Manila")
	v.SetDefault("WRITE_GUARD", guard.ModeLocal)
	v.SetDefault("WRITE_GUARD_TTL", "10s")
	v.SetDefault("NOON_CUTOFF_HOUR", 12)
	v.SetDefault("ADVANCE_WINDOW_DAYS", 14)
	v.SetDefault("MODIFICATION_LEAD_HOURS", 24)
	v.SetDefault("FALLBACK_CONTACT", "the OR scheduling office")
	v.SetDefault("MQTT_TOPIC_PREFIX", "orsched/rooms")

	// Unmarshal only sees keys viper already knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().Msg("running in development mode: every request is treated as an administrator")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE. It is the hospital's wall clock and decides
// what "today" and "noon" mean.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Policy builds the booking window policy from the configured limits.
func (c *Config) Policy() (booking.Policy, error) {
	loc, err := c.Location()
	if err != nil {
		return booking.Policy{}, err
	}
	p := booking.DefaultPolicy()
	p.Location = loc
	if c.NoonCutoffHour != 0 {
		p.CutoffHour = c.NoonCutoffHour
	}
	if c.AdvanceWindowDays != 0 {
		p.AdvanceDays = c.AdvanceWindowDays
	}
	if c.ModificationLeadHours != 0 {
		p.ModificationLead = time.Duration(c.ModificationLeadHours) * time.Hour
	}
	if c.FallbackContact != "" {
		p.FallbackContact = c.FallbackContact
	}
	return p, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development (ENV=%q)", c.Env)
	}

	switch c.WriteGuard {
	case guard.ModeNone, guard.ModeLocal, guard.ModeAdvisory, guard.ModeRedis:
	default:
		return fmt.Errorf("WRITE_GUARD must be one of none, local, advisory or redis, got %q", c.WriteGuard)
	}
	if c.WriteGuard == guard.ModeRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when WRITE_GUARD is redis")
	}
	if c.NotifyRedisStream != "" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when NOTIFY_REDIS_STREAM is set")
	}
	if c.NotifyWebhookURL != "" && c.NotifyWebhookSecret == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_SECRET is required when NOTIFY_WEBHOOK_URL is set")
	}

	if c.NoonCutoffHour < 0 || c.NoonCutoffHour > 23 {
		return fmt.Errorf("NOON_CUTOFF_HOUR must be between 0 and 23, got %d", c.NoonCutoffHour)
	}
	if c.AdvanceWindowDays < 0 {
		return fmt.Errorf("ADVANCE_WINDOW_DAYS must not be negative, got %d", c.AdvanceWindowDays)
	}
	if c.ModificationLeadHours < 0 {
		return fmt.Errorf("MODIFICATION_LEAD_HOURS must not be negative, got %d", c.ModificationLeadHours)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
