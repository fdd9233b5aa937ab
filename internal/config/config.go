package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/gramorx/studybuddy-server/internal/model"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

// karachiOffset is used when the host has no tzdata for the default zone.
// Pakistan has not observed DST since 2009.
const karachiOffset = 5 * 60 * 60

type Config struct {
	Port              int    `env:"PORT" envDefault:"8080"`
	DatabaseURL       string `env:"DATABASE_URL,required"`
	RedisURL          string `env:"REDIS_URL"`
	JWTSecret         string `env:"JWT_SECRET,required"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	AutoMigrate       bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	LearningTimezone  string `env:"LEARNING_TIMEZONE" envDefault:"Asia/Karachi"`
	AnalyticsStream   string `env:"ANALYTICS_STREAM" envDefault:"analytics:study_buddy"`
	WeeklyGoalMinutes int    `env:"WEEKLY_GOAL_MINUTES" envDefault:"300"`
	StaleSessionHours int    `env:"STALE_SESSION_HOURS" envDefault:"24"`
	RateLimitPerMin   int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// Negative values mean unlimited.
	FreeDailyMinutes    int `env:"PLAN_FREE_DAILY_MINUTES" envDefault:"45"`
	StarterDailyMinutes int `env:"PLAN_STARTER_DAILY_MINUTES" envDefault:"180"`
	BoosterDailyMinutes int `env:"PLAN_BOOSTER_DAILY_MINUTES" envDefault:"-1"`
	MasterDailyMinutes  int `env:"PLAN_MASTER_DAILY_MINUTES" envDefault:"-1"`
	FreeDailyXPCap      int `env:"PLAN_FREE_DAILY_XP_CAP" envDefault:"180"`
	StarterDailyXPCap   int `env:"PLAN_STARTER_DAILY_XP_CAP" envDefault:"-1"`
	BoosterDailyXPCap   int `env:"PLAN_BOOSTER_DAILY_XP_CAP" envDefault:"-1"`
	MasterDailyXPCap    int `env:"PLAN_MASTER_DAILY_XP_CAP" envDefault:"-1"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) StaleSessionAge() time.Duration {
	return time.Duration(c.StaleSessionHours) * time.Hour
}

// Location resolves the reference timezone that anchors the learning day.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LearningTimezone)
	if err == nil {
		return loc
	}
	log.Warn().Err(err).Str("timezone", c.LearningTimezone).Msg("timezone not found, using fixed UTC+5")
	return time.FixedZone(c.LearningTimezone, karachiOffset)
}

func (c *Config) PlanPolicy() model.PlanPolicy {
	return model.PlanPolicy{
		DailyMinutes: map[model.PlanID]*int{
			model.PlanFree:    limit(c.FreeDailyMinutes),
			model.PlanStarter: limit(c.StarterDailyMinutes),
			model.PlanBooster: limit(c.BoosterDailyMinutes),
			model.PlanMaster:  limit(c.MasterDailyMinutes),
		},
		DailyXPCap: map[model.PlanID]*int{
			model.PlanFree:    limit(c.FreeDailyXPCap),
			model.PlanStarter: limit(c.StarterDailyXPCap),
			model.PlanBooster: limit(c.BoosterDailyXPCap),
			model.PlanMaster:  limit(c.MasterDailyXPCap),
		},
	}
}

func limit(v int) *int {
	if v < 0 {
		return nil
	}
	return &v
}

func (c *Config) Validate(isProduction bool) error {
	if _, err := time.LoadLocation(c.LearningTimezone); err != nil {
		log.Warn().Str("timezone", c.LearningTimezone).Msg("LEARNING_TIMEZONE not in tzdata")
	}
	if c.WeeklyGoalMinutes <= 0 {
		return fmt.Errorf("WEEKLY_GOAL_MINUTES must be positive")
	}
	if c.StaleSessionHours <= 0 {
		return fmt.Errorf("STALE_SESSION_HOURS must be positive")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: rate limits are per-instance and analytics are log-only")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
