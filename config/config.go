/*
Package config loads server configuration from the environment.

All variables take the CIVIC_ prefix, e.g. CIVIC_ADDR, CIVIC_DB_PATH.
Defaults are tuned for local development; production deployments override
through the environment only, there is no config file.
*/
package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Addr     string `envconfig:"ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH" default:"civic.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// CORSOrigins is the allow-list handed to the CORS middleware.
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`

	// SweepSchedule is a cron expression for the periodic achievement
	// sweep that catches accounts whose milestones were crossed by paths
	// that skip inline evaluation (admin adjustments, backfills).
	SweepEnabled  bool   `envconfig:"SWEEP_ENABLED" default:"true"`
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"@every 5m"`

	// SeedAchievements installs the default catalog on first boot.
	SeedAchievements bool `envconfig:"SEED_ACHIEVEMENTS" default:"true"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("civic", &c); err != nil {
		return nil, err
	}
	return &c, nil
}
