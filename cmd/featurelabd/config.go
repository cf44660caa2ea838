package main

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Service  string `env:"APP_SERVICE" envDefault:"featurelabd"`
	LogLevel string `env:"LOG_LEVEL"`

	CatalogPath string `env:"CATALOG_PATH"`

	RedisEnabled      bool   `env:"REDIS_ENABLED" envDefault:"false"`
	AssignmentBackend string `env:"ASSIGNMENT_BACKEND" envDefault:"postgres"`
	EventBackend      string `env:"EVENT_BACKEND" envDefault:"postgres"`

	AssignmentCacheSize int `env:"ASSIGNMENT_CACHE_SIZE" envDefault:"10000"`

	RefreshInterval time.Duration `env:"STATS_REFRESH_INTERVAL" envDefault:"1m"`
	DetectWinners   bool          `env:"STATS_DETECT_WINNERS" envDefault:"false"`
	MinParticipants int64         `env:"STATS_MIN_PARTICIPANTS" envDefault:"100"`
	ConversionEvent string        `env:"STATS_CONVERSION_EVENT" envDefault:"conversion"`

	ReadinessTimeout time.Duration `env:"READINESS_TIMEOUT" envDefault:"2s"`
}

var (
	assignmentBackends = []string{"postgres", "redis"}
	eventBackends      = []string{"postgres", "mongo"}
)

// validate rejects settings that env parsing accepts but the service cannot run with.
func (c appConfig) validate() error {
	if !slices.Contains(assignmentBackends, c.AssignmentBackend) {
		return fmt.Errorf("ASSIGNMENT_BACKEND=%q: want one of %v", c.AssignmentBackend, assignmentBackends)
	}
	if !slices.Contains(eventBackends, c.EventBackend) {
		return fmt.Errorf("EVENT_BACKEND=%q: want one of %v", c.EventBackend, eventBackends)
	}
	if c.AssignmentBackend == "redis" && !c.RedisEnabled {
		return errors.New("ASSIGNMENT_BACKEND=redis requires REDIS_ENABLED=true")
	}
	return nil
}
