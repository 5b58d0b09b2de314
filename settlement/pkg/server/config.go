package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/samu-project/rewards/settlement/pkg/audit"
	"github.com/samu-project/rewards/settlement/pkg/rewards"
	"golang.org/x/time/rate"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// StatsProvider serves the dashboard aggregates.
type StatsProvider interface {
	Stats(ctx context.Context) (*audit.Stats, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	Governor *rewards.Governor
	Engine   *rewards.Engine
	Store    rewards.Store
	// Stats is optional; /api/stats returns 404 without it.
	Stats       StatsProvider
	ReadyChecks map[string]ReadyCheck

	AllowedOrigins []string
	// RateLimit applies per client IP to the mutating routes.
	RateLimit rate.Limit
	RateBurst int
	// SignatureMaxAge bounds the age of a signed request timestamp.
	SignatureMaxAge time.Duration
	MaxBodyBytes    int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Governor == nil {
		return errors.New("governor is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(time.Minute / 60)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	if cfg.SignatureMaxAge <= 0 {
		cfg.SignatureMaxAge = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return nil
}
