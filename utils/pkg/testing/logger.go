package rewardstesting

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns the logger used by tests. DEBUG selects the level: unset
// prints errors only, 1 adds info, 2 adds debug. Output is uncolored tint text
// so it reads like the service logs in CI.
func NewLogger() *slog.Logger {
	level := slog.LevelError
	if n, err := strconv.Atoi(os.Getenv("DEBUG")); err == nil {
		switch {
		case n >= 2:
			level = slog.LevelDebug
		case n == 1:
			level = slog.LevelInfo
		}
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		NoColor:    true,
		TimeFormat: time.TimeOnly,
	})).With("component", "test")
}
