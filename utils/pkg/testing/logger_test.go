package rewardstesting

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

// Subtests set DEBUG, so none run in parallel.
func TestSettlement_TestLogger_DebugLevels(t *testing.T) {
	for _, tt := range []struct {
		debug string
		level slog.Level
	}{
		{"", slog.LevelError},
		{"garbage", slog.LevelError},
		{"1", slog.LevelInfo},
		{"2", slog.LevelDebug},
		{"3", slog.LevelDebug},
	} {
		t.Run("DEBUG="+tt.debug, func(t *testing.T) {
			t.Setenv("DEBUG", tt.debug)
			log := NewLogger()
			require.True(t, log.Enabled(context.Background(), tt.level))
			require.False(t, log.Enabled(context.Background(), tt.level-1))
		})
	}
}
