package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/observability/logging"
)

// LogSynthesizer prints announcements instead of speaking them, pacing
// itself roughly like real speech so focus timing stays realistic. It is
// the default when no TTS endpoint is configured.
type LogSynthesizer struct {
	logger zerolog.Logger

	// PerWord controls the simulated speaking pace. Zero means no delay.
	PerWord time.Duration
}

// NewLogSynthesizer creates a print-only synthesizer.
func NewLogSynthesizer() *LogSynthesizer {
	return &LogSynthesizer{
		logger:  logging.WithComponent("playback"),
		PerWord: 150 * time.Millisecond,
	}
}

// Speak logs the announcement and simulates its duration.
func (s *LogSynthesizer) Speak(ctx context.Context, text string) error {
	s.logger.Info().Str("text", text).Msg("Speaking")
	if s.PerWord <= 0 {
		return nil
	}
	words := 1 + countSpaces(text)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(words) * s.PerWord):
		return nil
	}
}

func countSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r == ' ' {
			n++
		}
	}
	return n
}
