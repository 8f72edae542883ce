package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// countdown gives the camera time to settle before the first frame is read.
// It returns false if ctx was cancelled first.
func countdown(ctx context.Context, seconds int, tick time.Duration) bool {
	if seconds <= 0 {
		return true
	}

	t := time.NewTicker(tick)
	defer t.Stop()

	for remaining := seconds; remaining > 0; remaining-- {
		log.Info().Int("remaining", remaining).Msgf("Starting video in %d...", remaining)
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
	return true
}
