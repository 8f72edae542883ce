package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kai5263499/sentry-timelapse/internal/activity"
	"github.com/kai5263499/sentry-timelapse/internal/config"
	"github.com/kai5263499/sentry-timelapse/internal/health"
	"github.com/kai5263499/sentry-timelapse/internal/rate"
	"github.com/kai5263499/sentry-timelapse/internal/timelapse"
)

const preflightTimeout = 5 * time.Second

func loopOptions(name string, cfg *config.Config) timelapse.Options {
	return timelapse.Options{
		Name:               name,
		ComparisonDistance: cfg.Detection.ComparisonDistance,
		FallbackFPS:        cfg.Capture.FallbackFPS,
		Classifier: activity.Options{
			MinArea:         cfg.Detection.MinArea,
			DrawFaceBoxes:   cfg.Detection.FaceBoxes(),
			DrawMotionBoxes: cfg.Detection.MotionBoxes(),
			Motion: activity.MotionParams{
				DiffThreshold:    cfg.Detection.DiffThreshold,
				DilateIterations: cfg.Detection.Dilations(),
			},
		},
		Rate: rate.Config{
			FaceEventPeriod:   cfg.Rate.FaceEventPeriod,
			MotionEventPeriod: cfg.Rate.MotionEventPeriod,
		},
	}
}

// preflight logs whether a network source answers. Local devices and files
// are not checked.
func preflight(ctx context.Context, name, source string) {
	result := health.NewChecker(preflightTimeout).Check(ctx, source)
	if result.Skipped {
		return
	}
	if !result.OK() {
		log.Warn().
			Str("camera", name).
			Str("source", source).
			Str("host_error", result.HostError).
			Str("url_error", result.URLError).
			Msg("Capture source failed preflight")
		return
	}
	log.Info().Str("camera", name).Int64("response_time_ms", result.ResponseTime).Msg("Capture source reachable")
}

func endReason(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, timelapse.ErrCapture):
		return "capture failure"
	case errors.Is(err, timelapse.ErrOutput):
		return "output failure"
	case errors.Is(err, timelapse.ErrBufferNotReady):
		return "buffer not ready"
	}
	return "error"
}
