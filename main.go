//go:build opencv

package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixge/fgprof"
	"github.com/rs/zerolog/log"

	_ "github.com/kai5263499/sentry-timelapse/docs" // Swagger docs
	"github.com/kai5263499/sentry-timelapse/internal/config"
	"github.com/kai5263499/sentry-timelapse/internal/journal"
	"github.com/kai5263499/sentry-timelapse/internal/logger"
	"github.com/kai5263499/sentry-timelapse/internal/server"
	"github.com/kai5263499/sentry-timelapse/internal/session"
)

// @title Sentry Timelapse API
// @version 0.1.0
// @description Status and event API for an activity-aware timelapse recorder

// @contact.name API Support
// @contact.url https://github.com/kai5263499/sentry-timelapse

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http

// @tag.name System
// @tag.description Capture loop status and liveness

// @tag.name Events
// @tag.description Motion and person events recorded in the journal

func main() {
	logger.Init("info", "console")

	configPath := os.Getenv("TIMELAPSE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	log.Info().Str("version", "0.1.0").Str("source", cfg.Capture.Source).Msg("Starting sentry-timelapse")

	if cfg.Server.ProfilingAddr != "" {
		go serveProfiling(cfg.Server.ProfilingAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Journal.Path).Msg("Failed to open journal")
		}
		defer j.Close()
	}

	sess, err := session.New(ctx, cfg, j)
	if err != nil {
		closeJournal(j)
		log.Fatal().Err(err).Msg("Failed to start capture session")
	}

	var apiServer *server.Server
	if cfg.Server.Enabled {
		var events server.EventLister
		if j != nil {
			events = j
		}
		apiServer = server.New(cfg.Server.Addr(), sess, events)
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("API server error")
			}
		}()
		log.Info().Str("url", "http://"+cfg.Server.Addr()+"/swagger/index.html").Msg("Swagger UI available")
	}

	runErr := sess.Run(ctx)

	log.Info().Str("recording", sess.Recording()).Msg("Shutting down gracefully...")
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Warn().Err(err).Msg("API server shutdown")
		}
	}

	if runErr != nil {
		closeJournal(j)
		log.Fatal().Err(runErr).Msg("Capture stopped")
	}
}

// closeJournal runs ahead of log.Fatal, which skips deferred calls.
func closeJournal(j *journal.Journal) {
	if err := j.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close journal")
	}
}

// loadConfig falls back to defaults and env overrides when the file is
// missing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		return config.Parse(nil)
	}
	return cfg, err
}

func serveProfiling(addr string) {
	log.Info().Str("addr", addr).Msg("Starting profiling server")
	log.Info().Str("pprof", "http://"+addr+"/debug/pprof").Msg("Standard pprof available")
	log.Info().Str("fgprof", "http://"+addr+"/debug/fgprof").Msg("Full goroutine profiler available")

	http.DefaultServeMux.Handle("/debug/fgprof", fgprof.Handler())

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Error().Err(err).Msg("Profiling server error")
	}
}
