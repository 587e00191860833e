// Command voicepilot runs the voice command front-end: it captures
// microphone audio, streams it to the recognition backend, speaks the
// replies, and exposes a local control API for UIs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mylee04/voicepilot/internal/app"
	"github.com/mylee04/voicepilot/internal/config"
	"github.com/mylee04/voicepilot/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.Service.LogLevel, Format: cfg.Service.LogFormat})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Assembling application failed")
	}
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Starting application failed")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	application.Shutdown(ctx)
}
