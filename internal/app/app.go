// Package app assembles the voicepilot process: it builds every subsystem
// from configuration, wires them into the session controller, and owns
// their lifetimes.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/mylee04/voicepilot/internal/api/control"
	"github.com/mylee04/voicepilot/internal/automation"
	"github.com/mylee04/voicepilot/internal/capture"
	"github.com/mylee04/voicepilot/internal/capture/mock"
	"github.com/mylee04/voicepilot/internal/codec"
	"github.com/mylee04/voicepilot/internal/config"
	"github.com/mylee04/voicepilot/internal/events"
	"github.com/mylee04/voicepilot/internal/observability"
	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/playback"
	"github.com/mylee04/voicepilot/internal/session"
	"github.com/mylee04/voicepilot/internal/transport"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Controller *session.Controller
	Feed       *control.Feed

	publisher     *events.Publisher
	obsServer     *observability.Server
	controlServer *http.Server
}

// New constructs the full application from configuration.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.publisher = events.New(&events.Config{
		Enabled:          cfg.Kafka.Enabled,
		Brokers:          cfg.Kafka.Brokers,
		TopicTranscripts: cfg.Kafka.TopicTranscript,
		TopicLifecycle:   cfg.Kafka.TopicLifecycle,
		Source:           cfg.Kafka.Principal,
	})

	a.Feed = control.NewFeed()
	notifier := session.Multi(events.NewNotifier(a.publisher), a.Feed)

	a.Controller = session.NewController(session.Config{
		MaxQueuedFinals: cfg.Session.MaxQueuedFinals,
		HistorySize:     cfg.Session.HistorySize,
	}, automation.NewLogForwarder(), notifier)

	channel, err := a.buildCapture()
	if err != nil {
		a.publisher.Close()
		return nil, err
	}

	link := transport.NewLink(transport.Config{
		BackendURL:        cfg.Transport.BackendURL,
		DialTimeout:       cfg.Transport.DialTimeout,
		WriteTimeout:      cfg.Transport.DialTimeout,
		KeepAliveInterval: cfg.Transport.KeepAliveInterval,
		ReconnectUnit:     cfg.Transport.ReconnectUnit,
		ReconnectMax:      cfg.Transport.ReconnectMaxDelay,
		ReconnectCeiling:  cfg.Transport.ReconnectCeiling,
	}, a.Controller.LinkHandler())

	queue := playback.NewQueue(playback.Config{
		DedupWindow: cfg.Playback.DedupWindow,
		Watchdog:    cfg.Playback.WatchdogTimeout,
		ErrorPause:  cfg.Playback.ErrorPause,
	}, a.buildSynthesizer(), a.Controller.PlaybackListener())

	a.Controller.Bind(channel, link, queue)

	// Not ready while an active session has lost its backend link.
	a.obsServer = observability.NewServer(cfg.Service.MetricsAddr, func() bool {
		snap := a.Controller.Snapshot()
		return !snap.Running || snap.State != session.StateReconnecting.String()
	})
	a.controlServer = &http.Server{
		Addr:        cfg.Service.ControlAddr,
		Handler:     control.NewRouter(a.Controller, a.Feed),
		ReadTimeout: 5 * time.Second,
		// No write timeout: the event feed holds its connection open.
	}

	a.Logger.Info().Msg("Application assembled")
	return a, nil
}

// Start launches the HTTP surfaces. The voice session itself starts on
// demand through the control API.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.obsServer.Start()

	go func() {
		a.Logger.Info().Str("addr", a.controlServer.Addr).Msg("Control API listening")
		if err := a.controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error().Err(err).Msg("Control API server failed")
		}
	}()

	a.Logger.Info().Time("startupTime", a.StartupTime).Msg("voicepilot started")
	return nil
}

// Shutdown stops the session and drains the HTTP surfaces.
func (a *Application) Shutdown(ctx context.Context) {
	a.Controller.Stop()
	a.controlServer.Shutdown(ctx)
	a.obsServer.Shutdown(ctx)
	a.publisher.Close()
	a.Logger.Info().Msg("voicepilot stopped")
}

func (a *Application) buildCapture() (*capture.Channel, error) {
	cfg := a.Cfg

	var device capture.Device
	switch cfg.Capture.Device {
	case "mock":
		device = &mock.Device{ReadDelay: cfg.Capture.FrameInterval}
	default:
		device = capture.NewPortAudioDevice()
	}

	encoder, err := codec.New(cfg.Capture.Codec, cfg.Capture.SampleRateHz)
	if err != nil {
		return nil, err
	}

	var archive *capture.Archive
	if cfg.Archive.Enabled {
		archive, err = capture.NewArchive(afero.NewOsFs(), cfg.Archive.Dir, uuid.NewString(), cfg.Capture.SampleRateHz)
		if err != nil {
			return nil, err
		}
	}

	return capture.NewChannel(capture.Config{
		SampleRateHz:  cfg.Capture.SampleRateHz,
		FrameInterval: cfg.Capture.FrameInterval,
		ChunkInterval: cfg.Capture.ChunkInterval,
		VADThreshold:  cfg.Capture.VADThreshold,
		VADHangover:   cfg.Capture.VADHangover,
	}, device, encoder, a.Controller.CaptureSink(), archive), nil
}

func (a *Application) buildSynthesizer() playback.Synthesizer {
	if a.Cfg.Playback.TTSEndpoint == "" {
		return playback.NewLogSynthesizer()
	}
	return playback.NewHTTPSynthesizer(a.Cfg.Playback.TTSEndpoint)
}
