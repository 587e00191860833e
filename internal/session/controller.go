package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/automation"
	"github.com/mylee04/voicepilot/internal/capture"
	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/observability/metrics"
	"github.com/mylee04/voicepilot/internal/playback"
	"github.com/mylee04/voicepilot/internal/transport"
)

// Capture is the slice of the capture channel the controller drives.
type Capture interface {
	Start() error
	Pause()
	Resume()
	Stop()
}

// Link is the slice of the transport link the controller drives.
type Link interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	SendStop(reason string) error
	Close()
	SetSessionID(id string)
}

// Announcer is the slice of the playback queue the controller drives.
type Announcer interface {
	Start()
	Enqueue(text string) bool
	Clear()
	Idle() bool
	Depth() int
	Stop()
}

// Notifier receives session events for UIs and telemetry. Calls come from
// the controller's event loop; implementations must not block.
type Notifier interface {
	SessionStarted(sessionID string)
	SessionEnded(sessionID, reason string)
	StateChanged(sessionID string, from, to State)
	InterimTranscript(sessionID, text string, confidence float64)
	FinalTranscript(sessionID, text string, confidence float64)
	AssistantReply(sessionID, text string)
	SessionError(sessionID string, err error)
}

// NopNotifier ignores every event.
type NopNotifier struct{}

func (NopNotifier) SessionStarted(string)                     {}
func (NopNotifier) SessionEnded(string, string)               {}
func (NopNotifier) StateChanged(string, State, State)         {}
func (NopNotifier) InterimTranscript(string, string, float64) {}
func (NopNotifier) FinalTranscript(string, string, float64)   {}
func (NopNotifier) AssistantReply(string, string)             {}
func (NopNotifier) SessionError(string, error)                {}

// Config holds controller tuning.
type Config struct {
	// MaxQueuedFinals bounds how many replies can wait behind the one
	// currently being spoken.
	MaxQueuedFinals int

	// HistorySize bounds the conversation log.
	HistorySize int
}

// Controller runs the session state machine. All transitions happen on one
// event-loop goroutine fed by subsystem callbacks.
type Controller struct {
	cfg       Config
	capture   Capture
	link      Link
	announcer Announcer
	forwarder automation.Forwarder
	notifier  Notifier
	logger    zerolog.Logger

	state       atomic.Int32
	voiceActive atomic.Bool
	reconnects  atomic.Int32
	history     *History

	mu          sync.Mutex
	running     bool
	sessionID   string
	startedAt   time.Time
	lastInterim string
	events      chan any
	loopDone    chan struct{}

	// loop-owned, untouched outside the event loop
	awaitingReply bool
}

// NewController creates a controller. Bind must be called before Start.
func NewController(cfg Config, forwarder automation.Forwarder, notifier Notifier) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if forwarder == nil {
		forwarder = automation.NewLogForwarder()
	}
	return &Controller{
		cfg:       cfg,
		forwarder: forwarder,
		notifier:  notifier,
		logger:    logging.WithComponent("session"),
		history:   NewHistory(cfg.HistorySize),
	}
}

// Bind wires the subsystems. Called once during assembly, before Start.
func (c *Controller) Bind(cap Capture, link Link, announcer Announcer) {
	c.capture = cap
	c.link = link
	c.announcer = announcer
}

// CaptureSink returns the capture callback adapter.
func (c *Controller) CaptureSink() capture.Sink { return captureSink{c} }

// LinkHandler returns the transport callback adapter.
func (c *Controller) LinkHandler() transport.Handler { return linkHandler{c} }

// PlaybackListener returns the playback callback adapter.
func (c *Controller) PlaybackListener() playback.Listener { return playbackListener{c} }

// Start acquires the microphone, connects to the backend, and launches the
// event loop. It fails without side effects when any resource cannot be
// acquired, and with ErrAlreadyRunning while a session is live.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.sessionID = uuid.NewString()
	c.startedAt = time.Now()
	c.events = make(chan any, 256)
	c.loopDone = make(chan struct{})
	sessionID := c.sessionID
	c.mu.Unlock()

	c.history.Clear()
	c.awaitingReply = false
	c.state.Store(int32(StateIdle))
	c.link.SetSessionID(sessionID)

	logger := logging.WithSession("session", sessionID)
	logger.Info().Msg("Starting session")
	c.transition(StateListening)

	if err := c.capture.Start(); err != nil {
		c.abortStart()
		return fmt.Errorf("starting capture: %w", err)
	}
	if err := c.link.Connect(ctx); err != nil {
		c.capture.Stop()
		c.abortStart()
		return fmt.Errorf("connecting to backend: %w", err)
	}
	c.announcer.Start()

	metrics.Default.RecordSessionStart()
	c.notifier.SessionStarted(sessionID)

	go c.loop()
	return nil
}

func (c *Controller) abortStart() {
	c.transition(StateIdle)
	c.mu.Lock()
	c.running = false
	close(c.loopDone)
	c.mu.Unlock()
}

// Stop ends the session and releases every resource: microphone, backend
// connection, and playback. Idempotent; a Stop on an idle controller does
// nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	events := c.events
	loopDone := c.loopDone
	c.mu.Unlock()

	done := make(chan struct{})
	select {
	case events <- evStop{reason: "user_stop", done: done}:
		select {
		case <-done:
		case <-loopDone:
		}
	case <-loopDone:
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// History returns the conversation log.
func (c *Controller) History() *History {
	return c.history
}

// Snapshot is a point-in-time view of the session for status reporting.
type Snapshot struct {
	Running           bool      `json:"running"`
	State             string    `json:"state"`
	SessionID         string    `json:"session_id,omitempty"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	VoiceActive       bool      `json:"voice_active"`
	ReconnectAttempts int       `json:"reconnect_attempts,omitempty"`
	Interim           string    `json:"interim,omitempty"`
	QueueDepth        int       `json:"queue_depth"`
	Turns             int       `json:"turns"`
}

// Snapshot reports current session status.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	running := c.running
	sessionID := c.sessionID
	startedAt := c.startedAt
	interim := c.lastInterim
	c.mu.Unlock()

	snap := Snapshot{
		Running:           running,
		State:             c.State().String(),
		VoiceActive:       c.voiceActive.Load(),
		ReconnectAttempts: int(c.reconnects.Load()),
		Turns:             c.history.Len(),
	}
	if running {
		snap.SessionID = sessionID
		snap.StartedAt = startedAt
		snap.Interim = interim
		snap.QueueDepth = c.announcer.Depth()
	}
	return snap
}

// post delivers an event to the loop without ever blocking a subsystem
// goroutine. Events are dropped when the loop cannot keep up or has left.
func (c *Controller) post(ev any) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
		c.logger.Warn().Type("event", ev).Msg("Event loop saturated, dropping event")
	}
}

func (c *Controller) loop() {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()

	for ev := range events {
		switch ev := ev.(type) {
		case evStop:
			c.teardown(ev.reason)
			close(ev.done)
			return
		case evCaptureError:
			c.logger.Error().Err(ev.err).Msg("Capture failed, ending session")
			c.notifySessionError(ev.err)
			c.teardown("capture_error")
			return
		case evTransportError:
			if terminal := c.handleTransportError(ev.err); terminal {
				return
			}
		case evLinkClosed:
			if c.State() != StateIdle {
				c.teardown("link_closed")
				return
			}
		case evChunk:
			c.handleChunk(ev.chunk)
		case evVoiceActivity:
			c.voiceActive.Store(ev.activity.Active)
		case evConnected:
			c.handleConnected()
		case evTranscript:
			c.handleTranscript(ev.ev)
		case evReady:
			c.handleReady()
		case evReconnecting:
			c.handleReconnecting(ev.attempt)
		case evFocusAcquired:
			c.handleFocusAcquired()
		case evFocusReleased:
			c.handleFocusReleased()
		}
	}
}

// handleChunk routes audio to the link. Transmission happens only while
// streaming with playback idle; everything else drops the chunk on the
// floor, never into a buffer.
func (c *Controller) handleChunk(chunk capture.Chunk) {
	if c.State() != StateStreaming || !c.announcer.Idle() {
		metrics.Default.RecordChunkDropped("not_streaming")
		return
	}
	if err := c.link.Send(chunk.Data); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		c.logger.Debug().Err(err).Uint64("seq", chunk.Seq).Msg("Chunk send failed")
	}
}

func (c *Controller) handleConnected() {
	c.reconnects.Store(0)
	switch c.State() {
	case StateListening:
		c.transition(StateStreaming)
	case StateReconnecting:
		c.capture.Resume()
		c.transition(StateStreaming)
	}
}

func (c *Controller) handleTranscript(t transport.TranscriptEvent) {
	sessionID := c.currentSessionID()

	if !t.IsFinal {
		if t.Transcript == "" {
			return
		}
		metrics.Default.TranscriptsPartial.Inc()
		c.setInterim(t.Transcript)
		c.notifier.InterimTranscript(sessionID, t.Transcript, t.Confidence)
		return
	}

	metrics.Default.TranscriptsFinal.Inc()
	c.setInterim("")
	c.history.Add(RoleUser, t.Transcript, t.Confidence)
	c.notifier.FinalTranscript(sessionID, t.Transcript, t.Confidence)

	if err := c.forwarder.Forward(context.Background(), automation.Command{
		SessionID:  sessionID,
		Transcript: t.Transcript,
		Confidence: t.Confidence,
		Response:   t.AIResponse,
		Action:     t.Action,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Command forwarding failed")
	}

	switch {
	case t.AIResponse != "":
		c.handleReply(t.AIResponse)
	case t.Processing:
		c.awaitingReply = true
		if c.State() == StateStreaming {
			c.transition(StateProcessing)
		}
	}
}

// handleReply queues the assistant reply for playback. A suppressed
// duplicate behaves as if no reply arrived: streaming resumes directly.
func (c *Controller) handleReply(text string) {
	sessionID := c.currentSessionID()
	c.awaitingReply = false
	c.history.Add(RoleAssistant, text, 0)
	c.notifier.AssistantReply(sessionID, text)

	if c.announcer.Depth() >= c.cfg.MaxQueuedFinals {
		c.logger.Warn().Int("depth", c.announcer.Depth()).Msg("Announcement queue full, dropping reply audio")
		return
	}

	if !c.announcer.Enqueue(text) {
		if c.State() == StateProcessing {
			c.transition(StateStreaming)
		}
		return
	}
	// The focus-acquired callback moves us to speaking.
}

func (c *Controller) handleReady() {
	c.awaitingReply = false
	switch c.State() {
	case StateProcessing:
		c.transition(StateStreaming)
	case StateStreaming:
		// Duplicate ready signal; already streaming.
	case StateSpeaking:
		// Streaming resumes when playback focus is released.
	}
}

func (c *Controller) handleReconnecting(attempt int) {
	st := c.State()
	if st == StateStreaming || st == StateProcessing || st == StateSpeaking {
		c.transition(StateReconnecting)
	}
	c.reconnects.Store(int32(attempt))
	c.logger.Info().Int("attempt", attempt).Msg("Link reconnecting")
}

func (c *Controller) handleFocusAcquired() {
	c.capture.Pause()
	st := c.State()
	if st == StateStreaming || st == StateProcessing {
		c.transition(StateSpeaking)
	}
}

func (c *Controller) handleFocusReleased() {
	c.capture.Resume()
	if c.State() != StateSpeaking {
		return
	}
	if c.awaitingReply {
		c.transition(StateProcessing)
	} else {
		c.transition(StateStreaming)
	}
}

// handleTransportError reports whether the error ended the session.
func (c *Controller) handleTransportError(err error) bool {
	if errors.Is(err, transport.ErrReconnectExhausted) {
		c.logger.Error().Err(err).Msg("Backend unreachable, ending session")
		c.notifySessionError(err)
		c.teardown("reconnect_exhausted")
		return true
	}

	var be *transport.BackendError
	if errors.As(err, &be) {
		c.logger.Warn().Str("message", be.Message).Msg("Backend reported an error")
		c.notifySessionError(err)
		// The backend follows application errors with a ready signal, so
		// no state change is needed here.
		return false
	}

	c.logger.Warn().Err(err).Msg("Transport error")
	c.notifySessionError(err)
	return false
}

func (c *Controller) notifySessionError(err error) {
	c.notifier.SessionError(c.currentSessionID(), err)
}

// teardown releases every resource and returns the controller to idle.
func (c *Controller) teardown(reason string) {
	sessionID := c.currentSessionID()
	c.logger.Info().Str("reason", reason).Msg("Ending session")

	c.capture.Stop()
	if err := c.link.SendStop(reason); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		c.logger.Debug().Err(err).Msg("Stop notification failed")
	}
	c.link.Close()
	c.announcer.Clear()
	c.announcer.Stop()
	c.voiceActive.Store(false)
	c.reconnects.Store(0)

	c.transition(StateIdle)

	c.mu.Lock()
	duration := time.Since(c.startedAt)
	c.running = false
	c.lastInterim = ""
	c.events = nil
	close(c.loopDone)
	c.mu.Unlock()

	metrics.Default.RecordSessionEnd(duration.Seconds())
	c.notifier.SessionEnded(sessionID, reason)
}

func (c *Controller) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) setInterim(text string) {
	c.mu.Lock()
	c.lastInterim = text
	c.mu.Unlock()
}

// transition moves the state machine, ignoring and logging moves the
// lifecycle graph does not allow.
func (c *Controller) transition(to State) {
	from := State(c.state.Load())
	if from == to {
		return
	}
	if to != StateIdle && !from.canTransitionTo(to) {
		c.logger.Warn().Err(invalidTransition(from, to)).Msg("Ignoring state transition")
		return
	}
	c.state.Store(int32(to))
	metrics.Default.RecordState(to.String(), stateNames())
	c.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State transition")
	c.notifier.StateChanged(c.currentSessionID(), from, to)
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = s.String()
	}
	return names
}

// captureSink adapts capture callbacks into loop events.
type captureSink struct{ c *Controller }

func (s captureSink) OnChunk(chunk capture.Chunk) { s.c.post(evChunk{chunk: chunk}) }

func (s captureSink) OnVoiceActivity(va capture.VoiceActivity) {
	s.c.post(evVoiceActivity{activity: va})
}

func (s captureSink) OnCaptureError(err error) { s.c.post(evCaptureError{err: err}) }

// linkHandler adapts transport callbacks into loop events.
type linkHandler struct{ c *Controller }

func (h linkHandler) OnConnected() { h.c.post(evConnected{}) }

func (h linkHandler) OnTranscript(ev transport.TranscriptEvent) {
	h.c.post(evTranscript{ev: ev})
}

func (h linkHandler) OnReady(ev transport.ReadyEvent) { h.c.post(evReady{ev: ev}) }

func (h linkHandler) OnReconnecting(attempt int) { h.c.post(evReconnecting{attempt: attempt}) }

func (h linkHandler) OnTransportError(err error) { h.c.post(evTransportError{err: err}) }

func (h linkHandler) OnClosed() { h.c.post(evLinkClosed{}) }

// playbackListener adapts playback callbacks into loop events.
type playbackListener struct{ c *Controller }

func (l playbackListener) OnFocusAcquired() { l.c.post(evFocusAcquired{}) }

func (l playbackListener) OnFocusReleased(last playback.Outcome) {
	l.c.post(evFocusReleased{last: last})
}
