// Package transport maintains the duplex websocket link to the speech
// backend: binary audio frames upstream, JSON transcript and control
// messages downstream. The link self-heals from abnormal closes with a
// linearly backed-off reconnect loop, and never buffers audio across an
// outage.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/observability/metrics"
)

// ConnState is the link's connection lifecycle state.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Closing
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Send when the link is down. Frames
	// produced during an outage are dropped, never queued.
	ErrNotConnected = errors.New("transport: link not connected")

	// ErrReconnectExhausted is surfaced after the reconnect ceiling is
	// reached without restoring the connection.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")
)

// BackendError wraps an application-level error message pushed by the
// backend over an otherwise healthy connection.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("transport: backend error: %s", e.Message)
}

// Config holds link configuration.
type Config struct {
	BackendURL        string
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	KeepAliveInterval time.Duration

	// Reconnect backoff: attempt N waits min(N*Unit, Max), giving up
	// after Ceiling attempts.
	ReconnectUnit    time.Duration
	ReconnectMax     time.Duration
	ReconnectCeiling int
}

// Handler receives link events. Callbacks are invoked from the link's read
// goroutine, one at a time.
type Handler interface {
	OnConnected()
	OnTranscript(TranscriptEvent)
	OnReady(ReadyEvent)
	OnReconnecting(attempt int)
	OnTransportError(err error)
	OnClosed()
}

// Link is a managed websocket connection to the backend.
type Link struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger
	dialer  *websocket.Dialer

	sessionID atomic.Value // string

	state atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	closed chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewLink creates a link. Connect must be called before Send.
func NewLink(cfg Config, handler Handler) *Link {
	l := &Link{
		cfg:     cfg,
		handler: handler,
		logger:  logging.WithComponent("transport"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
	}
	l.sessionID.Store("")
	return l
}

// SetSessionID tags outbound keep-alives with the session identifier.
func (l *Link) SetSessionID(id string) {
	l.sessionID.Store(id)
}

// State returns the current connection state.
func (l *Link) State() ConnState {
	return ConnState(l.state.Load())
}

// Connect dials the backend and starts the read and keep-alive loops.
// Calling Connect on a live link is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return nil
	}

	conn, _, err := l.dialer.DialContext(ctx, l.cfg.BackendURL, nil)
	if err != nil {
		l.state.Store(int32(Disconnected))
		return fmt.Errorf("dialing %s: %w", l.cfg.BackendURL, err)
	}

	l.mu.Lock()
	if !l.state.CompareAndSwap(int32(Connecting), int32(Connected)) {
		// Close ran while the dial was in flight.
		l.mu.Unlock()
		conn.Close()
		return nil
	}
	l.conn = conn
	l.closed = make(chan struct{})
	l.startLoops(conn)
	l.mu.Unlock()

	metrics.Default.ConnectsTotal.Inc()
	l.logger.Info().Str("url", l.cfg.BackendURL).Msg("Connected to backend")

	l.handler.OnConnected()
	return nil
}

// Send transmits one binary audio frame. When the link is not connected
// the frame is dropped and ErrNotConnected returned.
func (l *Link) Send(data []byte) error {
	if l.State() != Connected {
		metrics.Default.RecordChunkDropped("link_down")
		return ErrNotConnected
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		metrics.Default.RecordChunkDropped("link_down")
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("writing audio frame: %w", err)
	}
	metrics.Default.ChunksSent.Inc()
	return nil
}

// SendStop tells the backend the current utterance is complete.
func (l *Link) SendStop(reason string) error {
	payload, err := encodeStopRecording(reason)
	if err != nil {
		return err
	}
	return l.sendText(payload)
}

func (l *Link) sendText(payload []byte) error {
	if l.State() != Connected {
		return ErrNotConnected
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Close shuts the link down cleanly. No reconnect is attempted and any
// subsequent Send fails. Idempotent.
func (l *Link) Close() {
	prev := ConnState(l.state.Swap(int32(Closing)))
	if prev == Closing || prev == Disconnected {
		l.state.Store(int32(prev))
		return
	}

	l.mu.Lock()
	conn := l.conn
	if l.closed != nil {
		select {
		case <-l.closed:
		default:
			close(l.closed)
		}
	}
	l.mu.Unlock()

	if conn != nil {
		l.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client stop"))
		l.writeMu.Unlock()
		conn.Close()
	}

	l.wg.Wait()

	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	l.state.Store(int32(Disconnected))
	l.logger.Info().Msg("Link closed")
}

func (l *Link) startLoops(conn *websocket.Conn) {
	kaDone := make(chan struct{})
	l.wg.Add(2)
	go l.keepAliveLoop(conn, kaDone)
	go l.readLoop(conn, kaDone)
}

// readLoop owns inbound traffic for one connection. On an abnormal close
// it transitions into the reconnect loop; on a deliberate Close it winds
// down quietly.
func (l *Link) readLoop(conn *websocket.Conn, kaDone chan struct{}) {
	defer l.wg.Done()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			close(kaDone)
			if l.State() == Closing {
				return
			}
			metrics.Default.AbnormalCloses.Inc()
			l.logger.Warn().Err(err).Msg("Connection lost, reconnecting")
			l.reconnect()
			return
		}

		if msgType != websocket.TextMessage {
			l.logger.Debug().Int("type", msgType).Msg("Ignoring non-text frame from backend")
			continue
		}
		l.dispatch(data)
	}
}

func (l *Link) dispatch(data []byte) {
	msg, err := decodeServerMessage(data)
	if err != nil {
		metrics.Default.ProtocolErrors.Inc()
		l.logger.Warn().Err(err).Msg("Undecodable backend message")
		return
	}

	switch {
	case msg.Error != "":
		l.handler.OnTransportError(&BackendError{Message: msg.Error})
	case msg.Type == msgTypeKeepAliveAck:
		l.logger.Debug().Msg("Keep-alive acknowledged")
	case msg.Type == msgTypeReady:
		l.handler.OnReady(ReadyEvent{Status: msg.Status, Timestamp: msg.Timestamp})
	case msg.Transcript != nil:
		l.handler.OnTranscript(TranscriptEvent{
			Transcript: *msg.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: msg.Confidence,
			AIResponse: msg.AIResponse,
			Processing: msg.Processing,
			Action:     msg.Action,
			SessionID:  msg.SessionID,
			Timestamp:  msg.Timestamp,
		})
	default:
		metrics.Default.ProtocolErrors.Inc()
		l.logger.Warn().Str("type", msg.Type).Msg("Unrecognized backend message")
	}
}

func (l *Link) keepAliveLoop(conn *websocket.Conn, done chan struct{}) {
	defer l.wg.Done()

	if l.cfg.KeepAliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload, err := encodeKeepAlive(l.sessionID.Load().(string))
			if err != nil {
				continue
			}
			if err := l.sendText(payload); err != nil {
				l.logger.Debug().Err(err).Msg("Keep-alive send failed")
				continue
			}
			metrics.Default.KeepAlivesSent.Inc()
		}
	}
}

// reconnect runs the linear backoff loop: attempt N waits min(N*Unit, Max),
// up to Ceiling attempts. Exhaustion is terminal for the link.
func (l *Link) reconnect() {
	if !l.state.CompareAndSwap(int32(Connected), int32(Connecting)) {
		return
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()

	for attempt := 1; attempt <= l.cfg.ReconnectCeiling; attempt++ {
		metrics.Default.ReconnectAttempts.Inc()
		l.handler.OnReconnecting(attempt)

		delay := time.Duration(attempt) * l.cfg.ReconnectUnit
		if l.cfg.ReconnectMax > 0 && delay > l.cfg.ReconnectMax {
			delay = l.cfg.ReconnectMax
		}
		l.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting")

		select {
		case <-closed:
			return
		case <-time.After(delay):
		}
		if l.State() == Closing {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.DialTimeout)
		conn, _, err := l.dialer.DialContext(ctx, l.cfg.BackendURL, nil)
		cancel()
		if err != nil {
			l.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			continue
		}

		l.mu.Lock()
		if !l.state.CompareAndSwap(int32(Connecting), int32(Connected)) {
			// Close ran while the dial was in flight. Drop the fresh
			// connection without starting loops.
			l.mu.Unlock()
			conn.Close()
			l.logger.Debug().Msg("Link closed during reconnect, discarding connection")
			return
		}
		l.conn = conn
		l.startLoops(conn)
		l.mu.Unlock()

		metrics.Default.ConnectsTotal.Inc()
		metrics.Default.ReconnectSuccess.Inc()
		l.logger.Info().Int("attempt", attempt).Msg("Reconnected to backend")

		l.handler.OnConnected()
		return
	}

	if !l.state.CompareAndSwap(int32(Connecting), int32(Disconnected)) {
		// Close took over; it owns the remaining cleanup.
		return
	}
	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
	l.logger.Error().Int("attempts", l.cfg.ReconnectCeiling).Msg("Reconnect attempts exhausted")
	l.handler.OnTransportError(ErrReconnectExhausted)
	l.handler.OnClosed()
}
