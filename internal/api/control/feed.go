package control

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/session"
)

// feedEvent is the wire shape pushed to UI subscribers.
type feedEvent struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id,omitempty"`
	From       string  `json:"from,omitempty"`
	To         string  `json:"to,omitempty"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Error      string  `json:"error,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// Feed broadcasts session events to websocket subscribers. It implements
// the session notifier interface; slow subscribers are disconnected rather
// than allowed to brake the session loop.
type Feed struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

var _ session.Notifier = (*Feed)(nil)

type subscriber struct {
	conn *websocket.Conn
	out  chan []byte
}

// NewFeed creates an event feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{
		logger: logging.WithComponent("feed"),
		upgrader: websocket.Upgrader{
			// The control API is bound to loopback; cross-origin pages on
			// the same host are legitimate UI clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Feed upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, out: make(chan []byte, 64)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	n := len(f.subs)
	f.mu.Unlock()
	f.logger.Debug().Int("subscribers", n).Msg("Feed subscriber connected")

	go f.writePump(sub)

	// Inbound traffic is ignored; reading just detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.drop(sub)
}

// SubscriberCount reports connected clients.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) writePump(sub *subscriber) {
	for payload := range sub.out {
		sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
	}
	sub.conn.Close()
}

func (f *Feed) drop(sub *subscriber) {
	f.mu.Lock()
	if _, ok := f.subs[sub]; ok {
		delete(f.subs, sub)
		close(sub.out)
	}
	f.mu.Unlock()
}

func (f *Feed) broadcast(ev feedEvent) {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	f.mu.Lock()
	var stale []*subscriber
	for sub := range f.subs {
		select {
		case sub.out <- payload:
		default:
			stale = append(stale, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range stale {
		f.logger.Warn().Msg("Dropping slow feed subscriber")
		f.drop(sub)
	}
}

func (f *Feed) SessionStarted(sessionID string) {
	f.broadcast(feedEvent{Type: "session_started", SessionID: sessionID})
}

func (f *Feed) SessionEnded(sessionID, reason string) {
	f.broadcast(feedEvent{Type: "session_ended", SessionID: sessionID, Reason: reason})
}

func (f *Feed) StateChanged(sessionID string, from, to session.State) {
	f.broadcast(feedEvent{Type: "state", SessionID: sessionID, From: from.String(), To: to.String()})
}

func (f *Feed) InterimTranscript(sessionID, text string, confidence float64) {
	f.broadcast(feedEvent{Type: "interim", SessionID: sessionID, Text: text, Confidence: confidence})
}

func (f *Feed) FinalTranscript(sessionID, text string, confidence float64) {
	f.broadcast(feedEvent{Type: "final", SessionID: sessionID, Text: text, Confidence: confidence})
}

func (f *Feed) AssistantReply(sessionID, text string) {
	f.broadcast(feedEvent{Type: "reply", SessionID: sessionID, Text: text})
}

func (f *Feed) SessionError(sessionID string, err error) {
	f.broadcast(feedEvent{Type: "error", SessionID: sessionID, Error: err.Error()})
}
