package events

import (
	"context"
	"time"

	"github.com/mylee04/voicepilot/internal/session"
)

// publishTimeout bounds each fire-and-forget publish.
const publishTimeout = 5 * time.Second

// Notifier adapts the publisher to the session lifecycle callbacks.
// Publishes run on their own goroutines so the session event loop never
// waits on a broker.
type Notifier struct {
	pub *Publisher
}

var _ session.Notifier = (*Notifier)(nil)

// NewNotifier wraps a publisher as a session notifier.
func NewNotifier(pub *Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) SessionStarted(sessionID string) {
	n.lifecycle(LifecycleRecord{SessionID: sessionID, Kind: "started"})
}

func (n *Notifier) SessionEnded(sessionID, reason string) {
	n.lifecycle(LifecycleRecord{SessionID: sessionID, Kind: "ended", Reason: reason})
}

func (n *Notifier) StateChanged(sessionID string, from, to session.State) {
	n.lifecycle(LifecycleRecord{
		SessionID: sessionID,
		Kind:      "state",
		From:      from.String(),
		To:        to.String(),
	})
}

func (n *Notifier) SessionError(sessionID string, err error) {
	n.lifecycle(LifecycleRecord{SessionID: sessionID, Kind: "error", Error: err.Error()})
}

func (n *Notifier) InterimTranscript(sessionID, text string, confidence float64) {
	n.transcript(TranscriptRecord{
		SessionID:  sessionID,
		Role:       session.RoleUser,
		Text:       text,
		Confidence: confidence,
		Final:      false,
	})
}

func (n *Notifier) FinalTranscript(sessionID, text string, confidence float64) {
	n.transcript(TranscriptRecord{
		SessionID:  sessionID,
		Role:       session.RoleUser,
		Text:       text,
		Confidence: confidence,
		Final:      true,
	})
}

func (n *Notifier) AssistantReply(sessionID, text string) {
	n.transcript(TranscriptRecord{
		SessionID: sessionID,
		Role:      session.RoleAssistant,
		Text:      text,
		Final:     true,
	})
}

func (n *Notifier) transcript(rec TranscriptRecord) {
	rec.Timestamp = time.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		n.pub.PublishTranscript(ctx, rec)
	}()
}

func (n *Notifier) lifecycle(rec LifecycleRecord) {
	rec.Timestamp = time.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		n.pub.PublishLifecycle(ctx, rec)
	}()
}
