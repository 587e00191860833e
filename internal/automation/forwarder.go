// Package automation hands recognized commands to the downstream
// automation executor. The voice front-end does not interpret commands
// itself; it forwards the final transcript and whatever reply the backend
// produced.
package automation

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/observability/logging"
)

// Command is one recognized user instruction together with the backend's
// response to it. Action, when present, is the backend's automation
// descriptor passed through verbatim.
type Command struct {
	SessionID  string
	Transcript string
	Confidence float64
	Response   string
	Action     json.RawMessage
}

// Action is the decoded form of a command's automation descriptor.
// Executors that understand the descriptor can unmarshal into it; the
// front-end itself never does.
type Action struct {
	Kind     string `json:"kind"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Forwarder delivers commands to an executor.
type Forwarder interface {
	Forward(ctx context.Context, cmd Command) error
}

// LogForwarder records commands without executing anything. It is the
// default when no executor is wired in.
type LogForwarder struct {
	logger zerolog.Logger
}

// NewLogForwarder creates a log-only forwarder.
func NewLogForwarder() *LogForwarder {
	return &LogForwarder{logger: logging.WithComponent("automation")}
}

// Forward logs the command.
func (f *LogForwarder) Forward(ctx context.Context, cmd Command) error {
	evt := f.logger.Info().
		Str("sessionId", cmd.SessionID).
		Str("transcript", cmd.Transcript).
		Float64("confidence", cmd.Confidence)
	if len(cmd.Action) > 0 {
		evt = evt.RawJSON("action", cmd.Action)
	}
	evt.Msg("Command recognized")
	return nil
}
