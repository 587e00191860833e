// Package session owns the voice session lifecycle. A single event-loop
// goroutine consumes events from capture, transport, and playback, so all
// state transitions are serialized and the subsystems never need to agree
// on locks.
package session

import (
	"errors"
	"fmt"
)

// State is the session lifecycle state.
type State int32

const (
	// StateIdle means no session is active and all resources are released.
	StateIdle State = iota

	// StateListening means the microphone is held but the backend link is
	// not yet established.
	StateListening

	// StateStreaming means audio chunks are flowing to the backend.
	StateStreaming

	// StateProcessing means a final transcript was sent and the backend is
	// still producing its reply.
	StateProcessing

	// StateSpeaking means playback holds focus; capture is paused and no
	// audio is transmitted.
	StateSpeaking

	// StateReconnecting means the link dropped and the reconnect loop is
	// running. Capture stays held but chunks are dropped.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateStreaming:
		return "streaming"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// AllStates lists every state, for metrics and status reporting.
var AllStates = []State{
	StateIdle, StateListening, StateStreaming,
	StateProcessing, StateSpeaking, StateReconnecting,
}

var (
	ErrAlreadyRunning = errors.New("session: already running")
	ErrNotRunning     = errors.New("session: not running")
)

// validTransitions encodes the lifecycle graph. Every state can fall back
// to idle; reconnecting can interpose on any connected state.
var validTransitions = map[State][]State{
	StateIdle:         {StateListening},
	StateListening:    {StateStreaming, StateIdle},
	StateStreaming:    {StateProcessing, StateSpeaking, StateReconnecting, StateIdle},
	StateProcessing:   {StateSpeaking, StateStreaming, StateReconnecting, StateIdle},
	StateSpeaking:     {StateStreaming, StateProcessing, StateReconnecting, StateIdle},
	StateReconnecting: {StateStreaming, StateIdle},
}

func (s State) canTransitionTo(to State) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("session: invalid transition %s -> %s", from, to)
}
