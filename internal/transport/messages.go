package transport

import (
	"encoding/json"
	"fmt"
)

// TranscriptEvent is a recognition result pushed by the backend. Interim
// results carry is_final=false and may be revised; a final result may also
// carry the assistant reply inline in ai_response, or flag processing=true
// when the reply will arrive in a later message.
type TranscriptEvent struct {
	Transcript string          `json:"transcript"`
	IsFinal    bool            `json:"is_final"`
	Confidence float64         `json:"confidence,omitempty"`
	AIResponse string          `json:"ai_response,omitempty"`
	Processing bool            `json:"processing,omitempty"`
	Action     json.RawMessage `json:"action,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// ReadyEvent signals that the backend finished its current work item and
// the client may resume streaming audio.
type ReadyEvent struct {
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// serverMessage is the decode target for every inbound text frame. The
// backend multiplexes message kinds over one JSON shape, discriminated by
// which fields are present.
type serverMessage struct {
	Type       string          `json:"type,omitempty"`
	Status     string          `json:"status,omitempty"`
	Transcript *string         `json:"transcript,omitempty"`
	IsFinal    bool            `json:"is_final,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	AIResponse string          `json:"ai_response,omitempty"`
	Processing bool            `json:"processing,omitempty"`
	Action     json.RawMessage `json:"action,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	Error      string          `json:"error,omitempty"`
}

const (
	msgTypeReady        = "ready_for_next"
	msgTypeKeepAliveAck = "keep_alive_ack"

	msgTypeKeepAlive     = "keep_alive"
	msgTypeStopRecording = "stop_recording"
)

// keepAliveMessage is sent periodically so idle connections are not reaped
// by intermediaries.
type keepAliveMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// stopRecordingMessage tells the backend the client is done sending audio
// for the current utterance.
type stopRecordingMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func encodeKeepAlive(sessionID string) ([]byte, error) {
	return json.Marshal(keepAliveMessage{Type: msgTypeKeepAlive, SessionID: sessionID})
}

func encodeStopRecording(reason string) ([]byte, error) {
	return json.Marshal(stopRecordingMessage{Type: msgTypeStopRecording, Reason: reason})
}

func decodeServerMessage(data []byte) (serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return serverMessage{}, fmt.Errorf("decoding server message: %w", err)
	}
	return msg, nil
}
