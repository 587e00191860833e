package session

import (
	"github.com/mylee04/voicepilot/internal/capture"
	"github.com/mylee04/voicepilot/internal/playback"
	"github.com/mylee04/voicepilot/internal/transport"
)

// Events posted by subsystem callbacks into the controller loop. Each is a
// plain value; the loop dispatches on concrete type.

type evChunk struct{ chunk capture.Chunk }

type evVoiceActivity struct{ activity capture.VoiceActivity }

type evCaptureError struct{ err error }

type evConnected struct{}

type evTranscript struct{ ev transport.TranscriptEvent }

type evReady struct{ ev transport.ReadyEvent }

type evReconnecting struct{ attempt int }

type evTransportError struct{ err error }

type evLinkClosed struct{}

type evFocusAcquired struct{}

type evFocusReleased struct{ last playback.Outcome }

type evStop struct {
	reason string
	done   chan struct{}
}
