package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSynthesizer hands announcements to an external text-to-speech
// endpoint that renders and plays them. Speak blocks until the endpoint
// confirms playback finished.
type HTTPSynthesizer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSynthesizer creates a synthesizer against the given endpoint.
func NewHTTPSynthesizer(endpoint string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		endpoint: endpoint,
		client: &http.Client{
			// The request deadline comes from the caller's context; this
			// is a hard safety net only.
			Timeout: 2 * time.Minute,
		},
	}
}

type speakRequest struct {
	Text string `json:"text"`
}

// Speak posts the announcement and waits for the endpoint to finish.
func (s *HTTPSynthesizer) Speak(ctx context.Context, text string) error {
	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return fmt.Errorf("encoding speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building speak request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling tts endpoint: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tts endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
