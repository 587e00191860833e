package events

import (
	"context"
	"testing"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"nil brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerTranscripts != nil {
				t.Error("expected nil transcripts writer when disabled")
			}
			if p.writerLifecycle != nil {
				t.Error("expected nil lifecycle writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:          false,
		Brokers:          []string{"localhost:9092"},
		TopicTranscripts: "voice.transcripts",
		TopicLifecycle:   "voice.lifecycle",
		Source:           "voicepilot-dev",
	}

	p := New(cfg)

	if p.source != "voicepilot-dev" {
		t.Errorf("expected source 'voicepilot-dev', got %s", p.source)
	}
	if p.topicTranscripts != "voice.transcripts" {
		t.Errorf("expected transcripts topic 'voice.transcripts', got %s", p.topicTranscripts)
	}
	if p.topicLifecycle != "voice.lifecycle" {
		t.Errorf("expected lifecycle topic 'voice.lifecycle', got %s", p.topicLifecycle)
	}
}

func TestPublisher_PublishTranscript_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.PublishTranscript(context.Background(), TranscriptRecord{
		SessionID: "s1",
		Role:      "user",
		Text:      "open the dashboard",
		Final:     true,
	})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishLifecycle_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.PublishLifecycle(context.Background(), LifecycleRecord{
		SessionID: "s1",
		Kind:      "state",
		From:      "streaming",
		To:        "processing",
	})
	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_CloseDisabled(t *testing.T) {
	p := New(nil)
	if err := p.Close(); err != nil {
		t.Errorf("Close on disabled publisher: %v", err)
	}
}
