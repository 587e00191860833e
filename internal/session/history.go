package session

import (
	"sync"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one exchange entry in the conversation history.
type Turn struct {
	Role       string    `json:"role"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// History is a bounded conversation log. When full, the oldest turns are
// evicted.
type History struct {
	mu    sync.Mutex
	turns []Turn
	max   int
}

// NewHistory creates a history holding at most max turns.
func NewHistory(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{max: max}
}

// Add appends a turn, evicting the oldest when over capacity.
func (h *History) Add(role, text string, confidence float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{
		Role:       role,
		Text:       text,
		Confidence: confidence,
		At:         time.Now(),
	})
	if len(h.turns) > h.max {
		h.turns = h.turns[len(h.turns)-h.max:]
	}
}

// Turns returns a copy of the history, oldest first.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of stored turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Clear drops all turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
