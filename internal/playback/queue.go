// Package playback serializes spoken announcements. Announcements play
// strictly in arrival order, duplicates inside a short window are
// suppressed, and a watchdog bounds how long any single announcement can
// hold playback focus.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mylee04/voicepilot/internal/observability/logging"
	"github.com/mylee04/voicepilot/internal/observability/metrics"
)

// Outcome describes how an announcement finished.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Synthesizer renders one announcement to audible speech. Speak blocks
// until playback finishes or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Listener observes playback focus. OnFocusAcquired fires when the queue
// goes from idle to speaking; OnFocusReleased fires when the queue drains,
// with the outcome of the last announcement. Callbacks come from the
// queue's worker goroutine.
type Listener interface {
	OnFocusAcquired()
	OnFocusReleased(last Outcome)
}

// Config holds queue tuning.
type Config struct {
	// DedupWindow suppresses re-enqueueing the text most recently
	// accepted within this window.
	DedupWindow time.Duration

	// Watchdog force-releases focus when one announcement exceeds it.
	Watchdog time.Duration

	// ErrorPause is the settle delay after a failed announcement before
	// the next one starts.
	ErrorPause time.Duration
}

// Queue plays announcements FIFO through a single worker goroutine.
type Queue struct {
	cfg      Config
	synth    Synthesizer
	listener Listener
	logger   zerolog.Logger

	mu       sync.Mutex
	items    []string
	busy     bool
	lastText string
	lastAt   time.Time
	started  bool
	stopped  bool
	cancel   context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewQueue creates a playback queue. Start must be called before Enqueue
// has any effect.
func NewQueue(cfg Config, synth Synthesizer, listener Listener) *Queue {
	return &Queue{
		cfg:      cfg,
		synth:    synth,
		listener: listener,
		logger:   logging.WithComponent("playback"),
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started && !q.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.started = true
	q.stopped = false
	q.wg.Add(1)
	go q.run(ctx)
}

// Enqueue adds an announcement. It reports false when the text was
// suppressed as a duplicate of the most recent announcement inside the
// dedup window; callers should then behave as if the announcement never
// existed.
func (q *Queue) Enqueue(text string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || !q.started {
		return false
	}

	now := time.Now()
	if text == q.lastText && now.Sub(q.lastAt) < q.cfg.DedupWindow {
		metrics.Default.DuplicatesSuppressed.Inc()
		q.logger.Debug().Str("text", truncate(text, 60)).Msg("Duplicate announcement suppressed")
		return false
	}

	q.lastText = text
	q.lastAt = now
	q.items = append(q.items, text)
	metrics.Default.QueueDepth.Set(float64(len(q.items)))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Clear drops all queued announcements without touching the one currently
// playing.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	metrics.Default.QueueDepth.Set(0)
}

// Idle reports whether nothing is playing or queued.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.busy && len(q.items) == 0
}

// Depth returns the number of queued announcements, excluding the one
// currently playing.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop cancels the current announcement, drops the queue, and terminates
// the worker. Idempotent, and a no-op when never started.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.items = q.items[:0]
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	metrics.Default.QueueDepth.Set(0)
	q.logger.Info().Msg("Playback queue stopped")
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		text, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		outcome := q.play(ctx, text)
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		// The dedup window is anchored at completion, so announcements
		// that take longer than the window to speak still suppress an
		// identical follow-up.
		if outcome == OutcomeCompleted && text == q.lastText {
			q.lastAt = time.Now()
		}
		drained := len(q.items) == 0
		if drained {
			q.busy = false
		}
		q.mu.Unlock()

		if drained {
			q.listener.OnFocusReleased(outcome)
		}
	}
}

// pop takes the next announcement and acquires focus when the queue was
// idle.
func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return "", false
	}
	text := q.items[0]
	q.items = q.items[1:]
	metrics.Default.QueueDepth.Set(float64(len(q.items)))
	acquired := !q.busy
	q.busy = true
	q.mu.Unlock()

	if acquired {
		q.listener.OnFocusAcquired()
	}
	return text, true
}

func (q *Queue) play(ctx context.Context, text string) Outcome {
	speakCtx, cancel := context.WithTimeout(ctx, q.cfg.Watchdog)
	defer cancel()

	start := time.Now()
	err := q.synth.Speak(speakCtx, text)
	switch {
	case err == nil:
		metrics.Default.AnnouncementsSpoken.Inc()
		q.logger.Debug().Dur("took", time.Since(start)).Str("text", truncate(text, 60)).Msg("Announcement spoken")
		return OutcomeCompleted
	case errors.Is(speakCtx.Err(), context.DeadlineExceeded):
		metrics.Default.WatchdogTimeouts.Inc()
		q.logger.Warn().Str("text", truncate(text, 60)).Msg("Announcement exceeded watchdog, releasing focus")
		return OutcomeTimedOut
	case ctx.Err() != nil:
		return OutcomeFailed
	default:
		metrics.Default.PlaybackErrors.Inc()
		q.logger.Warn().Err(err).Msg("Announcement failed")
		select {
		case <-ctx.Done():
		case <-time.After(q.cfg.ErrorPause):
		}
		return OutcomeFailed
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
