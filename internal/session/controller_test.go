package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mylee04/voicepilot/internal/automation"
	"github.com/mylee04/voicepilot/internal/capture"
	"github.com/mylee04/voicepilot/internal/playback"
	"github.com/mylee04/voicepilot/internal/transport"
)

type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	started  bool
	paused   bool
	stops    int
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeCapture) Pause()  { f.mu.Lock(); f.paused = true; f.mu.Unlock() }
func (f *fakeCapture) Resume() { f.mu.Lock(); f.paused = false; f.mu.Unlock() }

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	f.started = false
	f.stops++
	f.mu.Unlock()
}

func (f *fakeCapture) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeCapture) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeLink struct {
	mu         sync.Mutex
	connectErr error
	sessionID  string
	sent       [][]byte
	stops      []string
	closes     int
}

func (f *fakeLink) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeLink) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeLink) SendStop(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, reason)
	return nil
}

func (f *fakeLink) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func (f *fakeLink) SetSessionID(id string) {
	f.mu.Lock()
	f.sessionID = id
	f.mu.Unlock()
}

func (f *fakeLink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeLink) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeAnnouncer struct {
	mu       sync.Mutex
	idle     bool
	rejectAs bool
	queued   []string
	stopped  bool
}

func newFakeAnnouncer() *fakeAnnouncer { return &fakeAnnouncer{idle: true} }

func (f *fakeAnnouncer) Start() {}

func (f *fakeAnnouncer) Enqueue(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAs {
		return false
	}
	f.queued = append(f.queued, text)
	f.idle = false
	return true
}

func (f *fakeAnnouncer) Clear() {
	f.mu.Lock()
	f.queued = nil
	f.mu.Unlock()
}

func (f *fakeAnnouncer) Idle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakeAnnouncer) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued)
}

func (f *fakeAnnouncer) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAnnouncer) setIdle(v bool) {
	f.mu.Lock()
	f.idle = v
	f.mu.Unlock()
}

func (f *fakeAnnouncer) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.queued))
	copy(out, f.queued)
	return out
}

type recordingForwarder struct {
	mu   sync.Mutex
	cmds []automation.Command
}

func (f *recordingForwarder) Forward(_ context.Context, cmd automation.Command) error {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
	return nil
}

func (f *recordingForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cmds)
}

type recordingNotifier struct {
	states  chan State
	finals  chan string
	interim chan string
	replies chan string
	errs    chan error
	ended   chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		states:  make(chan State, 64),
		finals:  make(chan string, 16),
		interim: make(chan string, 16),
		replies: make(chan string, 16),
		errs:    make(chan error, 16),
		ended:   make(chan string, 16),
	}
}

func (n *recordingNotifier) SessionStarted(string) {}

func (n *recordingNotifier) SessionEnded(_, reason string) { n.ended <- reason }

func (n *recordingNotifier) StateChanged(_ string, _, to State) { n.states <- to }

func (n *recordingNotifier) InterimTranscript(_, text string, _ float64) { n.interim <- text }

func (n *recordingNotifier) FinalTranscript(_, text string, _ float64) { n.finals <- text }

func (n *recordingNotifier) AssistantReply(_, text string) { n.replies <- text }

func (n *recordingNotifier) SessionError(_ string, err error) { n.errs <- err }

type rig struct {
	c         *Controller
	capture   *fakeCapture
	link      *fakeLink
	announcer *fakeAnnouncer
	notifier  *recordingNotifier
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		capture:   &fakeCapture{},
		link:      &fakeLink{},
		announcer: newFakeAnnouncer(),
		notifier:  newRecordingNotifier(),
	}
	r.c = NewController(Config{MaxQueuedFinals: 4, HistorySize: 16}, nil, r.notifier)
	r.c.Bind(r.capture, r.link, r.announcer)
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	if err := r.c.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(r.c.Stop)
	r.waitState(t, StateListening)
}

func (r *rig) startStreaming(t *testing.T) {
	t.Helper()
	r.start(t)
	r.c.LinkHandler().OnConnected()
	r.waitState(t, StateStreaming)
}

func (r *rig) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.notifier.states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (current %s)", want, r.c.State())
		}
	}
}

func (r *rig) waitEnded(t *testing.T) string {
	t.Helper()
	select {
	case reason := <-r.notifier.ended:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session end")
		return ""
	}
}

func finalTranscript(text, reply string, processing bool) transport.TranscriptEvent {
	return transport.TranscriptEvent{
		Transcript: text,
		IsFinal:    true,
		Confidence: 0.9,
		AIResponse: reply,
		Processing: processing,
	}
}

func TestControllerStartToStreaming(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)

	if got := r.c.State(); got != StateStreaming {
		t.Fatalf("state = %s, want streaming", got)
	}
	if r.link.sessionID == "" {
		t.Error("session id never handed to the link")
	}
}

func TestControllerStartWhileRunning(t *testing.T) {
	r := newRig(t)
	r.start(t)

	if err := r.c.Start(testContext(t)); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestControllerStartRollsBackOnCaptureFailure(t *testing.T) {
	r := newRig(t)
	r.capture.startErr = capture.ErrPermissionDenied

	err := r.c.Start(testContext(t))
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if r.c.State() != StateIdle {
		t.Errorf("state = %s after failed start", r.c.State())
	}
	if snap := r.c.Snapshot(); snap.Running {
		t.Error("snapshot reports running after failed start")
	}
}

func TestControllerChunkRoutingHonorsState(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)
	sink := r.c.CaptureSink()

	sink.OnChunk(capture.Chunk{Data: []byte{1}, Seq: 1})
	waitFor(t, func() bool { return r.link.sentCount() == 1 })

	// Playback focus blocks transmission even before the state flips.
	r.announcer.setIdle(false)
	sink.OnChunk(capture.Chunk{Data: []byte{2}, Seq: 2})

	// Processing state blocks transmission too.
	r.c.LinkHandler().OnTranscript(finalTranscript("open mail", "", true))
	r.waitState(t, StateProcessing)
	sink.OnChunk(capture.Chunk{Data: []byte{3}, Seq: 3})

	time.Sleep(50 * time.Millisecond)
	if got := r.link.sentCount(); got != 1 {
		t.Errorf("sent %d chunks, want 1", got)
	}
}

func TestControllerInlineReplyScenario(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)
	h := r.c.LinkHandler()

	h.OnTranscript(transport.TranscriptEvent{Transcript: "open the", IsFinal: false, Confidence: 0.4})
	h.OnTranscript(finalTranscript("open the dashboard", "Opening the dashboard now.", false))

	select {
	case text := <-r.notifier.replies:
		if text != "Opening the dashboard now." {
			t.Errorf("reply = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	waitFor(t, func() bool { return len(r.announcer.texts()) == 1 })

	// Playback picks the reply up, pausing capture for the duration.
	r.c.PlaybackListener().OnFocusAcquired()
	r.waitState(t, StateSpeaking)
	waitFor(t, func() bool { return r.capture.isPaused() })

	r.announcer.setIdle(true)
	r.c.PlaybackListener().OnFocusReleased(playback.OutcomeCompleted)
	r.waitState(t, StateStreaming)
	waitFor(t, func() bool { return !r.capture.isPaused() })

	turns := r.c.History().Turns()
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("history = %+v", turns)
	}
}

func TestControllerProcessingThenReady(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)
	h := r.c.LinkHandler()

	h.OnTranscript(finalTranscript("check my calendar", "", true))
	r.waitState(t, StateProcessing)

	h.OnReady(transport.ReadyEvent{Status: "completed"})
	r.waitState(t, StateStreaming)

	// A duplicate ready signal changes nothing.
	h.OnReady(transport.ReadyEvent{Status: "completed"})
	time.Sleep(30 * time.Millisecond)
	if got := r.c.State(); got != StateStreaming {
		t.Errorf("state after duplicate ready = %s", got)
	}
}

func TestControllerDuplicateReplySkipsSpeaking(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)
	r.announcer.rejectAs = true
	h := r.c.LinkHandler()

	h.OnTranscript(finalTranscript("again", "", true))
	r.waitState(t, StateProcessing)
	h.OnTranscript(finalTranscript("again", "Same answer.", false))

	// The suppressed reply must not strand the session in processing.
	r.waitState(t, StateStreaming)
	if len(r.announcer.texts()) != 0 {
		t.Error("suppressed reply reached the announcer queue")
	}
}

func TestControllerFinalDuringSpeakingIsQueued(t *testing.T) {
	fwd := &recordingForwarder{}
	r := &rig{
		capture:   &fakeCapture{},
		link:      &fakeLink{},
		announcer: newFakeAnnouncer(),
		notifier:  newRecordingNotifier(),
	}
	r.c = NewController(Config{MaxQueuedFinals: 4, HistorySize: 16}, fwd, r.notifier)
	r.c.Bind(r.capture, r.link, r.announcer)
	r.startStreaming(t)
	h := r.c.LinkHandler()

	h.OnTranscript(finalTranscript("turn on the lights", "Lights are on.", false))
	r.c.PlaybackListener().OnFocusAcquired()
	r.waitState(t, StateSpeaking)

	// A final landing mid-announcement is queued behind it, never dropped.
	h.OnTranscript(finalTranscript("and the heating", "Heating is on.", false))
	waitFor(t, func() bool { return len(r.announcer.texts()) == 2 })

	if got := r.c.State(); got != StateSpeaking {
		t.Errorf("state = %s, want speaking", got)
	}
	if texts := r.announcer.texts(); texts[0] != "Lights are on." || texts[1] != "Heating is on." {
		t.Errorf("queued replies = %v", texts)
	}
	waitFor(t, func() bool { return fwd.count() == 2 })
	if turns := r.c.History().Turns(); len(turns) != 4 {
		t.Errorf("history has %d turns, want 4", len(turns))
	}

	r.c.PlaybackListener().OnFocusReleased(playback.OutcomeCompleted)
	r.waitState(t, StateStreaming)
	if r.capture.isPaused() {
		t.Error("capture still paused after focus release")
	}
}

func TestControllerReconnectCycle(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)
	h := r.c.LinkHandler()

	h.OnReconnecting(1)
	r.waitState(t, StateReconnecting)

	h.OnConnected()
	r.waitState(t, StateStreaming)
}

func TestControllerReconnectExhaustionEndsSession(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)

	r.c.LinkHandler().OnReconnecting(1)
	r.waitState(t, StateReconnecting)
	r.c.LinkHandler().OnTransportError(transport.ErrReconnectExhausted)

	if reason := r.waitEnded(t); reason != "reconnect_exhausted" {
		t.Errorf("end reason = %q", reason)
	}
	if r.c.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.c.State())
	}
	if r.capture.stopCount() == 0 {
		t.Error("capture never stopped")
	}
	select {
	case err := <-r.notifier.errs:
		if !errors.Is(err, transport.ErrReconnectExhausted) {
			t.Errorf("session error = %v", err)
		}
	default:
		t.Error("no session error reported")
	}
}

func TestControllerBackendErrorKeepsSession(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)

	r.c.LinkHandler().OnTransportError(&transport.BackendError{Message: "stt overloaded"})

	select {
	case err := <-r.notifier.errs:
		var be *transport.BackendError
		if !errors.As(err, &be) {
			t.Errorf("session error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session error")
	}
	if r.c.State() != StateStreaming {
		t.Errorf("state = %s, want streaming", r.c.State())
	}
}

func TestControllerCaptureErrorEndsSession(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)

	r.c.CaptureSink().OnCaptureError(capture.ErrDeviceUnavailable)

	if reason := r.waitEnded(t); reason != "capture_error" {
		t.Errorf("end reason = %q", reason)
	}
	if r.c.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.c.State())
	}
}

func TestControllerStopReleasesEverything(t *testing.T) {
	r := newRig(t)
	r.startStreaming(t)

	r.c.Stop()
	r.c.Stop() // idempotent

	if r.c.State() != StateIdle {
		t.Errorf("state = %s, want idle", r.c.State())
	}
	if r.capture.stopCount() != 1 {
		t.Errorf("capture stopped %d times, want 1", r.capture.stopCount())
	}
	if r.link.closeCount() != 1 {
		t.Errorf("link closed %d times, want 1", r.link.closeCount())
	}
	if !r.announcer.stopped {
		t.Error("announcer never stopped")
	}
	if snap := r.c.Snapshot(); snap.Running {
		t.Error("snapshot reports running after stop")
	}

	// A fresh session can start after a full stop.
	if err := r.c.Start(testContext(t)); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.c.Stop()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
