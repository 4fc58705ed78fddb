package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/simonmoedinger/aitab/internal/assistant"
)

// scriptedRun describes one run's behavior: the status sequence returned
// by successive RetrieveRun calls (the last entry repeats) and the
// assistant reply appended to the thread when the run completes.
type scriptedRun struct {
	statuses []assistant.RunStatus
	text     string
	anns     []assistant.Annotation
	lastErr  *assistant.RunError
}

type fakeRunState struct {
	threadID string
	script   scriptedRun
	step     int
}

// fakeService is an in-memory stand-in for the assistant API. Runs are
// consumed from the script in creation order.
type fakeService struct {
	mu       sync.Mutex
	script   []scriptedRun
	threads  int
	sent     []string
	messages map[string][]assistant.Message
	runSeq   int
	active   map[string]*fakeRunState
	cancels  []string
	clock    int64

	createThreadErr error
	createRunErr    error
}

func newFakeService(script ...scriptedRun) *fakeService {
	return &fakeService{
		script:   script,
		messages: make(map[string][]assistant.Message),
		active:   make(map[string]*fakeRunState),
	}
}

func (f *fakeService) CreateThread(ctx context.Context) (assistant.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createThreadErr != nil {
		return assistant.Thread{}, f.createThreadErr
	}
	f.threads++
	return assistant.Thread{ID: fmt.Sprintf("thread-%d", f.threads)}, nil
}

func (f *fakeService) CreateMessage(ctx context.Context, threadID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	f.clock++
	f.messages[threadID] = append(f.messages[threadID], assistant.Message{
		ID:        fmt.Sprintf("msg-%d", f.clock),
		Role:      role,
		CreatedAt: f.clock,
		Content: []assistant.MessageContent{
			{Type: "text", Text: &assistant.MessageText{Value: content}},
		},
	})
	return nil
}

func (f *fakeService) CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRunErr != nil {
		return assistant.Run{}, f.createRunErr
	}
	if f.runSeq >= len(f.script) {
		return assistant.Run{}, fmt.Errorf("unexpected run %d: script exhausted", f.runSeq+1)
	}
	id := fmt.Sprintf("run-%d", f.runSeq+1)
	f.active[id] = &fakeRunState{threadID: threadID, script: f.script[f.runSeq]}
	f.runSeq++
	return assistant.Run{ID: id, ThreadID: threadID, Status: assistant.RunStatusQueued}, nil
}

func (f *fakeService) RetrieveRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.active[runID]
	if !ok {
		return assistant.Run{}, fmt.Errorf("unknown run %s", runID)
	}
	status := st.script.statuses[st.step]
	if st.step < len(st.script.statuses)-1 {
		st.step++
	}
	if status == assistant.RunStatusCompleted && st.script.text != "" {
		f.clock++
		f.messages[threadID] = append(f.messages[threadID], assistant.Message{
			ID:        fmt.Sprintf("msg-%d", f.clock),
			Role:      "assistant",
			CreatedAt: f.clock,
			Content: []assistant.MessageContent{
				{Type: "text", Text: &assistant.MessageText{Value: st.script.text, Annotations: st.script.anns}},
			},
		})
		st.script.text = "" // append once even if polled again
	}
	run := assistant.Run{ID: runID, ThreadID: threadID, Status: status}
	if status != assistant.RunStatusCompleted {
		run.LastError = st.script.lastErr
	}
	return run, nil
}

func (f *fakeService) CancelRun(ctx context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, runID)
	return nil
}

func (f *fakeService) ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[threadID]
	out := make([]assistant.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (f *fakeService) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeService) cancelledRuns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancels))
	copy(out, f.cancels)
	return out
}

func (f *fakeService) threadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func completedRun(text string, anns ...assistant.Annotation) scriptedRun {
	return scriptedRun{
		statuses: []assistant.RunStatus{assistant.RunStatusInProgress, assistant.RunStatusCompleted},
		text:     text,
		anns:     anns,
	}
}

func TestPollerExecuteCompleted(t *testing.T) {
	t.Parallel()

	svc := newFakeService(scriptedRun{
		statuses: []assistant.RunStatus{
			assistant.RunStatusQueued,
			assistant.RunStatusInProgress,
			assistant.RunStatusCompleted,
		},
		text: "growth looks normal",
	})
	p := NewPoller(svc, time.Millisecond, nil, testLogger())

	text, anns, err := p.Execute(context.Background(), "thread-1", "asst-1", "analyze growth")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if text != "growth looks normal" {
		t.Fatalf("text: got %q", text)
	}
	if len(anns) != 0 {
		t.Fatalf("annotations: got %d, want 0", len(anns))
	}
	if got := svc.sentMessages(); len(got) != 1 || got[0] != "analyze growth" {
		t.Fatalf("sent messages: %v", got)
	}
}

func TestPollerExecuteRunFailure(t *testing.T) {
	t.Parallel()

	svc := newFakeService(scriptedRun{
		statuses: []assistant.RunStatus{assistant.RunStatusFailed},
		lastErr:  &assistant.RunError{Code: "server_error", Message: "boom"},
	})
	p := NewPoller(svc, time.Millisecond, nil, testLogger())

	_, _, err := p.Execute(context.Background(), "thread-1", "asst-1", "q")
	var rf *RunFailure
	if !errors.As(err, &rf) {
		t.Fatalf("want *RunFailure, got %v", err)
	}
	if rf.Status != assistant.RunStatusFailed {
		t.Fatalf("status: got %s", rf.Status)
	}
	if rf.LastError == nil || rf.LastError.Message != "boom" {
		t.Fatalf("last error: got %+v", rf.LastError)
	}
}

func TestPollerExecuteNonCompletedTerminalStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []assistant.RunStatus{
		assistant.RunStatusFailed,
		assistant.RunStatusCancelled,
		assistant.RunStatusExpired,
		assistant.RunStatusRequiresAction,
		assistant.RunStatusIncomplete,
	} {
		status := status
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			svc := newFakeService(scriptedRun{statuses: []assistant.RunStatus{status}})
			p := NewPoller(svc, time.Millisecond, nil, testLogger())
			_, _, err := p.Execute(context.Background(), "thread-1", "asst-1", "q")
			var rf *RunFailure
			if !errors.As(err, &rf) {
				t.Fatalf("want *RunFailure, got %v", err)
			}
			if rf.Status != status {
				t.Fatalf("status: got %s, want %s", rf.Status, status)
			}
		})
	}
}

func TestPollerExecuteCancelledContext(t *testing.T) {
	t.Parallel()

	svc := newFakeService(scriptedRun{
		statuses: []assistant.RunStatus{assistant.RunStatusInProgress, assistant.RunStatusCompleted},
		text:     "never read",
	})
	p := NewPoller(svc, time.Hour, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.Execute(ctx, "thread-1", "asst-1", "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if got := svc.cancelledRuns(); len(got) != 1 || got[0] != "run-1" {
		t.Fatalf("cancelled runs: %v", got)
	}
}

func TestPollerHonorsServicePollHint(t *testing.T) {
	t.Parallel()

	svc := &hintedService{fakeService: newFakeService(scriptedRun{
		statuses: []assistant.RunStatus{assistant.RunStatusCompleted},
		text:     "done",
	})}
	// The configured interval would stall the test; the service hint must
	// take precedence for the run to complete quickly.
	p := NewPoller(svc, time.Hour, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, _, err := p.Execute(ctx, "thread-1", "asst-1", "q")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if text != "done" {
		t.Fatalf("text: got %q", text)
	}
}

// hintedService stamps a tiny retry hint on every run it returns.
type hintedService struct {
	*fakeService
}

func (h *hintedService) CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error) {
	run, err := h.fakeService.CreateRun(ctx, threadID, assistantID)
	run.PollHint = time.Millisecond
	return run, err
}

func (h *hintedService) RetrieveRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	run, err := h.fakeService.RetrieveRun(ctx, threadID, runID)
	run.PollHint = time.Millisecond
	return run, err
}

func TestPollerCompletedWithoutText(t *testing.T) {
	t.Parallel()

	svc := newFakeService(scriptedRun{
		statuses: []assistant.RunStatus{assistant.RunStatusCompleted},
	})
	p := NewPoller(svc, time.Millisecond, nil, testLogger())

	_, _, err := p.Execute(context.Background(), "thread-1", "asst-1", "q")
	if err == nil {
		t.Fatal("want error for completed run without assistant text")
	}
}
