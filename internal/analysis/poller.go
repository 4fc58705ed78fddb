package analysis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/simonmoedinger/aitab/internal/assistant"
	"github.com/simonmoedinger/aitab/internal/telemetry"
)

// Service is the slice of the assistant contract the poller and pipeline
// consume. *assistant.Client satisfies it.
type Service interface {
	CreateThread(ctx context.Context) (assistant.Thread, error)
	CreateMessage(ctx context.Context, threadID, role, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (assistant.Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error)
}

// DefaultPollInterval is used when neither the caller nor the service
// supplies a delay.
const DefaultPollInterval = 5 * time.Second

// RunFailure reports a run that reached a terminal status other than
// completed. It is a reported condition, not a fatal one: the caller
// renders a degraded result and moves on. No implicit retry happens
// anywhere below the caller.
type RunFailure struct {
	Status    assistant.RunStatus
	LastError *assistant.RunError
}

func (e *RunFailure) Error() string {
	if e.LastError != nil && e.LastError.Message != "" {
		return fmt.Sprintf("run ended with status %s: %s", e.Status, e.LastError.Message)
	}
	return fmt.Sprintf("run ended with status %s", e.Status)
}

// Poller drives a single assistant run from creation to a terminal
// status: submit the message, start the run, then fetch run state on a
// fixed cadence until it settles. Between polls the flow is fully idle.
type Poller struct {
	svc      Service
	interval time.Duration
	tele     *telemetry.Telemetry
	logger   *log.Logger
}

// NewPoller creates a poller. interval <= 0 selects DefaultPollInterval.
func NewPoller(svc Service, interval time.Duration, tele *telemetry.Telemetry, logger *log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[POLLER] ", log.LstdFlags)
	}
	return &Poller{svc: svc, interval: interval, tele: tele, logger: logger}
}

// Execute posts content as a user message, runs the assistant over the
// thread and waits for a terminal run status. On completed it returns
// the newest assistant-authored message text with its annotations. On
// any other terminal status it returns a *RunFailure. Cancelling the
// context abandons the wait and issues a best-effort service-side run
// cancellation.
func (p *Poller) Execute(ctx context.Context, threadID, assistantID, content string) (string, []assistant.Annotation, error) {
	if err := p.svc.CreateMessage(ctx, threadID, "user", content); err != nil {
		return "", nil, err
	}
	run, err := p.svc.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return "", nil, err
	}

	for !run.Status.Terminal() {
		delay := p.interval
		if run.PollHint > 0 {
			delay = run.PollHint
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.abandon(threadID, run.ID)
			return "", nil, ctx.Err()
		case <-timer.C:
		}
		run, err = p.svc.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return "", nil, err
		}
		p.tele.RecordPoll()
	}

	p.tele.RecordRun(string(run.Status))
	if run.Status != assistant.RunStatusCompleted {
		return "", nil, &RunFailure{Status: run.Status, LastError: run.LastError}
	}

	messages, err := p.svc.ListMessages(ctx, threadID)
	if err != nil {
		return "", nil, err
	}
	text, annotations, ok := latestAssistantText(messages)
	if !ok {
		return "", nil, fmt.Errorf("run %s completed but produced no text response", run.ID)
	}
	return text, annotations, nil
}

// abandon cancels an in-flight run after the caller gave up on it. The
// original context is already dead, so a short detached one is used.
func (p *Poller) abandon(threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.svc.CancelRun(ctx, threadID, runID); err != nil {
		p.logger.Printf("cancel run %s: %v", runID, err)
	}
}

// latestAssistantText picks the most recent assistant message carrying
// non-empty text content. The service lists newest first, but ordering
// is not assumed.
func latestAssistantText(messages []assistant.Message) (string, []assistant.Annotation, bool) {
	var (
		best     assistant.Message
		bestText string
		bestAnns []assistant.Annotation
		found    bool
	)
	for _, m := range messages {
		if m.Role != "assistant" {
			continue
		}
		text, anns := m.Text()
		if text == "" {
			continue
		}
		if !found || m.CreatedAt > best.CreatedAt {
			best, bestText, bestAnns, found = m, text, anns, true
		}
	}
	return bestText, bestAnns, found
}
