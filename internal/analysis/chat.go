package analysis

import (
	"context"
	"errors"
	"log"

	"github.com/simonmoedinger/aitab/internal/telemetry"
)

// ErrNoThread is returned when a chat turn arrives before the analysis
// pipeline has created the session's thread.
var ErrNoThread = errors.New("session has no assistant thread yet; run the analysis first")

// Chat handles free-form follow-up questions on a session whose analysis
// has already run. Turns share the session's thread, registry and file
// list, so citation numbers in chat answers continue the pipeline's
// numbering instead of restarting at 1.
type Chat struct {
	poller      *Poller
	catalog     *Catalog
	assistantID string
	tele        *telemetry.Telemetry
	logger      *log.Logger
}

// NewChat wires a chat component from its collaborators.
func NewChat(poller *Poller, catalog *Catalog, assistantID string, tele *telemetry.Telemetry, logger *log.Logger) *Chat {
	if logger == nil {
		logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return &Chat{
		poller:      poller,
		catalog:     catalog,
		assistantID: assistantID,
		tele:        tele,
		logger:      logger,
	}
}

// Send posts one user turn and returns the assistant's answer with
// citations resolved and new files committed to the session. A failed
// run is not an error from the caller's perspective: the turn comes back
// degraded and the conversation stays usable.
func (c *Chat) Send(ctx context.Context, sess *Session, text string) (TurnResult, error) {
	if sess.ThreadID() == "" {
		return TurnResult{}, ErrNoThread
	}
	sess.Touch()
	c.tele.RecordChatTurn()

	raw, annotations, err := c.poller.Execute(ctx, sess.ThreadID(), c.assistantID, text)
	if err != nil {
		if ctx.Err() != nil {
			return TurnResult{}, ctx.Err()
		}
		c.logger.Printf("chat turn failed: %v", err)
		return TurnResult{Text: degradedMessage, Failed: true}, nil
	}

	answer := ResolveAnnotations(sess.Registry(), raw, annotations)
	answer = CollapseDuplicateMarkers(answer)
	files := c.catalog.Resolve(ctx, sess, annotations)
	return TurnResult{Text: answer, NewFiles: files}, nil
}
