package analysis

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session owns all mutable state of one patient analysis: the thread id,
// the citation registry and the running displayed-files list. It replaces
// the module-level globals of earlier iterations of this tool so that
// several sessions can coexist in one process. All mutation goes through
// the session's lock; the pipeline and chat never touch the fields
// directly.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	threadID   string
	registry   *Registry
	displayed  []DisplayedFile
	seenNames  map[string]bool
	lastActive time.Time
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		registry:   NewRegistry(),
		seenNames:  make(map[string]bool),
		lastActive: now,
	}
}

// ThreadID returns the assistant thread bound to this session, or "".
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// BindThread attaches the thread created for this session. The thread is
// created once per session and never replaced mid-session; a second bind
// is ignored.
func (s *Session) BindThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID == "" {
		s.threadID = threadID
	}
}

// Registry returns the session's shared citation registry.
func (s *Session) Registry() *Registry {
	return s.registry
}

// CitationNumber returns (and assigns, on first sight) the stable
// citation number for a file id. Exposed for inspection and testing.
func (s *Session) CitationNumber(fileID string) int {
	return s.registry.NumberFor(fileID)
}

// DisplayedFiles returns a copy of every file shown to the user so far.
func (s *Session) DisplayedFiles() []DisplayedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DisplayedFile, len(s.displayed))
	copy(out, s.displayed)
	return out
}

// appendFiles commits a catalog delta. Callers must have deduplicated
// against seenName already.
func (s *Session) appendFiles(delta []DisplayedFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range delta {
		s.seenNames[f.Name] = true
		s.displayed = append(s.displayed, f)
	}
}

// seenName reports whether a display name is already on screen. Display
// name, not file id, is the dedup key: this mirrors how the file list
// behaves in the UI, where two ids with the same name would render as
// one entry anyway.
func (s *Session) seenName(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenNames[name]
}

// Touch marks the session as recently used for TTL accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the time of the last Touch (or creation).
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
