package analysis

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/simonmoedinger/aitab/internal/assistant"
)

// Registry assigns and remembers session-scoped citation numbers.
// Numbers are dense and strictly increasing in first-seen order,
// starting at 1; the same file id always yields the same number. One
// Registry must be shared by every pipeline step and chat turn of a
// session, otherwise numbers drift between the analysis and the chat.
type Registry struct {
	mu      sync.Mutex
	numbers map[string]int
	next    int
}

// NewRegistry creates an empty citation registry.
func NewRegistry() *Registry {
	return &Registry{numbers: make(map[string]int), next: 1}
}

// NumberFor returns the stable citation number for a file id, assigning
// the next free number on first sight. Idempotent for repeated ids.
func (r *Registry) NumberFor(fileID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.numbers[fileID]; ok {
		return n
	}
	n := r.next
	r.numbers[fileID] = n
	r.next++
	return n
}

// Lookup returns the number already assigned to a file id, without
// assigning one. Read-only counterpart of NumberFor.
func (r *Registry) Lookup(fileID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.numbers[fileID]
	return n, ok
}

// Len reports how many distinct files have been numbered so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.numbers)
}

// ResolveAnnotations rewrites a raw response into display text: each
// annotation's exact matched substring is replaced by a single space
// followed by the bracketed citation number. Replacement is by value,
// one occurrence per annotation. Annotations without a resolvable file
// id are left untouched; a nil list is a no-op. Total function, never
// fails.
func ResolveAnnotations(reg *Registry, text string, annotations []assistant.Annotation) string {
	for _, ann := range annotations {
		fileID := ann.FileID()
		if fileID == "" || ann.Text == "" {
			continue
		}
		n := reg.NumberFor(fileID)
		text = strings.Replace(text, ann.Text, " ["+strconv.Itoa(n)+"]", 1)
	}
	return text
}

var citationMarker = regexp.MustCompile(`\[\d+\]`)

// CollapseDuplicateMarkers removes back-to-back repetitions of the same
// citation marker on a single line ("[1] [1]" becomes "[1]"). Distinct
// markers are never merged. Cosmetic pass, applied after substitution
// and before any presentation formatting.
func CollapseDuplicateMarkers(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = collapseLine(line)
	}
	return strings.Join(lines, "\n")
}

func collapseLine(line string) string {
	locs := citationMarker.FindAllStringIndex(line, -1)
	if len(locs) < 2 {
		return line
	}
	var b strings.Builder
	prevEnd := 0       // end of the last copied segment in the input
	lastMarker := ""   // last marker kept
	lastKeptEnd := -1  // input offset just past the last kept marker
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		marker := line[start:end]
		gap := line[prevEnd:start]
		if lastKeptEnd >= 0 && marker == lastMarker && strings.TrimLeft(gap, " \t") == "" {
			// duplicate separated only by blanks: drop marker and gap
			prevEnd = end
			continue
		}
		b.WriteString(gap)
		b.WriteString(marker)
		prevEnd = end
		lastMarker = marker
		lastKeptEnd = end
	}
	b.WriteString(line[prevEnd:])
	return b.String()
}
