// Package memory implements PERSON_JOB's conversation history and the
// memory selector interface (spec.md §6): select(person_id, candidates,
// task_preview, criteria, at_most) -> message_id list. Grounded on the
// teacher's ExecutionState map-plus-mutex pattern in execution_state.go,
// adapted from nodeID-keyed scalars to personID-keyed message slices.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Message is one turn of a person's conversation, kept across PERSON_JOB
// invocations within an execution.
type Message struct {
	ID        string
	PersonID  string
	Role      string // "system", "user", "assistant"
	Content   string
	CreatedAt time.Time
}

// Store holds every person's conversation history for one execution.
// Thread-safe: PERSON_JOB nodes with per_token or bounded concurrency may
// append concurrently for distinct person IDs, or read while another
// handler invocation for the same person is still running.
type Store struct {
	mu      sync.RWMutex
	history map[string][]Message
}

// NewStore builds an empty conversation Store.
func NewStore() *Store {
	return &Store{history: make(map[string][]Message)}
}

// Append records a new turn for personID, in call order.
func (s *Store) Append(personID string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[personID] = append(s.history[personID], msg)
}

// History returns a defensive copy of personID's full turn history.
func (s *Store) History(personID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[personID]
	out := make([]Message, len(h))
	copy(out, h)
	return out
}

// Selector implements the memory-selector external interface of spec.md
// §6: it picks which of a person's prior turns are visible to their next
// PERSON_JOB invocation. Implementations must be deterministic given the
// same inputs, since a scheduler replay must reselect the same context.
type Selector interface {
	Select(personID string, candidates []Message, taskPreview string, criteria string, atMost int) []Message
}

// DefaultSelector implements Selector with a criteria substring filter
// followed by a most-recent-first truncation to atMost messages, then
// restores chronological order. criteria == "" matches every candidate;
// atMost <= 0 means no truncation (memorize_to selects, at_most limits).
type DefaultSelector struct{}

// NewDefaultSelector returns the zero-value DefaultSelector.
func NewDefaultSelector() DefaultSelector { return DefaultSelector{} }

func (DefaultSelector) Select(personID string, candidates []Message, taskPreview string, criteria string, atMost int) []Message {
	filtered := candidates
	if criteria != "" {
		needle := strings.ToLower(criteria)
		filtered = make([]Message, 0, len(candidates))
		for _, m := range candidates {
			if strings.Contains(strings.ToLower(m.Content), needle) || strings.Contains(strings.ToLower(m.Role), needle) {
				filtered = append(filtered, m)
			}
		}
	}
	if atMost <= 0 || atMost >= len(filtered) {
		return filtered
	}

	// Keep the most recent atMost, by CreatedAt, then restore the original
	// relative order so the rendered transcript still reads chronologically.
	ranked := make([]Message, len(filtered))
	copy(ranked, filtered)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].CreatedAt.After(ranked[j].CreatedAt) })
	kept := make(map[string]bool, atMost)
	for _, m := range ranked[:atMost] {
		kept[m.ID] = true
	}
	out := make([]Message, 0, atMost)
	for _, m := range filtered {
		if kept[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// Render flattens a selected transcript into a plain-text block suitable
// for prepending to a provider-agnostic prompt, one "role: content" line
// per message.
func Render(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
