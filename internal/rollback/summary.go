// internal/rollback/summary.go
package rollback

import (
	"log"
	"strings"

	"rewind/internal/session"
)

// Summarizer maintains the session's running summary across a rollback.
// Refresh is asynchronous and never blocks the rollback response; Clear
// is synchronous, for the zero-messages case where there is nothing left
// to summarize from.
type Summarizer interface {
	ScheduleRefresh(sessionID, seed string)
	Clear(sessionID string) error
}

// GenerateFunc produces a fresh summary from the seed message. The
// default excerpts the seed; serve mode plugs in the streaming client's
// summarization call.
type GenerateFunc func(seed string) (string, error)

// StoreSummarizer writes summaries through the session store.
type StoreSummarizer struct {
	sessions *session.Store
	generate GenerateFunc
}

// NewStoreSummarizer creates a summarizer over the session store. A nil
// generate falls back to a seed excerpt.
func NewStoreSummarizer(sessions *session.Store, generate GenerateFunc) *StoreSummarizer {
	if generate == nil {
		generate = excerpt
	}
	return &StoreSummarizer{sessions: sessions, generate: generate}
}

// ScheduleRefresh recomputes the summary in the background, seeded from
// the most recent remaining user message.
func (s *StoreSummarizer) ScheduleRefresh(sessionID, seed string) {
	go func() {
		summary, err := s.generate(seed)
		if err != nil {
			log.Printf("[Summary] refresh for %s failed: %v", sessionID, err)
			return
		}
		if err := s.sessions.SetSummary(sessionID, summary); err != nil {
			log.Printf("[Summary] persist for %s failed: %v", sessionID, err)
		}
	}()
}

// Clear empties the summary immediately.
func (s *StoreSummarizer) Clear(sessionID string) error {
	return s.sessions.SetSummary(sessionID, "")
}

// excerpt is the dependency-free fallback generator.
func excerpt(seed string) (string, error) {
	seed = strings.TrimSpace(seed)
	const max = 200
	if len(seed) > max {
		seed = seed[:max]
	}
	return seed, nil
}
