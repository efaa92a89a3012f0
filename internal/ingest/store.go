package ingest

import (
	"sort"
	"sync"

	"github.com/quex-tech/onchain-ai/internal/domain/model"
	"github.com/quex-tech/onchain-ai/internal/metrics"
)

// Store is the session-lifetime event set shared by ingestion, correlation
// and the merge engine. Identity is (kind, messageId); the first observation
// of a key wins and later deliveries are discarded, so any number of
// channels can feed the store in any order. Readers always get copies, never
// views into mutable state.
//
// A response observed before its message is locally known is an orphan: it
// is stored like any other response and resolves itself once the message
// event arrives through a later ingestion cycle.
type Store struct {
	mu        sync.RWMutex
	messages  map[uint64]model.MessageEvent
	responses map[uint64]model.ResponseEvent
}

func NewStore() *Store {
	return &Store{
		messages:  make(map[uint64]model.MessageEvent),
		responses: make(map[uint64]model.ResponseEvent),
	}
}

// AddMessage records a message event unless its key is already known.
// Returns true when the event was accepted.
func (s *Store) AddMessage(ev model.MessageEvent, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[ev.MessageID]; ok {
		metrics.EventsDuplicate.WithLabelValues(string(model.EventKindMessage), channel).Inc()
		return false
	}
	s.messages[ev.MessageID] = ev
	metrics.EventsAccepted.WithLabelValues(string(model.EventKindMessage)).Inc()
	s.updateOrphanGaugeLocked()
	return true
}

// AddResponse records a response event unless its key is already known.
// Returns true when the event was accepted.
func (s *Store) AddResponse(ev model.ResponseEvent, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responses[ev.MessageID]; ok {
		metrics.EventsDuplicate.WithLabelValues(string(model.EventKindResponse), channel).Inc()
		return false
	}
	s.responses[ev.MessageID] = ev
	metrics.EventsAccepted.WithLabelValues(string(model.EventKindResponse)).Inc()
	s.updateOrphanGaugeLocked()
	return true
}

// Messages returns all known message events sorted by MessageID ascending.
func (s *Store) Messages() []model.MessageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MessageEvent, 0, len(s.messages))
	for _, ev := range s.messages {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

// Responses returns all known response events sorted by MessageID ascending,
// orphans included.
func (s *Store) Responses() []model.ResponseEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ResponseEvent, 0, len(s.responses))
	for _, ev := range s.responses {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

// ResponseByID returns the response for a message, if observed.
func (s *Store) ResponseByID(messageID uint64) (model.ResponseEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.responses[messageID]
	return ev, ok
}

// MessageTxHash returns the transaction hash of the user-side submission.
func (s *Store) MessageTxHash(messageID uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.messages[messageID]
	if !ok {
		return "", false
	}
	return ev.TxHash, true
}

// ResponseTxHash returns the transaction hash of the oracle-side response.
func (s *Store) ResponseTxHash(messageID uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.responses[messageID]
	if !ok {
		return "", false
	}
	return ev.TxHash, true
}

// ResponsesOutstanding counts known messages that have no response yet.
// The polling fallback runs only while this is non-zero.
func (s *Store) ResponsesOutstanding() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outstanding := 0
	for id := range s.messages {
		if _, ok := s.responses[id]; !ok {
			outstanding++
		}
	}
	return outstanding
}

// OrphanResponses counts responses whose message event is not locally known
// yet. They resolve on a later backfill or subscription delivery.
func (s *Store) OrphanResponses() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orphanCountLocked()
}

func (s *Store) orphanCountLocked() int {
	orphans := 0
	for id := range s.responses {
		if _, ok := s.messages[id]; !ok {
			orphans++
		}
	}
	return orphans
}

func (s *Store) updateOrphanGaugeLocked() {
	metrics.OrphanResponses.Set(float64(s.orphanCountLocked()))
}
