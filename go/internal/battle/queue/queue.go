package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Entry is a player waiting to be paired. Entries are held in strict
// enqueue order; the oldest compatible entry always wins a pairing scan.
type Entry struct {
	UserID      string
	TransportID uuid.UUID
	CategoryID  string
	EnqueuedAt  time.Time
}

// Queue is the in-memory matchmaking queue. It only holds waiting entries;
// membership checks against active matches belong to the coordinator, which
// owns the cross-component invariant.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue creates an empty matchmaking queue.
func NewQueue() *Queue {
	return &Queue{}
}

// compatible reports whether two category preferences can be paired:
// exact match when both are set, otherwise an unset side matches anything.
func compatible(a, b string) bool {
	return a == "" || b == "" || a == b
}

// Push appends an entry to the tail of the queue.
func (q *Queue) Push(e Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, e)

	log.Debug().
		Str("user_id", e.UserID).
		Str("category_id", e.CategoryID).
		Int("queue_len", len(q.entries)).
		Msg("player enqueued")

	return len(q.entries)
}

// PushFront re-inserts an entry at the head of the queue, preserving its
// original priority after a failed pairing attempt.
func (q *Queue) PushFront(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append([]Entry{e}, q.entries...)
}

// TakeCompatible removes and returns the oldest waiting entry compatible
// with categoryID. FIFO tie-break: the scan runs head to tail, so an
// earlier-enqueued compatible peer is never starved by a later arrival.
func (q *Queue) TakeCompatible(categoryID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if compatible(e.CategoryID, categoryID) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// Remove drops a waiting entry by user. Idempotent: removing an absent
// user is a no-op.
func (q *Queue) Remove(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.UserID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			log.Debug().Str("user_id", userID).Msg("player dequeued")
			return true
		}
	}
	return false
}

// Contains reports whether the user has a waiting entry.
func (q *Queue) Contains(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
