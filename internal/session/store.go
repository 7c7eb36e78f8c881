package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/pubsub"
)

// Store is the single mutation point for session state. Snapshot reads are
// lock-free; refresh bookkeeping is guarded by a mutex; the refresh gate is
// a CAS so at most one refresh publishes at a time.
type Store struct {
	session ProjectSession

	snap atomic.Pointer[TaskSnapshot]

	mu        sync.Mutex
	freshness time.Time
	failures  int
	lastErr   string

	inFlight  atomic.Bool
	authValid atomic.Bool

	broker *pubsub.Broker[Update]
}

// NewStore creates a store for the given project session with an empty
// snapshot and valid credentials.
func NewStore(sess ProjectSession) *Store {
	s := &Store{
		session: sess,
		broker:  pubsub.NewBroker[Update](),
	}
	s.snap.Store(&TaskSnapshot{ProjectID: sess.ProjectID, PlanID: sess.PlanID})
	s.authValid.Store(true)
	return s
}

// Session returns the immutable project identity.
func (s *Store) Session() ProjectSession {
	return s.session
}

// Snapshot returns the last published snapshot. Never blocks; the returned
// snapshot is immutable and safe to read without coordination.
func (s *Store) Snapshot() *TaskSnapshot {
	return s.snap.Load()
}

// SyncState returns a copy of the current sync bookkeeping.
func (s *Store) SyncState() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncState{
		Freshness:           s.freshness,
		ConsecutiveFailures: s.failures,
		LastError:           s.lastErr,
		InFlight:            s.inFlight.Load(),
	}
}

// BeginRefresh atomically claims the refresh slot. Returns false when a
// refresh is already in flight; the caller must then skip without side
// effects.
func (s *Store) BeginRefresh() bool {
	return s.inFlight.CompareAndSwap(false, true)
}

// Publish atomically swaps in a new snapshot and advances freshness.
// A snapshot older than the current one is rejected as a no-op: that is an
// internal ordering violation, and readers must never observe freshness
// moving backwards.
func (s *Store) Publish(snap *TaskSnapshot) {
	if snap == nil {
		log.Error(log.CatStore, "Publish called with nil snapshot")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snap.Load()
	if current != nil && !current.FetchedAt.IsZero() && snap.FetchedAt.Before(current.FetchedAt) {
		log.Error(log.CatStore, "Rejected stale snapshot publish",
			"current", current.FetchedAt, "offered", snap.FetchedAt)
		return
	}

	s.snap.Store(snap)
	s.freshness = snap.FetchedAt
	log.Debug(log.CatStore, "Published snapshot", "tasks", len(snap.Tasks), "fetched_at", snap.FetchedAt)
}

// EndRefresh releases the refresh slot and records the outcome. Calling it
// without a matching BeginRefresh is an invariant violation: logged, state
// untouched.
func (s *Store) EndRefresh(err error) {
	if !s.inFlight.CompareAndSwap(true, false) {
		log.Error(log.CatStore, "EndRefresh without matching BeginRefresh")
		return
	}

	s.mu.Lock()
	if err != nil {
		s.failures++
		s.lastErr = err.Error()
	} else {
		s.failures = 0
		s.lastErr = ""
	}
	state := SyncState{
		Freshness:           s.freshness,
		ConsecutiveFailures: s.failures,
		LastError:           s.lastErr,
	}
	s.mu.Unlock()

	s.broker.Publish(pubsub.UpdatedEvent, Update{
		State:  state,
		Counts: s.Snapshot().CountsByStatus(),
	})
}

// MarkAuthInvalid flags the session credential as rejected by the backend.
// Subsequent gateway calls fail fast until re-authentication happens
// externally and the process restarts.
func (s *Store) MarkAuthInvalid() {
	if s.authValid.CompareAndSwap(true, false) {
		log.Warn(log.CatStore, "Session credential invalidated")
	}
}

// AuthValid reports whether the session credential is still believed good.
func (s *Store) AuthValid() bool {
	return s.authValid.Load()
}

// Subscribe returns a channel of sync updates, closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[Update] {
	return s.broker.Subscribe(ctx)
}

// Close shuts down the store's event broker.
func (s *Store) Close() {
	s.broker.Close()
}
