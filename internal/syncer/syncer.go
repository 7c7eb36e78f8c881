// Package syncer runs the periodic plan refresh loop: fetch the task tree
// from the backend, publish it into the session store, and back the polling
// interval off while the backend is unreachable.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/session"
)

var errAuthInvalid = errors.New("session credential invalidated")

// Fetcher is the slice of the backend client the loop needs.
type Fetcher interface {
	FetchPlanState(ctx context.Context, projectID, planID string) (session.TaskSnapshot, error)
}

// Syncer owns the background refresh loop. One instance per session.
type Syncer struct {
	store   *session.Store
	fetcher Fetcher
	cfg     config.SyncConfig
	trigger chan struct{}
}

func New(store *session.Store, fetcher Fetcher, cfg config.SyncConfig) *Syncer {
	return &Syncer{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
	}
}

// TriggerRefresh requests an immediate refresh without blocking the caller.
// Requests arriving while one is already queued coalesce.
func (s *Syncer) TriggerRefresh() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes once immediately, then on a timer until ctx is cancelled.
// The timer stretches toward the backoff cap while refreshes keep failing
// and snaps back to the configured interval on the first success.
func (s *Syncer) Run(ctx context.Context) {
	log.Info(log.CatSync, "Sync loop started", "interval", s.cfg.Interval)
	s.refresh(ctx)

	timer := time.NewTimer(s.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info(log.CatSync, "Sync loop stopped", "reason", ctx.Err())
			return
		case <-timer.C:
			s.refresh(ctx)
		case <-s.trigger:
			s.refresh(ctx)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		timer.Reset(s.nextInterval())
	}
}

// refresh performs one fetch-and-publish cycle. The store's refresh gate
// guarantees a single fetch in flight even when the timer and an on-demand
// trigger race.
func (s *Syncer) refresh(ctx context.Context) {
	if !s.store.BeginRefresh() {
		log.Debug(log.CatSync, "Refresh already in flight, skipping")
		return
	}

	if !s.store.AuthValid() {
		// Counts as a failed cycle so the interval drifts to the cap
		// instead of logging every tick at full rate.
		log.Warn(log.CatSync, "Skipping refresh, session credential invalidated")
		s.store.EndRefresh(errAuthInvalid)
		return
	}

	sess := s.store.Session()
	snap, err := s.fetcher.FetchPlanState(ctx, sess.ProjectID, sess.PlanID)
	if err == nil {
		s.store.Publish(&snap)
		log.Debug(log.CatSync, "Plan refreshed", "tasks", len(snap.Tasks))
	} else if ctx.Err() == nil {
		log.ErrorErr(log.CatSync, "Plan refresh failed", err)
	}
	s.store.EndRefresh(err)
}

// nextInterval doubles the base interval per consecutive failure, capped.
func (s *Syncer) nextInterval() time.Duration {
	failures := s.store.SyncState().ConsecutiveFailures
	return backedOffInterval(s.cfg.Interval, s.cfg.BackoffCap, failures)
}

func backedOffInterval(interval, cap time.Duration, failures int) time.Duration {
	if cap < interval {
		cap = interval
	}
	d := interval
	for i := 0; i < failures && d < cap; i++ {
		d *= 2
	}
	if d > cap {
		d = cap
	}
	return d
}
