package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/taskwire/taskwire/internal/config"
	"github.com/taskwire/taskwire/internal/session"
)

type fakeFetcher struct {
	calls atomic.Int32
	fn    func() (session.TaskSnapshot, error)
}

func (f *fakeFetcher) FetchPlanState(_ context.Context, projectID, planID string) (session.TaskSnapshot, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn()
	}
	return session.TaskSnapshot{ProjectID: projectID, PlanID: planID, FetchedAt: time.Now()}, nil
}

func testStore() *session.Store {
	return session.NewStore(session.ProjectSession{ProjectID: "p1", PlanID: "pl1"})
}

func testSyncConfig() config.SyncConfig {
	cfg := config.Defaults().Sync
	cfg.Interval = 10 * time.Millisecond
	cfg.BackoffCap = 80 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRunPublishesSnapshot(t *testing.T) {
	store := testStore()
	defer store.Close()
	fetcher := &fakeFetcher{}
	s := New(store, fetcher, testSyncConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return !store.SyncState().Freshness.IsZero() })
	require.Equal(t, "p1", store.Snapshot().ProjectID)
	require.Equal(t, 0, store.SyncState().ConsecutiveFailures)
}

func TestRunKeepsTickingAfterFailures(t *testing.T) {
	store := testStore()
	defer store.Close()
	fetcher := &fakeFetcher{fn: func() (session.TaskSnapshot, error) {
		return session.TaskSnapshot{}, errors.New("backend down")
	}}
	s := New(store, fetcher, testSyncConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return store.SyncState().ConsecutiveFailures >= 2 })
	require.NotEmpty(t, store.SyncState().LastError)
	require.True(t, store.SyncState().Freshness.IsZero())
}

func TestTriggerRefreshForcesImmediateFetch(t *testing.T) {
	store := testStore()
	defer store.Close()
	fetcher := &fakeFetcher{}
	cfg := testSyncConfig()
	cfg.Interval = time.Hour // only explicit triggers should fetch
	s := New(store, fetcher, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return fetcher.calls.Load() == 1 })
	s.TriggerRefresh()
	waitFor(t, func() bool { return fetcher.calls.Load() == 2 })
}

func TestTriggerRefreshNeverBlocks(t *testing.T) {
	s := New(testStore(), &fakeFetcher{}, testSyncConfig())
	done := make(chan struct{})
	go func() {
		for range 100 {
			s.TriggerRefresh()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TriggerRefresh blocked")
	}
}

func TestRefreshSkippedWhileAnotherInFlight(t *testing.T) {
	store := testStore()
	defer store.Close()
	fetcher := &fakeFetcher{}
	s := New(store, fetcher, testSyncConfig())

	require.True(t, store.BeginRefresh())
	s.refresh(context.Background())
	require.Equal(t, int32(0), fetcher.calls.Load())
	store.EndRefresh(nil)
}

func TestRefreshSkippedAfterAuthInvalidation(t *testing.T) {
	store := testStore()
	defer store.Close()
	fetcher := &fakeFetcher{}
	s := New(store, fetcher, testSyncConfig())

	store.MarkAuthInvalid()
	s.refresh(context.Background())
	require.Equal(t, int32(0), fetcher.calls.Load())
	require.Equal(t, 1, store.SyncState().ConsecutiveFailures)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := testStore()
	defer store.Close()
	s := New(store, &fakeFetcher{}, testSyncConfig())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestBackedOffInterval(t *testing.T) {
	interval := 10 * time.Second
	cap := 60 * time.Second
	require.Equal(t, 10*time.Second, backedOffInterval(interval, cap, 0))
	require.Equal(t, 20*time.Second, backedOffInterval(interval, cap, 1))
	require.Equal(t, 40*time.Second, backedOffInterval(interval, cap, 2))
	require.Equal(t, 60*time.Second, backedOffInterval(interval, cap, 3))
	require.Equal(t, 60*time.Second, backedOffInterval(interval, cap, 10))
}

func TestBackedOffIntervalProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		interval := time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "interval"))
		cap := time.Duration(rapid.Int64Range(1, int64(10*time.Minute)).Draw(t, "cap"))
		failures := rapid.IntRange(0, 40).Draw(t, "failures")

		d := backedOffInterval(interval, cap, failures)
		require.GreaterOrEqual(t, d, interval)
		if cap >= interval {
			require.LessOrEqual(t, d, cap)
		}
		// Never shrinks as failures accumulate.
		require.GreaterOrEqual(t, backedOffInterval(interval, cap, failures+1), d)
	})
}
