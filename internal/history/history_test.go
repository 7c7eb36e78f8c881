package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/pubsub"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBCreatesDirectoryAndSchema(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "deep", "history.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	var tableName string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='invocations'`).Scan(&tableName)
	require.NoError(t, err)
	require.Equal(t, "invocations", tableName)
}

func TestNewDBIdempotentOnExistingDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")

	db, err := NewDB(dbPath)
	require.NoError(t, err)
	_, err = NewRepository(db).Insert(Record{InvokedAt: time.Now(), Kind: "tool_call", Name: "taskwire_status"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not re-run migrations destructively.
	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	records, err := NewRepository(db2).Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestInsertAndRecent(t *testing.T) {
	repo := NewRepository(newTestDB(t))

	base := time.Now().Add(-time.Hour).UTC()
	for i, name := range []string{"taskwire_status", "taskwire_next_task", "taskwire_update_task"} {
		_, err := repo.Insert(Record{
			InvokedAt:   base.Add(time.Duration(i) * time.Minute),
			Kind:        "tool_call",
			Name:        name,
			RequestJSON: `{"args":{}}`,
			Duration:    25 * time.Millisecond,
		})
		require.NoError(t, err)
	}

	records, err := repo.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "taskwire_update_task", records[0].Name, "newest first")
	require.Equal(t, "taskwire_next_task", records[1].Name)
	require.Equal(t, 25*time.Millisecond, records[0].Duration)
}

func TestByName(t *testing.T) {
	repo := NewRepository(newTestDB(t))

	for range 3 {
		_, err := repo.Insert(Record{InvokedAt: time.Now().UTC(), Kind: "tool_call", Name: "taskwire_status"})
		require.NoError(t, err)
	}
	_, err := repo.Insert(Record{InvokedAt: time.Now().UTC(), Kind: "tool_call", Name: "taskwire_next_task"})
	require.NoError(t, err)

	records, err := repo.ByName("taskwire_status", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestStats(t *testing.T) {
	repo := NewRepository(newTestDB(t))

	now := time.Now().UTC()
	_, err := repo.Insert(Record{InvokedAt: now, Kind: "tool_call", Name: "taskwire_update_task", IsError: true, Error: "conflict"})
	require.NoError(t, err)
	_, err = repo.Insert(Record{InvokedAt: now, Kind: "tool_call", Name: "taskwire_update_task"})
	require.NoError(t, err)
	_, err = repo.Insert(Record{InvokedAt: now, Kind: "resource_read", Name: "taskwire://tasks"})
	require.NoError(t, err)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, "taskwire_update_task", stats[0].Name)
	require.Equal(t, 2, stats[0].Calls)
	require.Equal(t, 1, stats[0].Errors)
}

func TestPruneBefore(t *testing.T) {
	repo := NewRepository(newTestDB(t))

	old := time.Now().Add(-48 * time.Hour).UTC()
	_, err := repo.Insert(Record{InvokedAt: old, Kind: "tool_call", Name: "old"})
	require.NoError(t, err)
	_, err = repo.Insert(Record{InvokedAt: time.Now().UTC(), Kind: "tool_call", Name: "new"})
	require.NoError(t, err)

	pruned, err := repo.PruneBefore(time.Now().Add(-24 * time.Hour).UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	records, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "new", records[0].Name)
}

func TestRecorderJournalsBrokerEvents(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	broker := pubsub.NewBroker[mcp.Invocation]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := NewRecorder(repo).Start(ctx, broker)

	broker.Publish(pubsub.CreatedEvent, mcp.Invocation{
		Timestamp:   time.Now().UTC(),
		Kind:        mcp.InvocationToolCall,
		Name:        "taskwire_status",
		RequestJSON: json.RawMessage(`{"name":"taskwire_status"}`),
		Duration:    10 * time.Millisecond,
	})
	broker.Publish(pubsub.CreatedEvent, mcp.Invocation{
		Timestamp: time.Now().UTC(),
		Kind:      mcp.InvocationToolCall,
		Name:      "taskwire_update_task",
		IsError:   true,
		Error:     "validation error: task_designator is required",
	})

	require.Eventually(t, func() bool {
		records, err := repo.Recent(10)
		return err == nil && len(records) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop after cancel")
	}

	records, err := repo.ByName("taskwire_update_task", 1)
	require.NoError(t, err)
	require.True(t, records[0].IsError)
	require.Contains(t, records[0].Error, "validation error")
}
