package history

import (
	"context"

	"github.com/taskwire/taskwire/internal/log"
	"github.com/taskwire/taskwire/internal/mcp"
	"github.com/taskwire/taskwire/internal/pubsub"
)

// Recorder drains the MCP server's invocation broker into the journal.
type Recorder struct {
	repo *Repository
}

func NewRecorder(repo *Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Start subscribes to the broker and journals events until ctx is cancelled
// or the broker closes. The returned channel closes when the recorder is
// fully drained, for shutdown ordering.
func (r *Recorder) Start(ctx context.Context, broker *pubsub.Broker[mcp.Invocation]) <-chan struct{} {
	events := broker.Subscribe(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for evt := range events {
			r.record(evt.Payload)
		}
	}()

	return done
}

func (r *Recorder) record(inv mcp.Invocation) {
	_, err := r.repo.Insert(Record{
		InvokedAt:    inv.Timestamp,
		Kind:         string(inv.Kind),
		Name:         inv.Name,
		RequestJSON:  string(inv.RequestJSON),
		ResponseJSON: string(inv.ResponseJSON),
		Duration:     inv.Duration,
		IsError:      inv.IsError,
		Error:        inv.Error,
	})
	if err != nil {
		// Journal failures must never disturb the agent's traffic.
		log.ErrorErr(log.CatHistory, "Failed to journal invocation", err, "name", inv.Name)
	}
}
