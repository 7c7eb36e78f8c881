package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_PublishDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1 := b.Subscribe(ctx)
	sub2 := b.Subscribe(ctx)

	b.Publish(CreatedEvent, "hello")

	for _, sub := range []<-chan Event[string]{sub1, sub2} {
		select {
		case evt := <-sub:
			require.Equal(t, CreatedEvent, evt.Type)
			require.Equal(t, "hello", evt.Payload)
			require.False(t, evt.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBroker_PublishDropsWhenBufferFull(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx)

	// Nothing drains the subscriber, so the second publish must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(CreatedEvent, 1)
		b.Publish(CreatedEvent, 2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	evt := <-sub
	require.Equal(t, 1, evt.Payload)
}

func TestBroker_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := NewBroker[string]()
	b.Close()

	sub := b.Subscribe(context.Background())
	_, ok := <-sub
	require.False(t, ok, "channel from closed broker should be closed")
}

func TestBroker_ContextCancelRemovesSubscriber(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	require.Equal(t, 1, b.SubscriberCount())

	cancel()

	// The cleanup goroutine closes the channel.
	select {
	case _, ok := <-sub:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never closed after cancel")
	}
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestBroker_ConcurrentPublishAndClose(t *testing.T) {
	b := NewBroker[int]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = b.Subscribe(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(UpdatedEvent, n*100+j)
			}
		}(i)
	}

	b.Close()
	wg.Wait()

	// Second close is a no-op.
	b.Close()
}
