// ABOUTME: Tests for the generic Broadcaster fan-out
// ABOUTME: Covers topic isolation, slow consumers, context cleanup and Close

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AryaPawar0402/chatsync/internal/message"
)

func inbound(id, content string) message.Message {
	return message.Message{ID: id, SenderID: "2", ReceiverID: "1", Content: content, Status: message.StatusSent}
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster[message.Message](nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "1")
	ch2, _ := b.Subscribe(ctx, "1")

	b.Publish("1", inbound("m-1", "hello"))

	for i, ch := range []<-chan message.Message{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "m-1", got.ID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_TopicsAreIsolated(t *testing.T) {
	b := NewBroadcaster[message.Message](nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx, "1")
	ch2, _ := b.Subscribe(ctx, "2")

	b.Publish("1", inbound("m-2", "for one"))

	select {
	case got := <-ch1:
		assert.Equal(t, "m-2", got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for 1 timed out")
	}
	select {
	case <-ch2:
		t.Fatal("subscriber for 2 received an event for 1")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster[message.Message](nil)
	defer b.Close()

	ctx := t.Context()
	_, _ = b.Subscribe(ctx, "1")
	fast, _ := b.Subscribe(ctx, "1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 3 * subscriberBufferSize {
			b.Publish("1", inbound("m", "spam"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	assert.NotEmpty(t, fast)
}

func TestBroadcaster_ContextCancellationClosesChannel(t *testing.T) {
	b := NewBroadcaster[message.StatusUpdate](nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "1")
	require.Equal(t, 1, b.Subscribers("1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.Subscribers("1"))
}

func TestBroadcaster_UnsubscribeThenPublishIsSafe(t *testing.T) {
	b := NewBroadcaster[message.Message](nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), "1")
	b.Unsubscribe("1", subID)
	b.Unsubscribe("1", subID)

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Publish("1", inbound("m-3", "late")) })
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster[message.Message](nil)

	ch1, _ := b.Subscribe(t.Context(), "1")
	ch2, _ := b.Subscribe(t.Context(), "2")
	b.Close()

	for i, ch := range []<-chan message.Message{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster[message.Message](nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, _ := b.Subscribe(ctx, "1")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(200 * time.Millisecond):
					return
				}
			}
		})
	}
	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish("1", inbound("c", "concurrent"))
			}
		})
	}
	wg.Wait()
}
