package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubBasic(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "test-topic")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "test-topic", "hello"))

	select {
	case msg := <-ch:
		assert.Equal(t, "test-topic", msg.Topic)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestPubSubUnsubscribe(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "topic")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after cancel")
	}

	// Publish to a topic with no subscribers must not block.
	assert.NoError(t, ps.Publish(ctx, "topic", "msg"))
}

func TestPubSubMultipleSubscribers(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch1, cancel1, _ := ps.Subscribe(ctx, "broadcast")
	ch2, cancel2, _ := ps.Subscribe(ctx, "broadcast")
	defer cancel1()
	defer cancel2()

	require.NoError(t, ps.Publish(ctx, "broadcast", "world"))

	for _, ch := range []<-chan *Message{ch1, ch2} {
		select {
		case msg := <-ch:
			assert.Equal(t, "world", msg.Payload)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestPubSubMultiTopicSubscription(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a", "b")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "a", "1"))
	require.NoError(t, ps.Publish(ctx, "b", "2"))
	require.NoError(t, ps.Publish(ctx, "c", "3"))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			got[msg.Topic] = msg.Payload
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on topic %s", msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPubSubSlowSubscriberDrops(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "busy")
	require.NoError(t, err)
	defer cancel()

	// Second publish overflows the buffer and is dropped, not blocked on.
	require.NoError(t, ps.Publish(ctx, "busy", "first"))
	require.NoError(t, ps.Publish(ctx, "busy", "second"))

	msg := <-ch
	assert.Equal(t, "first", msg.Payload)
	select {
	case <-ch:
		t.Fatal("overflowed message should have been dropped")
	case <-time.After(50 * time.Millisecond):
	}
}
