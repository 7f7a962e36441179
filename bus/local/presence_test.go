package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan *PresenceEvent) *PresenceEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for presence event")
		return nil
	}
}

func TestPresenceJoinDeliversSyncFirst(t *testing.T) {
	p := NewPresence()
	ctx := context.Background()

	require.NoError(t, p.Track(ctx, "room", "alice", "{}"))
	require.NoError(t, p.Track(ctx, "room", "bob", "{}"))

	ch, cancel, err := p.Join(ctx, "room", "carol")
	require.NoError(t, err)
	defer cancel()

	ev := recvEvent(t, ch)
	require.Equal(t, "sync", ev.Type)
	assert.ElementsMatch(t, []string{"alice", "bob"}, ev.Keys)
}

func TestPresenceTrackBroadcastsJoinOnce(t *testing.T) {
	p := NewPresence()
	ctx := context.Background()

	ch, cancel, err := p.Join(ctx, "room", "watcher")
	require.NoError(t, err)
	defer cancel()
	recvEvent(t, ch) // sync

	require.NoError(t, p.Track(ctx, "room", "alice", "{}"))
	ev := recvEvent(t, ch)
	assert.Equal(t, "join", ev.Type)
	assert.Equal(t, "alice", ev.Key)

	// A re-track is a heartbeat: meta refreshes, no second join.
	require.NoError(t, p.Track(ctx, "room", "alice", `{"t":1}`))
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event on heartbeat", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPresenceUntrackBroadcastsLeaveOnce(t *testing.T) {
	p := NewPresence()
	ctx := context.Background()

	ch, cancel, err := p.Join(ctx, "room", "watcher")
	require.NoError(t, err)
	defer cancel()
	recvEvent(t, ch) // sync

	require.NoError(t, p.Track(ctx, "room", "alice", "{}"))
	recvEvent(t, ch) // join

	require.NoError(t, p.Untrack(ctx, "room", "alice"))
	ev := recvEvent(t, ch)
	assert.Equal(t, "leave", ev.Type)
	assert.Equal(t, "alice", ev.Key)

	// Untracking an absent key stays silent.
	require.NoError(t, p.Untrack(ctx, "room", "alice"))
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event on duplicate untrack", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPresenceTopicsAreIsolated(t *testing.T) {
	p := NewPresence()
	ctx := context.Background()

	ch, cancel, err := p.Join(ctx, "room-a", "watcher")
	require.NoError(t, err)
	defer cancel()
	recvEvent(t, ch) // sync

	require.NoError(t, p.Track(ctx, "room-b", "alice", "{}"))
	select {
	case ev := <-ch:
		t.Fatalf("event %s leaked across topics", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPresenceCancelKeepsMembership(t *testing.T) {
	p := NewPresence()
	ctx := context.Background()

	require.NoError(t, p.Track(ctx, "room", "alice", "{}"))

	ch, cancel, err := p.Join(ctx, "room", "alice")
	require.NoError(t, err)
	recvEvent(t, ch) // sync
	cancel()

	// Cancelling the subscription does not untrack; a new joiner still
	// sees alice until she untracks explicitly.
	ch2, cancel2, err := p.Join(ctx, "room", "bob")
	require.NoError(t, err)
	defer cancel2()
	ev := recvEvent(t, ch2)
	assert.ElementsMatch(t, []string{"alice"}, ev.Keys)
}

// A Track racing with Join must never land a join on the channel before
// the snapshot. Folding the stream from the sync onward therefore always
// converges on the tracked membership.
func TestPresenceJoinSnapshotNeverTrailsConcurrentTrack(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		p := NewPresence()

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = p.Track(ctx, "room", "walker", "{}")
		}()

		ch, cancel, err := p.Join(ctx, "room", "observer")
		require.NoError(t, err)
		<-done

		ev := recvEvent(t, ch)
		require.Equal(t, "sync", ev.Type, "first event must be the snapshot")

		members := make(map[string]bool)
		for _, k := range ev.Keys {
			members[k] = true
		}
	fold:
		for {
			select {
			case ev := <-ch:
				switch ev.Type {
				case "join":
					members[ev.Key] = true
				case "leave":
					delete(members, ev.Key)
				}
			default:
				break fold
			}
		}

		assert.True(t, members["walker"], "tracked key lost between snapshot and deltas")
		cancel()
	}
}
