package store_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/scheduler"
	"github.com/workmesh/chatsync/store"
	"go.uber.org/zap"
)

func newPresenceService(t *testing.T, p bus.Presence, viewer string, opts store.PresenceOptions) *store.PresenceService {
	t.Helper()
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)
	if opts.Heartbeat == 0 {
		opts.Heartbeat = 50 * time.Millisecond
	}
	return store.NewPresenceService(p, sched, viewer, opts, zap.NewNop())
}

func TestPresence_PeersSeeEachOther(t *testing.T) {
	p := bus.NewPresence()
	ctx := context.Background()

	alice := newPresenceService(t, p, "alice", store.PresenceOptions{})
	bob := newPresenceService(t, p, "bob", store.PresenceOptions{})

	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop()

	require.Eventually(t, func() bool {
		return alice.IsOnline("bob") && bob.IsOnline("alice")
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, alice.IsOnline("alice"))
}

func TestPresence_SyncSnapshotOnJoin(t *testing.T) {
	p := bus.NewPresence()
	ctx := context.Background()

	alice := newPresenceService(t, p, "alice", store.PresenceOptions{})
	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()

	// A late joiner learns about alice from the sync snapshot, not from a
	// join event it never saw.
	bob := newPresenceService(t, p, "bob", store.PresenceOptions{})
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop()

	require.Eventually(t, func() bool {
		return bob.IsOnline("alice")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresence_StopEmitsLeave(t *testing.T) {
	p := bus.NewPresence()
	ctx := context.Background()

	alice := newPresenceService(t, p, "alice", store.PresenceOptions{})
	bob := newPresenceService(t, p, "bob", store.PresenceOptions{})
	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()
	require.NoError(t, bob.Start(ctx))

	require.Eventually(t, func() bool {
		return alice.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	bob.Stop()
	require.Eventually(t, func() bool {
		return !alice.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresence_HiddenClientStaysInvisible(t *testing.T) {
	p := bus.NewPresence()
	ctx := context.Background()

	var visible atomic.Bool
	alice := newPresenceService(t, p, "alice", store.PresenceOptions{})
	bob := newPresenceService(t, p, "bob", store.PresenceOptions{
		Visible: visible.Load,
	})

	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop()

	// Backgrounded at start: neither the initial announce nor heartbeats
	// may claim bob is online.
	time.Sleep(200 * time.Millisecond)
	assert.False(t, alice.IsOnline("bob"))

	// Coming to the foreground announces immediately.
	visible.Store(true)
	bob.Foreground(ctx)
	require.Eventually(t, func() bool {
		return alice.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresence_HeartbeatRestoresMembership(t *testing.T) {
	p := bus.NewPresence()
	ctx := context.Background()

	alice := newPresenceService(t, p, "alice", store.PresenceOptions{})
	bob := newPresenceService(t, p, "bob", store.PresenceOptions{Heartbeat: 300 * time.Millisecond})
	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop()

	require.Eventually(t, func() bool {
		return alice.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)

	// Evict bob behind his back; the next heartbeat re-tracks him.
	require.NoError(t, p.Untrack(ctx, "online-users", "bob"))
	require.Eventually(t, func() bool {
		return !alice.IsOnline("bob")
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return alice.IsOnline("bob")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresence_OnlineSnapshot(t *testing.T) {
	p := bus.NewPresence()
	ctx := context.Background()

	alice := newPresenceService(t, p, "alice", store.PresenceOptions{})
	bob := newPresenceService(t, p, "bob", store.PresenceOptions{})
	require.NoError(t, alice.Start(ctx))
	defer alice.Stop()
	require.NoError(t, bob.Start(ctx))
	defer bob.Stop()

	require.Eventually(t, func() bool {
		return len(alice.Online()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"alice", "bob"}, alice.Online())
}
