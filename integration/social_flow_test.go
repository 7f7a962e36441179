package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/chatsync/model"
)

func TestFriendRequestFlow(t *testing.T) {
	ts := NewTestServer(t)
	alice := ts.Client(t, "alice")
	bob := ts.Client(t, "bob")
	ctx := context.Background()

	// Alice sends; her outgoing and bob's incoming converge.
	rel, err := alice.Send(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, alice.Outgoing(), 1)
	require.Eventually(t, func() bool {
		return len(bob.Incoming()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Bob accepts; both sides end up friends.
	require.NoError(t, bob.Accept(ctx, rel.ID))
	require.Len(t, bob.Friends(), 1)
	assert.Empty(t, bob.Incoming())
	require.Eventually(t, func() bool {
		return len(alice.Friends()) == 1 && len(alice.Outgoing()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bob", alice.Friends()[0].User.ID)
}

func TestBlockFlow(t *testing.T) {
	ts := NewTestServer(t)
	alice := ts.Client(t, "alice")
	bob := ts.Client(t, "bob")
	ctx := context.Background()

	rel, err := alice.Send(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, bob.Accept(ctx, rel.ID))

	// Alice blocks: the friendship vanishes on both sides and only alice
	// carries the blocked entry.
	require.NoError(t, alice.Block(ctx, "bob"))
	assert.Empty(t, alice.Friends())
	require.Len(t, alice.Blocked(), 1)
	require.Eventually(t, func() bool {
		return len(bob.Friends()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.Blocked())

	// Bob's attempts to reconnect are rejected while the block stands.
	_, err = bob.Send(ctx, "alice")
	require.Error(t, err)

	// Unblock reverts the pair to none; bob can try again.
	require.NoError(t, alice.Unblock(ctx, "bob"))
	_, err = bob.Send(ctx, "alice")
	require.NoError(t, err)
}

func TestDeclineAndReRequestFlow(t *testing.T) {
	ts := NewTestServer(t)
	alice := ts.Client(t, "alice")
	bob := ts.Client(t, "bob")
	ctx := context.Background()

	rel, err := alice.Send(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, bob.Decline(ctx, rel.ID))

	assert.Empty(t, bob.Incoming())
	require.Eventually(t, func() bool {
		return len(alice.Outgoing()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The declined record revives as a fresh request from bob.
	rel2, err := bob.Send(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, rel.ID, rel2.ID)
	assert.Equal(t, "bob", rel2.RequesterID)
	require.Eventually(t, func() bool {
		return len(alice.Incoming()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMutationsLeaveAuditTrail(t *testing.T) {
	ts := NewTestServer(t)
	alice := ts.Client(t, "alice")
	bob := ts.Client(t, "bob")
	ctx := context.Background()

	rel, err := alice.Send(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, bob.Accept(ctx, rel.ID))
	require.NoError(t, alice.Block(ctx, "bob"))

	ts.Audit.Stop(ctx) // flush

	var logs []model.AuditLog
	require.NoError(t, ts.DB.Order("id").Find(&logs).Error)
	require.Len(t, logs, 3)
	assert.Equal(t, "friend_send", logs[0].Action)
	assert.Equal(t, "alice", logs[0].ActorID)
	assert.Equal(t, "friend_accept", logs[1].Action)
	assert.Equal(t, "bob", logs[1].ActorID)
	assert.Equal(t, "friend_block", logs[2].Action)
	assert.NotEmpty(t, logs[0].TraceID)
}
