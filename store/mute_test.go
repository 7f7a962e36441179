package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/chatsync/model"
	"github.com/workmesh/chatsync/store"
	"github.com/workmesh/chatsync/testutil"
)

func TestMuteRegistry_MuteForever(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	r := store.NewMuteRegistry(gdb, "alice")
	require.NoError(t, r.Load(ctx))

	require.NoError(t, r.Mute(ctx, "conv1", 0))
	assert.True(t, r.IsMuted("conv1"))

	var row model.ConversationMute
	require.NoError(t, gdb.Where("conversation_id = ? AND user_id = ?", "conv1", "alice").First(&row).Error)
	assert.Nil(t, row.MutedUntil)
}

func TestMuteRegistry_TimedMuteExpiresLazily(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	// An already-expired mute stays in the datastore but reads as unmuted.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, gdb.Create(&model.ConversationMute{
		ConversationID: "conv1", UserID: "alice", MutedUntil: &past,
	}).Error)

	r := store.NewMuteRegistry(gdb, "alice")
	require.NoError(t, r.Load(ctx))
	assert.False(t, r.IsMuted("conv1"))

	var count int64
	gdb.Model(&model.ConversationMute{}).Count(&count)
	assert.EqualValues(t, 1, count, "expired mutes are not cleaned up on read")
}

func TestMuteRegistry_TimedMuteActive(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	r := store.NewMuteRegistry(gdb, "alice")
	require.NoError(t, r.Load(ctx))

	require.NoError(t, r.Mute(ctx, "conv1", time.Hour))
	assert.True(t, r.IsMuted("conv1"))
}

func TestMuteRegistry_RemuteReplacesExpiry(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	r := store.NewMuteRegistry(gdb, "alice")
	require.NoError(t, r.Load(ctx))

	require.NoError(t, r.Mute(ctx, "conv1", time.Hour))
	require.NoError(t, r.Mute(ctx, "conv1", 0))

	// The upsert replaced the timed mute with a forever mute.
	var row model.ConversationMute
	require.NoError(t, gdb.Where("conversation_id = ? AND user_id = ?", "conv1", "alice").First(&row).Error)
	assert.Nil(t, row.MutedUntil)
	assert.True(t, r.IsMuted("conv1"))
}

func TestMuteRegistry_Unmute(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	r := store.NewMuteRegistry(gdb, "alice")
	require.NoError(t, r.Load(ctx))

	require.NoError(t, r.Mute(ctx, "conv1", 0))
	require.NoError(t, r.Unmute(ctx, "conv1"))
	assert.False(t, r.IsMuted("conv1"))

	var count int64
	gdb.Model(&model.ConversationMute{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestMuteRegistry_ViewerScoped(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	require.NoError(t, gdb.Create(&model.ConversationMute{
		ConversationID: "conv1", UserID: "bob",
	}).Error)

	r := store.NewMuteRegistry(gdb, "alice")
	require.NoError(t, r.Load(ctx))
	assert.False(t, r.IsMuted("conv1"))
}
