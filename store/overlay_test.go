package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/chatsync/store"
	"github.com/workmesh/chatsync/testutil"
)

func TestOverlay_DefaultStateIsNil(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	s := store.NewConversationOverlayStore(gdb, "alice")

	state, err := s.State(context.Background(), "conv1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestOverlay_ArchiveUnarchive(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()
	s := store.NewConversationOverlayStore(gdb, "alice")

	require.NoError(t, s.Archive(ctx, "conv1"))
	state, err := s.State(ctx, "conv1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.ArchivedAt)
	assert.Nil(t, state.PinnedAt)

	require.NoError(t, s.Unarchive(ctx, "conv1"))
	state, err = s.State(ctx, "conv1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Nil(t, state.ArchivedAt)
}

func TestOverlay_FlagsAreIndependent(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()
	s := store.NewConversationOverlayStore(gdb, "alice")

	require.NoError(t, s.Archive(ctx, "conv1"))
	require.NoError(t, s.Pin(ctx, "conv1"))
	require.NoError(t, s.Delete(ctx, "conv1"))

	state, err := s.State(ctx, "conv1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.ArchivedAt)
	assert.NotNil(t, state.PinnedAt)
	assert.NotNil(t, state.DeletedAt)

	// Clearing one flag leaves the others alone.
	require.NoError(t, s.Unpin(ctx, "conv1"))
	state, err = s.State(ctx, "conv1")
	require.NoError(t, err)
	assert.Nil(t, state.PinnedAt)
	assert.NotNil(t, state.ArchivedAt)
	assert.NotNil(t, state.DeletedAt)
}

func TestOverlay_SetFlagIsIdempotent(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()
	s := store.NewConversationOverlayStore(gdb, "alice")

	require.NoError(t, s.Pin(ctx, "conv1"))
	require.NoError(t, s.Pin(ctx, "conv1"))

	state, err := s.State(ctx, "conv1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.NotNil(t, state.PinnedAt)
}

func TestOverlay_ClearWithoutRowIsNoop(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()
	s := store.NewConversationOverlayStore(gdb, "alice")

	require.NoError(t, s.Unarchive(ctx, "conv1"))
	state, err := s.State(ctx, "conv1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestOverlay_ViewerScoped(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	ctx := context.Background()

	alice := store.NewConversationOverlayStore(gdb, "alice")
	bob := store.NewConversationOverlayStore(gdb, "bob")

	require.NoError(t, alice.Archive(ctx, "conv1"))

	state, err := bob.State(ctx, "conv1")
	require.NoError(t, err)
	assert.Nil(t, state, "alice's archive must not leak into bob's overlay")
}
