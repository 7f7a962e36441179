package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/chatsync/audit"
	"github.com/workmesh/chatsync/model"
	"github.com/workmesh/chatsync/testutil"
	"go.uber.org/zap"
)

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, zap.NewNop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestLog_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, zap.NewNop())

	svc.Log(audit.Entry{
		TraceID:    "trace-123",
		ActorID:    "alice",
		TargetID:   "bob",
		Action:     "friend_send",
		Request:    map[string]string{"target_user_id": "bob"},
		Response:   map[string]string{"status": "pending"},
		IP:         "127.0.0.1",
		DurationMs: 4,
	})

	// Stop flushes remaining entries.
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	assert.Equal(t, "alice", logs[0].ActorID)
	assert.Equal(t, "bob", logs[0].TargetID)
	assert.Equal(t, "friend_send", logs[0].Action)
	assert.JSONEq(t, `{"target_user_id":"bob"}`, string(logs[0].Request))
}

func TestLog_BatchOfMany(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, zap.NewNop())

	for i := 0; i < 10; i++ {
		svc.Log(audit.Entry{ActorID: "alice", Action: "friend_block"})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.EqualValues(t, 10, count)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := audit.New(db, zap.NewNop())
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}
