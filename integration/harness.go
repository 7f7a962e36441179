package integration

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	apirest "github.com/workmesh/chatsync/api/rest"
	"github.com/workmesh/chatsync/api/sse"
	"github.com/workmesh/chatsync/audit"
	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/config"
	mw "github.com/workmesh/chatsync/middleware"
	"github.com/workmesh/chatsync/store"
	"github.com/workmesh/chatsync/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with the full sync layer wired
// together: friends service, audit trail, event stream, and the shared
// in-process bus the client stores subscribe to.
type TestServer struct {
	DB     *gorm.DB
	PubSub bus.PubSub
	Audit  *audit.Service
	Server *httptest.Server
	URL    string
}

// NewTestServer boots the whole service against in-memory SQLite and the
// in-process bus, mirroring the production composition root.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.SetupTestDB(t)
	ps := testutil.SetupTestBus(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: testutil.Secret}

	auditSvc := audit.New(gdb, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	friendsH := apirest.NewFriendsHandler(gdb, ps, auditSvc, logger)
	sseH := sse.NewHandler(ps, sec, logger)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.GET("/api/events", sseH.ServeEvents)
	g := r.Group("/api/friends", mw.Auth(sec))
	g.GET("/list", friendsH.List)
	g.GET("/search", friendsH.Search)
	g.GET("/status", friendsH.Status)
	g.POST("/send", friendsH.Send)
	g.POST("/accept", friendsH.Accept)
	g.POST("/decline", friendsH.Decline)
	g.POST("/cancel", friendsH.Cancel)
	g.POST("/remove", friendsH.Remove)
	g.POST("/block", friendsH.Block)
	g.POST("/unblock", friendsH.Unblock)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &TestServer{DB: gdb, PubSub: ps, Audit: auditSvc, Server: srv, URL: srv.URL}
}

// Client seeds a user row and returns a started RelationshipStore for it.
func (ts *TestServer) Client(t *testing.T, userID string) *store.RelationshipStore {
	t.Helper()
	testutil.SeedUser(t, ts.DB, userID, userID)
	s := store.NewRelationshipStore(store.RelationshipConfig{
		BaseURL:  ts.URL,
		Token:    testutil.Token(t, userID),
		ViewerID: userID,
	}, ts.PubSub, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}
