package testutil

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/workmesh/chatsync/api/rest"
	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/config"
	"github.com/workmesh/chatsync/db"
	mw "github.com/workmesh/chatsync/middleware"
	"github.com/workmesh/chatsync/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Secret is the JWT secret used across tests.
const Secret = "test-secret"

// SetupTestDB creates an in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Mode: db.ModeMemory})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(gdb), "SetupTestDB: AutoMigrate")
	return gdb
}

// SetupTestBus creates the in-process pub/sub bus (no Redis required).
func SetupTestBus(t *testing.T) bus.PubSub {
	t.Helper()
	ps, err := bus.NewPubSub(config.BusConfig{}) // empty RedisAddr → local
	require.NoError(t, err, "SetupTestBus: NewPubSub")
	return ps
}

// NewFriendsRouter wires a gin engine with the full friends route set and
// bearer auth, mirroring the production router in main.
func NewFriendsRouter(t *testing.T, gdb *gorm.DB, ps bus.PubSub) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	h := rest.NewFriendsHandler(gdb, ps, nil, logger)

	r := gin.New()
	g := r.Group("/api/friends", mw.Auth(config.SecurityConfig{JWTSecret: Secret}))
	g.GET("/list", h.List)
	g.GET("/search", h.Search)
	g.GET("/status", h.Status)
	g.POST("/send", h.Send)
	g.POST("/accept", h.Accept)
	g.POST("/decline", h.Decline)
	g.POST("/cancel", h.Cancel)
	g.POST("/remove", h.Remove)
	g.POST("/block", h.Block)
	g.POST("/unblock", h.Unblock)
	return r
}

// Token mints a bearer token for userID with the shared test secret.
func Token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := mw.GenerateToken(userID, Secret, 72*time.Hour)
	require.NoError(t, err, "Token: GenerateToken")
	return tok
}

// SeedUser inserts a minimal user row.
func SeedUser(t *testing.T, gdb *gorm.DB, id, username string) {
	t.Helper()
	require.NoError(t, gdb.Create(&model.User{ID: id, Username: username}).Error)
}
