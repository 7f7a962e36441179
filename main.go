package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	apirest "github.com/workmesh/chatsync/api/rest"
	"github.com/workmesh/chatsync/api/sse"
	"github.com/workmesh/chatsync/audit"
	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/config"
	"github.com/workmesh/chatsync/db"
	mw "github.com/workmesh/chatsync/middleware"
	"github.com/workmesh/chatsync/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		log.Fatal("security.jwt_secret must be set")
	}

	// ---- Database ----
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Realtime bus ----
	ps, err := bus.NewPubSub(cfg.Bus)
	if err != nil {
		log.Fatalf("bus: %v", err)
	}
	logger.Info("Bus initialized", zap.Bool("redis", cfg.Bus.RedisAddr != ""))

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- Audit trail ----
	auditSvc := audit.New(gdb, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Event stream ----
	sseH := sse.NewHandler(ps, cfg.Security, logger)
	r.GET("/api/events", sseH.ServeEvents)

	// ---- Friends service routes ----
	friendsH := apirest.NewFriendsHandler(gdb, ps, auditSvc, logger)

	api := r.Group("/api/friends")
	api.Use(mw.Auth(cfg.Security))
	{
		api.GET("/list", friendsH.List)
		api.GET("/search", friendsH.Search)
		api.GET("/status", friendsH.Status)
		api.POST("/send", friendsH.Send)
		api.POST("/accept", friendsH.Accept)
		api.POST("/decline", friendsH.Decline)
		api.POST("/cancel", friendsH.Cancel)
		api.POST("/remove", friendsH.Remove)
		api.POST("/block", friendsH.Block)
		api.POST("/unblock", friendsH.Unblock)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
