package sse

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/config"
	mw "github.com/workmesh/chatsync/middleware"
	"go.uber.org/zap"
)

// keepaliveInterval paces comment lines that keep proxies from timing out
// an idle stream.
const keepaliveInterval = 30 * time.Second

// Handler streams realtime bus topics to clients over server-sent events.
// It is the push half of the sync layer for clients that cannot hold a
// direct bus subscription.
type Handler struct {
	ps     bus.PubSub
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(ps bus.PubSub, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{ps: ps, sec: sec, logger: logger}
}

// ServeEvents handles GET /api/events?token=<jwt>[&conversations=a,b].
// EventSource cannot set an Authorization header, so the credential rides
// in the query string. The stream always carries the relationship and
// conversation change feeds; typing topics are added per requested
// conversation. Row filtering stays client-side.
func (h *Handler) ServeEvents(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	if _, err := mw.ParseToken(tokenStr, h.sec.JWTSecret); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	topics := []string{
		bus.ChangeTopic("user_relationships"),
		bus.ChangeTopic("conversations"),
	}
	if convs := c.Query("conversations"); convs != "" {
		for _, id := range strings.Split(convs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				topics = append(topics, bus.TypingTopic(id))
			}
		}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	msgCh, unsub, err := h.ps.Subscribe(c.Request.Context(), topics...)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Topic, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
