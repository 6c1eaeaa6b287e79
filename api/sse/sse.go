// Package sse streams the live audit feed to privileged agents.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/sgic-platform/sgic-audit/audit"
	"github.com/sgic-platform/sgic-audit/cache"
	"github.com/sgic-platform/sgic-audit/capture"
	"github.com/sgic-platform/sgic-audit/model"
	"go.uber.org/zap"
)

const keepalive = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, logger: logger, keepalive: keepalive}
}

// feedEvent is the part of a published entry used for filtering.
type feedEvent struct {
	ID      int64            `json:"id"`
	Action  model.ActionKind `json:"action"`
	ActorID *int64           `json:"actor_id"`
	Success bool             `json:"success"`
}

// filter narrows the feed by ?action=A,B and ?failures=1.
type filter struct {
	actions      map[model.ActionKind]bool
	failuresOnly bool
}

func parseFilter(c *gin.Context) filter {
	f := filter{failuresOnly: c.Query("failures") == "1" || c.Query("failures") == "true"}
	if v := c.Query("action"); v != "" {
		f.actions = map[model.ActionKind]bool{}
		for _, a := range strings.Split(v, ",") {
			f.actions[model.ActionKind(strings.ToUpper(strings.TrimSpace(a)))] = true
		}
	}
	return f
}

func (f filter) match(ev feedEvent) bool {
	if f.actions != nil && !f.actions[ev.Action] {
		return false
	}
	return !f.failuresOnly || !ev.Success
}

// ServeSSE handles GET /api/audit/stream?token=<jwt>. It runs behind the
// auth, identify and privileged-role middleware and writes no audit entry
// of its own.
func (h *Handler) ServeSSE(c *gin.Context) {
	capture.Skip(c)
	f := parseFilter(c)

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, audit.FeedChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed unavailable"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	actor := audit.FromContext(c.Request.Context()).Actor
	hello, _ := json.Marshal(gin.H{"actor": actor.Name, "channel": audit.FeedChannel})
	fmt.Fprintf(c.Writer, "event: connected\ndata: %s\n\n", hello)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var ev feedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warn("sse dropped malformed feed message", zap.Error(err))
				continue
			}
			if !f.match(ev) {
				continue
			}
			fmt.Fprintf(c.Writer, "id: %d\nevent: audit\ndata: %s\n\n", ev.ID, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// comment line keeps proxies from timing out
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
