package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamewiki/server/cache"
	"github.com/kasuganosora/gamewiki/server/hook"
	"go.uber.org/zap"
)

// Channel carries entity change notifications between server instances.
const Channel = "entity-events"

const (
	ChangeSaved   = "saved"
	ChangeDeleted = "deleted"
)

// Change is the payload of an "entity" event.
type Change struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
	ID       string `json:"id"`
	At       int64  `json:"at"` // unix millis
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, logger: logger, keepalive: 30 * time.Second}
}

// PublishHook announces successful saves and deletes to every subscriber.
func (h *Handler) PublishHook() hook.HookFn {
	return func(ctx context.Context, event string, ev *hook.EntityEvent) error {
		ch := Change{Type: ChangeSaved, Resource: ev.Resource, ID: ev.ID, At: time.Now().UnixMilli()}
		if event == hook.AfterEntityDelete {
			ch.Type = ChangeDeleted
		}
		b, err := json.Marshal(ch)
		if err != nil {
			return err
		}
		if err := h.pubsub.Publish(ctx, Channel, string(b)); err != nil {
			h.logger.Warn("sse publish failed", zap.Error(err), zap.String("resource", ev.Resource))
		}
		return nil
	}
}

// ServeSSE handles GET /api/events[?resource=items].
// It streams entity change events; the optional resource filter drops
// events for other collections.
func (h *Handler) ServeSSE(c *gin.Context) {
	filter := c.Query("resource")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event stream unavailable"})
		return
	}
	defer unsub()

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if filter != "" {
				var ch Change
				if json.Unmarshal([]byte(msg.Payload), &ch) != nil || ch.Resource != filter {
					continue
				}
			}
			fmt.Fprintf(c.Writer, "event: entity\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
