package handlers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/lounis13/taskflow/internal/services"
	"github.com/lounis13/taskflow/internal/sse"
)

type RealtimeHandler struct {
	hub *sse.Hub
}

func NewRealtimeHandler(hub *sse.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// GET /api/sse/stream streams job lifecycle events to the client.
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	client := h.hub.NewClient()
	h.hub.AddChannel(client, services.JobsChannel)
	defer h.hub.RemoveClient(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client.Outbound:
			if !ok {
				return false
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return true
			}
			c.SSEvent(string(msg.Event), string(data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
