package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/laundryguy77/PeanutChat-sub000/turn"
)

// chatRequest is the POST /v1/chat body.
type chatRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Content        string   `json:"content"`
	Images         []string `json:"images,omitempty"`
	Model          string   `json:"model,omitempty"`
}

// handleChat runs one turn and streams its events as SSE. A client
// disconnect cancels the request context; the orchestrator winds the
// turn down silently.
func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	emitter := turn.EmitterFunc(func(event turn.Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	runErr := s.orchestrator.Run(c.Request().Context(), turn.Request{
		OwnerID:        ownerID(c),
		ConversationID: req.ConversationID,
		Content:        req.Content,
		Images:         req.Images,
		Model:          req.Model,
	}, emitter)
	if runErr != nil {
		// The failure was already delivered as an error event; the
		// SSE response is committed so there is nothing else to send.
		s.log.Warn("turn ended with error", zap.Error(runErr))
	}
	return nil
}
