package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
)

// conversationSummary is the list-endpoint projection.
type conversationSummary struct {
	ID string `json:"id"`
}

// messageView is the wire projection of a stored message.
type messageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	Thinking  string    `json:"thinking,omitempty"`
	Compacted bool      `json:"compacted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// conversationView is the get-endpoint projection.
type conversationView struct {
	ID        string        `json:"id"`
	Summary   string        `json:"summary,omitempty"`
	Messages  []messageView `json:"messages"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (s *Server) handleListConversations(c echo.Context) error {
	ids, err := s.store.List(c.Request().Context(), ownerID(c))
	if err != nil {
		return s.storeError(c, err)
	}
	summaries := make([]conversationSummary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, conversationSummary{ID: id})
	}
	return c.JSON(http.StatusOK, summaries)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.store.Get(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return s.storeError(c, err)
	}

	msgs := make([]messageView, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, messageView{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			ToolName:  m.ToolName,
			Thinking:  m.Thinking,
			Compacted: m.Compacted,
			CreatedAt: m.Timestamp,
		})
	}
	return c.JSON(http.StatusOK, conversationView{
		ID:        conv.ID,
		Summary:   conv.Summary,
		Messages:  msgs,
		Version:   conv.Version,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	})
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), ownerID(c), c.Param("id")); err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) storeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	case errors.Is(err, ledger.ErrConcurrentModification):
		return c.JSON(http.StatusConflict, map[string]string{"error": "conversation was modified concurrently"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
