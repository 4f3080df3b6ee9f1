package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/flemzord/convoq/internal/conversation"
)

// chatFrame is a message sent by a websocket client.
type chatFrame struct {
	Message string `json:"message"`
}

// handleChat upgrades to a websocket on which each text frame is a user
// message and each reply is a conversation.Response.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Manager.Get(r.Context(), id); err != nil {
		s.writeManagerError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.Logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()
	conn.SetReadLimit(s.MaxBody)

	logger := s.Logger.With("conversation_id", id, "remote_addr", r.RemoteAddr)
	logger.Info("chat connected")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				logger.Info("chat closed")
				_ = conn.Close(websocket.StatusNormalClosure, "")
			}
			return
		}

		var frame chatFrame
		if err := json.Unmarshal(data, &frame); err != nil || strings.TrimSpace(frame.Message) == "" {
			s.send(ctx, conn, map[string]string{"error": "expected {\"message\": \"...\"}"})
			continue
		}
		if err := s.Limiter.Allow(clientKey(r)); err != nil {
			s.send(ctx, conn, map[string]string{"error": err.Error()})
			continue
		}

		resp, err := s.Manager.ProcessMessage(ctx, id, frame.Message)
		if errors.Is(err, conversation.ErrConversationNotFound) {
			_ = conn.Close(websocket.StatusPolicyViolation, "conversation deleted")
			return
		}
		if err != nil {
			logger.Warn("chat message failed", "error", err)
			return
		}
		s.send(ctx, conn, resp)
	}
}

func (s *server) send(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.Logger.Debug("websocket write failed", "error", err)
	}
}
