package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/convoq/internal/conversation"
	"github.com/flemzord/convoq/internal/security"
	"github.com/flemzord/convoq/internal/tool"
)

// conversationSummary is the list view of a conversation.
type conversationSummary struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// messageRequest is the body of POST /api/conversations/{id}/messages.
type messageRequest struct {
	Message string `json:"message"`
}

// toolJSON describes a registered tool.
type toolJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	c, err := s.Manager.CreateConversation(r.Context())
	if err != nil {
		s.Logger.Error("create conversation failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.Manager.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationSummary{
			ID:        c.ID,
			ThreadID:  c.ThreadID(),
			Messages:  len(c.Messages),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.Manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.Limiter.Allow(clientKey(r)); err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.MaxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	resp, err := s.Manager.ProcessMessage(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.Manager.RefreshContext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	code := http.StatusOK
	if res.Status != conversation.RefreshSuccess {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, res)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Manager.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleTools(w http.ResponseWriter, _ *http.Request) {
	out := []toolJSON{}
	if s.Registry != nil {
		for _, def := range s.Registry.Definitions() {
			params, err := tool.RawSchema(def)
			if err != nil {
				continue
			}
			out = append(out, toolJSON{Name: def.Name, Description: def.Description, Parameters: params})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, security.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.Logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
