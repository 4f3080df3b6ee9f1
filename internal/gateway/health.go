package gateway

import "net/http"

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Conversations int    `json:"conversations"`
	Tools         int    `json:"tools"`
}

// handleHealth reports 503 when the conversation store cannot be read.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.Registry != nil {
		resp.Tools = s.Registry.Len()
	}
	if s.Manager != nil {
		convs, err := s.Manager.List(r.Context())
		if err != nil {
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Conversations = len(convs)
	}
	writeJSON(w, http.StatusOK, resp)
}
