package httpapi

import "net/http"

func (s *Server) handlePerfDelivery(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"ops":          []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}
