package request

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth answers GET /health with a 200 and a tiny status body. It
// never touches the registry or triggers a model load.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "serving"})
}
