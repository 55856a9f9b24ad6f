package models

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/memory"
	"github.com/shimmy-run/shimmy/pkg/logging"
)

// HTTPHandler exposes the registry surface named in the request pipeline
// design: GET /api/models/status, POST /api/models/load, DELETE
// /api/models/{name}, and GET /v1/models.
type HTTPHandler struct {
	registry  *Registry
	log       logging.Logger
	router    *http.ServeMux
	startedAt int64
}

// NewHTTPHandler builds an HTTPHandler wrapping registry. startedAt is
// recorded once, at construction time, and reported as the "created" field
// of every /v1/models entry, since the registry has no per-model load
// timestamp to report instead.
func NewHTTPHandler(registry *Registry, log logging.Logger) *HTTPHandler {
	h := &HTTPHandler{registry: registry, log: log, router: http.NewServeMux(), startedAt: time.Now().Unix()}
	for route, handler := range h.routeHandlers() {
		h.router.HandleFunc(route, handler)
	}
	return h
}

func (h *HTTPHandler) routeHandlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"GET " + inference.ModelsPrefix + "/status":       h.handleStatus,
		"POST " + inference.ModelsPrefix + "/load":        h.handleLoad,
		"DELETE " + inference.ModelsPrefix + "/{name...}": h.handleUnload,
		"GET /v1/models":                                  h.handleListOpenAI,
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type statusResponse struct {
	Models []Status `json:"models"`
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Models: h.registry.Status()})
}

type loadRequest struct {
	Name string `json:"name"`
}

func (h *HTTPHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, inference.NewError(inference.ErrorInvalidRequest, "invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, inference.NewError(inference.ErrorInvalidRequest, "name is required"))
		return
	}

	if spec, ok := h.registry.Get(req.Name); ok {
		h.warnIfMemoryTight(spec)
	}

	ctx, cancel := context.WithTimeout(r.Context(), inference.DefaultLoadTimeout*time.Second)
	defer cancel()

	lm, err := h.registry.Load(ctx, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.registry.Release(lm)

	writeJSON(w, http.StatusOK, map[string]any{"name": req.Name, "loaded": true})
}

// warnIfMemoryTight estimates spec's memory requirement against detected
// host memory and logs a warning when it doesn't fit. The estimate is
// advisory only: it never blocks or fails the load.
func (h *HTTPHandler) warnIfMemoryTight(spec inference.ModelSpec) {
	if spec.LocalGGUF == nil {
		return
	}
	info, err := os.Stat(spec.LocalGGUF.BasePath)
	if err != nil {
		return
	}

	req := memory.EstimateForSpec(spec, uint64(info.Size()))
	avail, err := memory.DetectAvailable()
	if err != nil {
		h.log.WithError(err).WithField("model", spec.Name).Warn("failed to detect host memory; skipping fit check")
		return
	}

	if !memory.Fits(req, avail) {
		h.log.WithField("model", spec.Name).WithField("required", req.String()).Warn("model may not fit in available memory")
	}
}

func (h *HTTPHandler) handleUnload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, inference.NewError(inference.ErrorInvalidRequest, "name is required"))
		return
	}
	if err := h.registry.Unload(name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (h *HTTPHandler) handleListOpenAI(w http.ResponseWriter, _ *http.Request) {
	names := h.registry.List()
	data := make([]openAIModel, 0, len(names))
	for _, name := range names {
		data = append(data, openAIModel{ID: name, Object: "model", Created: h.startedAt, OwnedBy: "local"})
	}
	writeJSON(w, http.StatusOK, openAIModelList{Object: "list", Data: data})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes err as a structured JSON error body in the OpenAI error
// shape, using the status code implied by its ErrorKind when err is an
// *inference.Error, or 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	var ierr *inference.Error
	if !errors.As(err, &ierr) {
		ierr = inference.Wrap(inference.ErrorInternal, "unexpected error", err)
	}
	body := map[string]any{
		"error": map[string]any{
			"message": ierr.Error(),
			"type":    string(ierr.Kind),
		},
	}
	if ierr.CorrelationID != "" {
		body["error"].(map[string]any)["code"] = ierr.CorrelationID
	}
	writeJSON(w, ierr.Kind.HTTPStatus(), body)
}
