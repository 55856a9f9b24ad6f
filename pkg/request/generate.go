package request

import (
	"encoding/json"
	"net/http"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/engine"
)

// handleGenerate serves POST /api/generate, the native request shape: one
// JSON object in, either one JSON object out or (stream=true) an SSE stream
// of {token} events terminated by {done:true, stop_reason}.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), s.log, w, inference.NewError(inference.ErrorInvalidRequest, "invalid request body"))
		return
	}
	if req.Model == "" {
		writeError(r.Context(), s.log, w, inference.NewError(inference.ErrorInvalidRequest, "model is required"))
		return
	}
	if req.Prompt == "" && len(req.Messages) == 0 {
		writeError(r.Context(), s.log, w, inference.NewError(inference.ErrorInvalidRequest, "prompt or messages is required"))
		return
	}

	options := req.options()
	if err := options.Validate(); err != nil {
		writeError(r.Context(), s.log, w, err)
		return
	}

	stream := s.engine.Infer(r.Context(), req.Model, req.System, req.templateMessages(), options)

	if req.Stream {
		s.streamNative(w, r, req.Model, stream)
		return
	}
	s.respondNative(w, r, req.Model, stream)
}

func (s *Server) respondNative(w http.ResponseWriter, r *http.Request, model string, stream <-chan engine.TokenChunk) {
	var text string
	for chunk := range stream {
		if chunk.Done {
			if chunk.Err != nil {
				writeError(r.Context(), s.log, w, chunk.Err)
				return
			}
			s.tracker.ObserveTokens(model, chunk.Usage.CompletionTokens)
			writeJSON(w, http.StatusOK, generateResponse{
				Text:          text,
				StopReason:    chunk.Stop,
				TokensEmitted: chunk.Usage.CompletionTokens,
			})
			return
		}
		text += chunk.Fragment
	}
}

func (s *Server) streamNative(w http.ResponseWriter, r *http.Request, model string, stream <-chan engine.TokenChunk) {
	sse := newSSEWriter(w)
	for chunk := range stream {
		if chunk.Done {
			if chunk.Err != nil {
				_ = sse.writeJSON(generateStreamEvent{Done: true, StopReason: inference.StopError})
				return
			}
			s.tracker.ObserveTokens(model, chunk.Usage.CompletionTokens)
			_ = sse.writeJSON(generateStreamEvent{Done: true, StopReason: chunk.Stop})
			return
		}
		if err := sse.writeJSON(generateStreamEvent{Token: chunk.Fragment}); err != nil {
			return
		}
	}
}
