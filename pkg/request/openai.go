package request

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/engine"
)

// handleChatCompletions serves POST /v1/chat/completions using the
// OpenAI-compatible request/response envelope.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), s.log, w, inference.NewError(inference.ErrorInvalidRequest, "invalid request body"))
		return
	}
	if req.Model == "" {
		writeError(r.Context(), s.log, w, inference.NewError(inference.ErrorInvalidRequest, "model is required"))
		return
	}
	if len(req.Messages) == 0 {
		writeError(r.Context(), s.log, w, inference.NewError(inference.ErrorInvalidRequest, "messages is required"))
		return
	}

	options := req.options()
	if err := options.Validate(); err != nil {
		writeError(r.Context(), s.log, w, err)
		return
	}

	system, messages := req.systemAndMessages()
	stream := s.engine.Infer(r.Context(), req.Model, system, messages, options)

	id := "chatcmpl-" + uuid.NewString()

	if req.Stream {
		s.streamChatCompletion(w, r, id, req.Model, stream)
		return
	}
	s.respondChatCompletion(w, r, id, req.Model, stream)
}

func (s *Server) respondChatCompletion(w http.ResponseWriter, r *http.Request, id, model string, stream <-chan engine.TokenChunk) {
	var content string
	for chunk := range stream {
		if chunk.Done {
			if chunk.Err != nil {
				writeError(r.Context(), s.log, w, chunk.Err)
				return
			}
			s.tracker.ObserveTokens(model, chunk.Usage.CompletionTokens)
			writeJSON(w, http.StatusOK, chatCompletionResponse{
				ID:      id,
				Object:  "chat.completion",
				Created: nowUnix(),
				Model:   model,
				Choices: []chatCompletionChoice{{
					Index:        0,
					Message:      chatCompletionMessage{Role: "assistant", Content: content},
					FinishReason: finishReasonFor(chunk.Stop),
				}},
				Usage: chatCompletionUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				},
			})
			return
		}
		content += chunk.Fragment
	}
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, id, model string, stream <-chan engine.TokenChunk) {
	sse := newSSEWriter(w)
	created := nowUnix()

	first := chatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []chatCompletionChunkChoice{{Index: 0, Delta: chatCompletionChunkDelta{Role: "assistant"}, FinishReason: nil}},
	}
	if err := sse.writeJSON(first); err != nil {
		return
	}

	for chunk := range stream {
		if chunk.Done {
			reason := finishReasonFor(chunk.Stop)
			if chunk.Err != nil {
				reason = "error"
			} else {
				s.tracker.ObserveTokens(model, chunk.Usage.CompletionTokens)
			}
			final := chatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []chatCompletionChunkChoice{{Index: 0, Delta: chatCompletionChunkDelta{}, FinishReason: &reason}},
			}
			_ = sse.writeJSON(final)
			sse.done()
			return
		}

		delta := chatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []chatCompletionChunkChoice{{Index: 0, Delta: chatCompletionChunkDelta{Content: chunk.Fragment}, FinishReason: nil}},
		}
		if err := sse.writeJSON(delta); err != nil {
			return
		}
	}
}
