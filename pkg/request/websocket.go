package request

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/shimmy-run/shimmy/pkg/inference"
)

// handleWebSocket serves the bidirectional streaming endpoint: it accepts
// one request frame, replies with token frames, and terminates with a done
// frame. A client-initiated close cancels the in-flight generation.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	_, payload, err := conn.Read(ctx)
	if err != nil {
		return
	}

	var req generateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.writeWSError(ctx, conn, inference.NewError(inference.ErrorInvalidRequest, "invalid request frame"))
		return
	}
	if req.Model == "" {
		s.writeWSError(ctx, conn, inference.NewError(inference.ErrorInvalidRequest, "model is required"))
		return
	}
	if req.Prompt == "" && len(req.Messages) == 0 {
		s.writeWSError(ctx, conn, inference.NewError(inference.ErrorInvalidRequest, "prompt or messages is required"))
		return
	}

	options := req.options()
	if err := options.Validate(); err != nil {
		s.writeWSError(ctx, conn, err)
		return
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := s.engine.Infer(genCtx, req.Model, req.System, req.templateMessages(), options)

	for chunk := range stream {
		if chunk.Done {
			if chunk.Err != nil {
				s.writeWSError(ctx, conn, chunk.Err)
				return
			}
			s.tracker.ObserveTokens(req.Model, chunk.Usage.CompletionTokens)
			s.writeWSJSON(ctx, conn, generateStreamEvent{Done: true, StopReason: chunk.Stop})
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		}
		if err := s.writeWSJSON(ctx, conn, generateStreamEvent{Token: chunk.Fragment}); err != nil {
			// Write failure means the client went away: cancel the
			// in-flight generation rather than draining the stream.
			cancel()
			return
		}
	}
}

func (s *Server) writeWSJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) writeWSError(ctx context.Context, conn *websocket.Conn, err error) {
	var ierr *inference.Error
	if !errors.As(err, &ierr) {
		ierr = inference.Wrap(inference.ErrorInternal, "unexpected error", err)
	}
	_ = s.writeWSJSON(ctx, conn, map[string]any{
		"error": map[string]any{"message": ierr.Error(), "type": string(ierr.Kind)},
	})
	conn.Close(websocket.StatusNormalClosure, "error")
}
