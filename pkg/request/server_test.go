package request_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/engine"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
	"github.com/shimmy-run/shimmy/pkg/logging"
	"github.com/shimmy-run/shimmy/pkg/request"
)

type echoBackend struct{}
type echoHandle struct{}

func (echoHandle) Close() error { return nil }

func (echoBackend) Load(context.Context, inference.ModelSpec) (inference.Handle, error) {
	return echoHandle{}, nil
}

func (echoBackend) Generate(_ context.Context, _ inference.Handle, _ string, options inference.GenerationOptions, _ []string, emit inference.EmitFunc) (inference.StopReason, error) {
	for i := 0; i < 3; i++ {
		if emit("tok") == inference.EmitCancel {
			return inference.StopCancelled, nil
		}
	}
	return inference.StopNatural, nil
}

func (echoBackend) Release(inference.Handle) error { return nil }
func (echoBackend) ReentrantSafe() bool             { return true }

func newTestServer(t *testing.T) *request.Server {
	t.Helper()
	reg := models.NewRegistry(map[inference.BackendKind]inference.Backend{
		inference.BackendLocalGGUF: echoBackend{},
	})
	require.NoError(t, reg.Register(inference.ModelSpec{
		Name:           "tiny",
		Backend:        inference.BackendLocalGGUF,
		LocalGGUF:      &inference.LocalGGUFVariant{BasePath: "/models/tiny.gguf"},
		TemplateFamily: inference.TemplateChatML,
		ContextLength:  4096,
	}, false))

	eng := engine.New(reg, logging.NewDiscardLogger())
	return request.NewServer(eng, reg, logging.NewDiscardLogger(), prometheus.NewRegistry())
}

func TestHealthNeverBlocks(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatCompletionsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	body := `{"model":"tiny","messages":[{"role":"user","content":"Say OK."}],"max_tokens":4,"temperature":0}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "assistant", resp.Choices[0].Message.Role)
	require.Contains(t, []string{"stop", "length"}, resp.Choices[0].FinishReason)
	require.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
}

func TestChatCompletionsStreamingMatchesNonStreaming(t *testing.T) {
	s := newTestServer(t)
	nonStreamBody := `{"model":"tiny","messages":[{"role":"user","content":"hi"}],"max_tokens":4,"temperature":0,"seed":7}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(nonStreamBody)))
	var nonStream struct {
		Choices []struct {
			Message struct{ Content string `json:"content"` } `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nonStream))

	streamBody := `{"model":"tiny","messages":[{"role":"user","content":"hi"}],"max_tokens":4,"temperature":0,"seed":7,"stream":true}`
	streamRec := httptest.NewRecorder()
	s.ServeHTTP(streamRec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(streamBody)))

	var joined strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(streamRec.Body.Bytes()))
	sawDone := false
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
		if len(chunk.Choices) > 0 {
			joined.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	require.True(t, sawDone)
	require.Equal(t, nonStream.Choices[0].Message.Content, joined.String())
}

func TestChatCompletionsUnknownModel(t *testing.T) {
	s := newTestServer(t)
	body := `{"model":"ghost","messages":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "model_not_found", resp.Error.Type)
}

func TestGenerateInvalidOptions(t *testing.T) {
	s := newTestServer(t)
	body := `{"model":"tiny","prompt":"hi","max_tokens":-1}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_request_error", resp.Error.Type)
}

func TestListModelsOpenAIShape(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "tiny", resp.Data[0].ID)
}
