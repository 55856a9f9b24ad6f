package models_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
	"github.com/shimmy-run/shimmy/pkg/logging"
)

func TestHTTPHandlerLoadAndStatus(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	require.NoError(t, r.Register(testSpec("tiny"), false))
	h := models.NewHTTPHandler(r, logging.NewDiscardLogger())

	body, _ := json.Marshal(map[string]string{"name": "tiny"})
	req := httptest.NewRequest(http.MethodPost, "/api/models/load", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/models/status", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tiny")
}

func TestHTTPHandlerLoadUnknownModel(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	h := models.NewHTTPHandler(r, logging.NewDiscardLogger())

	body, _ := json.Marshal(map[string]string{"name": "ghost"})
	req := httptest.NewRequest(http.MethodPost, "/api/models/load", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "model_not_found")
}

func TestHTTPHandlerListOpenAI(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	require.NoError(t, r.Register(testSpec("tiny"), false))
	h := models.NewHTTPHandler(r, logging.NewDiscardLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, "tiny", list.Data[0].ID)
}

// TestDiscoveryFeedsRegistryThroughHTTP places a base model and its LoRA
// adapter on disk, lets the registry discover them, and confirms the
// discovered model (with its inferred template family and wired adapter
// path) surfaces through the GET /v1/models HTTP surface without any
// manual registration.
func TestDiscoveryFeedsRegistryThroughHTTP(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo-llama3.gguf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo-llama3.adapter.gguf"), []byte("x"), 0o644))

	r := newTestRegistry(&countingBackend{})
	scanner := models.NewScanner([]string{root})
	n, err := r.AutoRegisterDiscovered(scanner)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	spec, ok := r.Get("foo-llama3")
	require.True(t, ok)
	require.Equal(t, inference.TemplateLlama3, spec.TemplateFamily)
	require.Equal(t, filepath.Join(root, "foo-llama3.adapter.gguf"), spec.LocalGGUF.AdapterPath)

	h := models.NewHTTPHandler(r, logging.NewDiscardLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.Equal(t, "foo-llama3", list.Data[0].ID)
}

func TestHTTPHandlerUnload(t *testing.T) {
	r := newTestRegistry(&countingBackend{})
	require.NoError(t, r.Register(testSpec("tiny"), false))
	h := models.NewHTTPHandler(r, logging.NewDiscardLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/models/tiny", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
