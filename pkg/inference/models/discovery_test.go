package models_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestScanClassifiesAndNamesModels(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "foo-llama3.gguf"))
	touch(t, filepath.Join(root, "foo-llama3.adapter.gguf"))

	s := models.NewScanner([]string{root})
	found, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, found[0].NameHint, "foo-llama3")
	assert.Equal(t, found[0].TemplateFamily, inference.TemplateLlama3)
	assert.Equal(t, found[0].AdapterPath, filepath.Join(root, "foo-llama3.adapter.gguf"))
}

func TestScanExcludesDenylistedBinFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "whisper-base.bin"))
	touch(t, filepath.Join(root, "wav2vec-large.bin"))
	touch(t, filepath.Join(root, "pytorch_model.bin"))
	touch(t, filepath.Join(root, "model-config.bin"))

	s := models.NewScanner([]string{root})
	found, err := s.Scan()
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestScanExcludesTransientDirectories(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "target", "built.gguf"))
	touch(t, filepath.Join(root, ".git", "objects.gguf"))
	touch(t, filepath.Join(root, "keep.gguf"))

	s := models.NewScanner([]string{root})
	found, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, found[0].NameHint, "keep")
}

func TestScanAssignsCollisionSuffixes(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a", "dup.gguf"))
	touch(t, filepath.Join(root, "b", "dup.gguf"))

	s := models.NewScanner([]string{root})
	found, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, found, 2)
	names := []string{found[0].NameHint, found[1].NameHint}
	require.Contains(t, names, "dup")
	require.Contains(t, names, "dup-2")
}

func TestScanIsIdempotent(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "alpha.gguf"))
	touch(t, filepath.Join(root, "beta-qwen.gguf"))

	s := models.NewScanner([]string{root})
	first, err := s.Scan()
	require.NoError(t, err)
	second, err := s.Scan()
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("scan is not idempotent (-first +second):\n%s", diff)
	}
}

func TestInferTemplateFamilyRules(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "my-phi-model.gguf"))
	touch(t, filepath.Join(root, "openchat-7b.gguf"))
	touch(t, filepath.Join(root, "generic.gguf"))

	s := models.NewScanner([]string{root})
	found, err := s.Scan()
	require.NoError(t, err)

	byName := map[string]inference.TemplateFamily{}
	for _, dm := range found {
		byName[dm.NameHint] = dm.TemplateFamily
	}
	assert.Equal(t, byName["my-phi-model"], inference.TemplateChatML)
	assert.Equal(t, byName["openchat-7b"], inference.TemplateOpenChat)
	assert.Equal(t, byName["generic"], inference.TemplateChatML)
}

func TestScanRespectsMaxDepth(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c", "d", "e")
	touch(t, filepath.Join(deep, "too-deep.gguf"))
	touch(t, filepath.Join(root, "a", "shallow.gguf"))

	s := models.NewScanner([]string{root})
	s.MaxDepth = 2
	found, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, found[0].NameHint, "shallow")
}
