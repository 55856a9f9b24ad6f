package localgguf_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/backends/localgguf"
	"github.com/shimmy-run/shimmy/pkg/logging"
)

func TestLoadRejectsMissingFile(t *testing.T) {
	b := localgguf.New(logging.NewDiscardLogger())
	_, err := b.Load(context.Background(), inference.ModelSpec{
		Name:      "tiny",
		Backend:   inference.BackendLocalGGUF,
		LocalGGUF: &inference.LocalGGUFVariant{BasePath: "/nonexistent/model.gguf"},
	})
	require.Error(t, err)
	var ierr *inference.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, inference.ErrorLoad, ierr.Kind)
}

func TestReentrantSafe(t *testing.T) {
	b := localgguf.New(logging.NewDiscardLogger())
	require.True(t, b.ReentrantSafe())
}
