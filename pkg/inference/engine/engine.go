package engine

import (
	"context"
	"fmt"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
	"github.com/shimmy-run/shimmy/pkg/inference/template"
	"github.com/shimmy-run/shimmy/pkg/logging"
)

// TokenChunk is one element of the stream infer returns: either a generated
// text fragment, or — on the final element — the terminal record carrying
// the stop reason and token accounting for the whole turn.
type TokenChunk struct {
	Fragment string
	Done     bool
	Stop     inference.StopReason
	Err      error

	// Usage is populated only on the terminal chunk.
	Usage Usage
}

// Usage mirrors the OpenAI usage envelope.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Engine resolves a model name to a loaded backend handle, renders the
// conversation through its template, invokes the backend, and emits
// tokens as they are produced.
type Engine struct {
	registry *models.Registry
	log      logging.Logger
}

// New builds an Engine over registry.
func New(registry *models.Registry, log logging.Logger) *Engine {
	return &Engine{registry: registry, log: log}
}

// Infer resolves name, loads the model, renders messages through its
// template family, and drives generation, sending TokenChunks to the
// returned channel until a terminal chunk closes it. Cancelling ctx makes
// the backend's emit callback return inference.EmitCancel, which the backend
// honors within inference.CancellationGraceTokens additional fragments.
func (e *Engine) Infer(ctx context.Context, name string, system string, messages []template.Message, options inference.GenerationOptions) <-chan TokenChunk {
	out := make(chan TokenChunk, 16)

	go func() {
		defer close(out)

		spec, ok := e.registry.Get(name)
		if !ok {
			out <- errChunk(inference.NewError(inference.ErrorModelNotFound, fmt.Sprintf("model not found: %s", name)))
			return
		}

		lm, err := e.registry.Load(ctx, name)
		if err != nil {
			out <- errChunk(inference.Wrap(inference.ErrorBackendUnavailable, "loading model", err))
			return
		}
		defer func() {
			if relErr := e.registry.Release(lm); relErr != nil {
				e.log.WithError(relErr).Warn("failed to release model reference")
			}
		}()

		prompt, stops, err := template.Render(spec.TemplateFamily, system, messages)
		if err != nil {
			out <- errChunk(err)
			return
		}

		promptTokens := EstimateTokens(prompt)
		options = options.ApplyDefaults()
		options.MaxTokens = clampMaxTokens(options.MaxTokens, spec.ContextLength, promptTokens)

		genCtx, cancelGen := context.WithCancel(ctx)
		defer cancelGen()

		var completion string
		emit := func(fragment string) inference.EmitResult {
			completion += fragment
			select {
			case out <- TokenChunk{Fragment: fragment}:
			case <-ctx.Done():
				return inference.EmitCancel
			}
			select {
			case <-ctx.Done():
				return inference.EmitCancel
			default:
				return inference.EmitContinue
			}
		}

		stopReason, genErr := lm.Generate(genCtx, prompt, options, stops, emit)
		if genErr != nil {
			out <- errChunk(inference.Wrap(inference.ErrorInternal, "generation failed", genErr))
			return
		}

		completionTokens := EstimateTokens(completion)
		out <- TokenChunk{
			Done: true,
			Stop: stopReason,
			Usage: Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				TotalTokens:      promptTokens + completionTokens,
			},
		}
	}()

	return out
}

func errChunk(err error) TokenChunk {
	return TokenChunk{Done: true, Stop: inference.StopError, Err: err}
}

// clampMaxTokens bounds a requested max_tokens to the model's remaining
// context budget and a hard ceiling, so a caller can never ask for more
// completion tokens than the context window or server policy allow.
func clampMaxTokens(requested, contextLength, promptTokens int) int {
	ceiling := inference.DefaultMaxTokensCeiling
	remaining := contextLength - promptTokens
	if remaining < 1 {
		remaining = 1
	}
	max := requested
	if remaining < max {
		max = remaining
	}
	if ceiling < max {
		max = ceiling
	}
	if max < 1 {
		max = 1
	}
	return max
}
