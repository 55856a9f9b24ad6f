// Package remoteadapter implements the Backend adapter for the
// RemoteAdapter backend variant: it forwards generation calls to an
// OpenAI-compatible HTTP endpoint via github.com/openai/openai-go rather
// than running inference in-process.
package remoteadapter

import (
	"context"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/logging"
)

// handle carries the resolved client and remote model id for one loaded
// spec. There is no persistent connection to close: Close is a no-op.
type handle struct {
	client oai.Client
	model  string
}

func (handle) Close() error { return nil }

// Backend implements inference.Backend by forwarding to a remote
// OpenAI-compatible chat-completions endpoint.
type Backend struct {
	log     logging.Logger
	baseURL string
	apiKey  string
}

// New builds a remoteadapter Backend. baseURL overrides the default OpenAI
// API endpoint (primarily for pointing at a local OpenAI-compatible
// server); apiKey is sent as a bearer token when non-empty.
func New(log logging.Logger, baseURL, apiKey string) *Backend {
	return &Backend{log: log, baseURL: baseURL, apiKey: apiKey}
}

// Load resolves spec.RemoteAdapter into a client handle. When OfflineHint is
// set, Load fails fast with BackendUnavailable rather than attempting any
// network call, so air-gapped test runs never block on a DNS lookup.
func (b *Backend) Load(_ context.Context, spec inference.ModelSpec) (inference.Handle, error) {
	if spec.RemoteAdapter == nil {
		return nil, inference.NewError(inference.ErrorInvalidRequest, "spec has no remote_adapter variant")
	}
	if spec.RemoteAdapter.OfflineHint {
		return nil, inference.NewError(inference.ErrorBackendUnavailable, "remote adapter is offline (offline_hint set)")
	}

	opts := []option.RequestOption{}
	if b.apiKey != "" {
		opts = append(opts, option.WithAPIKey(b.apiKey))
	}
	if b.baseURL != "" {
		opts = append(opts, option.WithBaseURL(b.baseURL))
	}

	client := oai.NewClient(opts...)
	b.log.WithField("model", spec.Name).WithField("base_id", spec.RemoteAdapter.BaseID).Info("resolved remote adapter model")
	return handle{client: client, model: spec.RemoteAdapter.BaseID}, nil
}

// Generate forwards prompt as a single user message to the remote
// chat-completions endpoint, streaming deltas back through emit.
func (b *Backend) Generate(ctx context.Context, h inference.Handle, prompt string, options inference.GenerationOptions, stopStrings []string, emit inference.EmitFunc) (inference.StopReason, error) {
	rh, ok := h.(handle)
	if !ok {
		return inference.StopError, inference.NewError(inference.ErrorInternal, "handle not produced by remoteadapter backend")
	}

	options = options.ApplyDefaults()
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(rh.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(prompt)},
	}
	if options.Temperature != 0 {
		params.Temperature = param.NewOpt(options.Temperature)
	}
	if options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(options.MaxTokens))
	}
	if options.TopP != 0 {
		params.TopP = param.NewOpt(options.TopP)
	}
	if options.Seed != nil {
		params.Seed = param.NewOpt(*options.Seed)
	}
	if len(stopStrings) > 0 {
		params.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: stopStrings}
	}

	stream := rh.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var emitted strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content == "" {
			if choice.FinishReason == "length" {
				return inference.StopLength, nil
			}
			continue
		}

		emitted.WriteString(choice.Delta.Content)
		if emit(choice.Delta.Content) == inference.EmitCancel {
			return inference.StopCancelled, nil
		}
		for _, stop := range stopStrings {
			if stop != "" && strings.Contains(emitted.String(), stop) {
				return inference.StopNatural, nil
			}
		}
	}
	if err := stream.Err(); err != nil {
		return inference.StopError, inference.Wrap(inference.ErrorBackendUnavailable, "remote generation stream failed", err)
	}
	return inference.StopNatural, nil
}

// Release is a no-op: the handle holds no resources beyond a stateless
// HTTP client.
func (b *Backend) Release(inference.Handle) error { return nil }

// ReentrantSafe reports true: a remoteadapter handle is a stateless HTTP
// client safe for concurrent use.
func (b *Backend) ReentrantSafe() bool { return true }
