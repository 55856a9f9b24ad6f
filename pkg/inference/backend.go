package inference

import "context"

// StopReason encodes why a generation stream terminated.
type StopReason string

const (
	StopNatural   StopReason = "natural"
	StopLength    StopReason = "length"
	StopCancelled StopReason = "cancelled"
	StopError     StopReason = "error"
)

// GenerationOptions carries the per-request generation knobs named in the
// data model. Zero values are not valid on their own; ApplyDefaults fills
// in the documented defaults and Validate rejects out-of-range values.
type GenerationOptions struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	Seed              *int64
	Stream            bool
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
// It returns a new value; the receiver is never mutated.
func (o GenerationOptions) ApplyDefaults() GenerationOptions {
	out := o
	if out.MaxTokens == 0 {
		out.MaxTokens = 256
	}
	if out.TopP == 0 {
		out.TopP = 1.0
	}
	if out.RepetitionPenalty == 0 {
		out.RepetitionPenalty = 1.0
	}
	return out
}

// Validate checks GenerationOptions against the invariants in the data
// model, returning an *Error of kind ErrorInvalidRequest on the first
// violation found.
func (o GenerationOptions) Validate() error {
	if o.MaxTokens <= 0 {
		return NewError(ErrorInvalidRequest, "max_tokens must be positive")
	}
	if o.Temperature < 0 {
		return NewError(ErrorInvalidRequest, "temperature must be non-negative")
	}
	if o.TopP < 0 || o.TopP > 1 {
		return NewError(ErrorInvalidRequest, "top_p must be in [0,1]")
	}
	if o.TopK < 0 {
		return NewError(ErrorInvalidRequest, "top_k must be non-negative")
	}
	if o.RepetitionPenalty <= 0 {
		return NewError(ErrorInvalidRequest, "repetition_penalty must be positive")
	}
	return nil
}

// EmitResult tells a backend whether to keep generating or stop.
type EmitResult int

const (
	// EmitContinue instructs the backend to keep generating.
	EmitContinue EmitResult = iota
	// EmitCancel instructs the backend to stop within CancellationGraceTokens
	// additional tokens.
	EmitCancel
)

// EmitFunc is called once per generated token fragment. Its return value
// tells the backend whether to keep going.
type EmitFunc func(fragment string) EmitResult

// Handle is an opaque reference to a loaded backend instance. Concrete
// backends define their own handle types satisfying this interface; the
// engine and registry never inspect a handle's contents.
type Handle interface {
	// Close releases resources associated with the handle. Idempotent.
	Close() error
}

// Backend is the narrow capability set a model-loading implementation must
// provide. A single handle may serialize concurrent Generate calls
// internally (ReentrantSafe reports which) or document a single-caller
// contract that the engine then enforces with its own per-model lock.
type Backend interface {
	// Load opens model file(s) described by spec, allocates whatever
	// context the backend needs, and returns an opaque handle. Load must
	// be callable from any goroutine, but not concurrently for the same
	// spec without external synchronization — callers coalesce concurrent
	// loads of the same name upstream (see the registry).
	Load(ctx context.Context, spec ModelSpec) (Handle, error)

	// Generate synchronously drives token generation against an open
	// handle. For each produced fragment it calls emit; if emit returns
	// EmitCancel, Generate must stop within CancellationGraceTokens
	// additional fragments. Generate honors options.MaxTokens and detects
	// any of stopStrings appearing in the growing emitted text.
	Generate(ctx context.Context, handle Handle, prompt string, options GenerationOptions, stopStrings []string, emit EmitFunc) (StopReason, error)

	// Release frees all resources associated with handle. Equivalent to
	// handle.Close but routed through the backend so implementations that
	// track handles centrally (e.g. for reference counting) can observe
	// release.
	Release(handle Handle) error

	// ReentrantSafe reports whether a single Handle returned by this
	// backend may serve concurrent Generate calls safely. When false, the
	// engine serializes Generate calls per LoadedModel with its own lock.
	ReentrantSafe() bool
}
