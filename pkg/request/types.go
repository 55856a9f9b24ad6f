// Package request implements the HTTP/streaming request pipeline: request
// validation, the native and OpenAI-compatible response envelopes, and
// cancellation propagation.
package request

import (
	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/template"
)

// chatMessage is the wire shape of one message in a chat/generate request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m chatMessage) toTemplateMessage() template.Message {
	return template.Message{Role: template.Role(m.Role), Content: m.Content}
}

// generateRequest is the native POST /api/generate request shape. At least
// one of Prompt or Messages must be set; when both are, Prompt is used and
// Messages is ignored.
type generateRequest struct {
	Model       string        `json:"model"`
	Prompt      string        `json:"prompt,omitempty"`
	Messages    []chatMessage `json:"messages,omitempty"`
	System      string        `json:"system,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	TopK        int           `json:"top_k,omitempty"`
	RepeatPenal float64       `json:"repetition_penalty,omitempty"`
	Seed        *int64        `json:"seed,omitempty"`
}

func (r generateRequest) options() inference.GenerationOptions {
	return inference.GenerationOptions{
		MaxTokens:         r.MaxTokens,
		Temperature:       r.Temperature,
		TopP:              r.TopP,
		TopK:              r.TopK,
		RepetitionPenalty: r.RepeatPenal,
		Seed:              r.Seed,
		Stream:            r.Stream,
	}.ApplyDefaults()
}

func (r generateRequest) templateMessages() []template.Message {
	if r.Prompt != "" {
		return []template.Message{{Role: template.RoleUser, Content: r.Prompt}}
	}
	out := make([]template.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, m.toTemplateMessage())
	}
	return out
}

// generateResponse is the native non-streaming response envelope.
type generateResponse struct {
	Text         string               `json:"text"`
	StopReason   inference.StopReason `json:"stop_reason"`
	TokensEmitted int                 `json:"tokens_emitted"`
}

// generateStreamEvent is one native SSE event: either a token or the final
// done event.
type generateStreamEvent struct {
	Token      string               `json:"token,omitempty"`
	Done       bool                 `json:"done,omitempty"`
	StopReason inference.StopReason `json:"stop_reason,omitempty"`
}

// chatCompletionRequest is the OpenAI-compatible POST /v1/chat/completions
// request shape.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	TopK        int           `json:"top_k,omitempty"`
	Seed        *int64        `json:"seed,omitempty"`
}

func (r chatCompletionRequest) options() inference.GenerationOptions {
	return inference.GenerationOptions{
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		TopK:        r.TopK,
		Seed:        r.Seed,
		Stream:      r.Stream,
	}.ApplyDefaults()
}

func (r chatCompletionRequest) systemAndMessages() (string, []template.Message) {
	var system string
	out := make([]template.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if template.Role(m.Role) == template.RoleSystem && system == "" {
			system = m.Content
			continue
		}
		out = append(out, m.toTemplateMessage())
	}
	return system, out
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      chatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

// chatCompletionResponse is the non-streaming OpenAI-compatible envelope.
type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Created int64                   `json:"created"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
	Usage   chatCompletionUsage     `json:"usage"`
}

type chatCompletionChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chatCompletionChunkChoice struct {
	Index        int                      `json:"index"`
	Delta        chatCompletionChunkDelta `json:"delta"`
	FinishReason *string                  `json:"finish_reason"`
}

// chatCompletionChunk is one SSE event of a streaming chat-completions
// response.
type chatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []chatCompletionChunkChoice `json:"choices"`
}

// finishReasonFor maps an inference.StopReason onto the OpenAI
// finish_reason vocabulary used in the OpenAI-compatible envelopes.
func finishReasonFor(stop inference.StopReason) string {
	switch stop {
	case inference.StopLength:
		return "length"
	case inference.StopError:
		return "error"
	default:
		return "stop"
	}
}
