// Package template renders a chat message list into a single prompt string
// for a given template family, and reports the stop strings that bound a
// generation turn in that family.
package template

import (
	"strings"

	"github.com/shimmy-run/shimmy/pkg/inference"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one (role, content) pair.
type Message struct {
	Role    Role
	Content string
}

// delimiters describes the wrapper strings for one template family. Each
// wrapper is a printf-free (prefix, suffix) pair around the turn's content;
// assistantPrefix is also emitted once more at the end with no closing
// suffix so the model continues directly from the assistant role.
type delimiters struct {
	systemPrefix, systemSuffix       string
	userPrefix, userSuffix           string
	assistantPrefix, assistantSuffix string
	stop                             string
}

var families = map[inference.TemplateFamily]delimiters{
	inference.TemplateChatML: {
		systemPrefix: "<|im_start|>system\n", systemSuffix: "<|im_end|>\n",
		userPrefix: "<|im_start|>user\n", userSuffix: "<|im_end|>\n",
		assistantPrefix: "<|im_start|>assistant\n", assistantSuffix: "<|im_end|>\n",
		stop: "<|im_end|>",
	},
	inference.TemplateLlama3: {
		systemPrefix: "<|start_header_id|>system<|end_header_id|>\n\n", systemSuffix: "<|eot_id|>",
		userPrefix: "<|start_header_id|>user<|end_header_id|>\n\n", userSuffix: "<|eot_id|>",
		assistantPrefix: "<|start_header_id|>assistant<|end_header_id|>\n\n", assistantSuffix: "<|eot_id|>",
		stop: "<|eot_id|>",
	},
	inference.TemplateOpenChat: {
		systemPrefix: "GPT4 Correct System: ", systemSuffix: "<|end_of_turn|>",
		userPrefix: "GPT4 Correct User: ", userSuffix: "<|end_of_turn|>",
		assistantPrefix: "GPT4 Correct Assistant: ", assistantSuffix: "<|end_of_turn|>",
		stop: "<|end_of_turn|>",
	},
}

// Render renders a system prompt and message list into a single prompt
// string for the given family, along with the stop strings that terminate
// an assistant turn. It is pure and deterministic: the same inputs always
// produce byte-identical output.
//
// Multiple system messages embedded in the message list are concatenated in
// order after the explicit system argument (if any), joined by newlines.
// Ordering among non-system messages is preserved verbatim.
func Render(family inference.TemplateFamily, system string, messages []Message) (prompt string, stopStrings []string, err error) {
	d, ok := families[family]
	if !ok {
		return "", nil, inference.NewError(inference.ErrorInvalidRequest, "unknown template family: "+string(family))
	}

	var sb strings.Builder

	systemParts := make([]string, 0, 1)
	if system != "" {
		systemParts = append(systemParts, system)
	}
	for _, m := range messages {
		if m.Role == RoleSystem {
			systemParts = append(systemParts, m.Content)
		}
	}
	if len(systemParts) > 0 {
		sb.WriteString(d.systemPrefix)
		sb.WriteString(strings.Join(systemParts, "\n"))
		sb.WriteString(d.systemSuffix)
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			// already folded into the system block above
			continue
		case RoleUser, RoleTool:
			sb.WriteString(d.userPrefix)
			sb.WriteString(m.Content)
			sb.WriteString(d.userSuffix)
		case RoleAssistant:
			sb.WriteString(d.assistantPrefix)
			sb.WriteString(m.Content)
			sb.WriteString(d.assistantSuffix)
		}
	}

	// Open assistant header, no closing suffix, so the model continues in
	// the assistant role.
	sb.WriteString(d.assistantPrefix)

	return sb.String(), []string{d.stop}, nil
}

// KnownFamily reports whether family is a supported template family. The
// registry does not call it: Registry.Register rejects an unknown family at
// spec-load time through inference.ModelSpec.Validate, which checks the
// same three families.
func KnownFamily(family inference.TemplateFamily) bool {
	_, ok := families[family]
	return ok
}
