package template_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/template"
)

func TestRenderChatML(t *testing.T) {
	prompt, stops, err := template.Render(inference.TemplateChatML, "Be terse.", []template.Message{
		{Role: template.RoleUser, Content: "Say OK."},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"<|im_end|>"}, stops)
	require.Equal(t,
		"<|im_start|>system\nBe terse.<|im_end|>\n"+
			"<|im_start|>user\nSay OK.<|im_end|>\n"+
			"<|im_start|>assistant\n",
		prompt,
	)
}

func TestRenderIsDeterministic(t *testing.T) {
	messages := []template.Message{
		{Role: template.RoleSystem, Content: "first"},
		{Role: template.RoleUser, Content: "hi"},
		{Role: template.RoleAssistant, Content: "hello"},
		{Role: template.RoleUser, Content: "again"},
	}
	first, _, err := template.Render(inference.TemplateLlama3, "", messages)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		got, _, err := template.Render(inference.TemplateLlama3, "", messages)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestRenderConcatenatesMultipleSystemMessages(t *testing.T) {
	prompt, _, err := template.Render(inference.TemplateOpenChat, "outer", []template.Message{
		{Role: template.RoleSystem, Content: "inner-one"},
		{Role: template.RoleSystem, Content: "inner-two"},
		{Role: template.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Contains(t, prompt, "outer\ninner-one\ninner-two")
}

func TestRenderUnknownFamily(t *testing.T) {
	_, _, err := template.Render("nonexistent", "", nil)
	require.Error(t, err)
	var ierr *inference.Error
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, inference.ErrorInvalidRequest, ierr.Kind)
}

func TestKnownFamily(t *testing.T) {
	require.True(t, template.KnownFamily(inference.TemplateChatML))
	require.True(t, template.KnownFamily(inference.TemplateLlama3))
	require.True(t, template.KnownFamily(inference.TemplateOpenChat))
	require.False(t, template.KnownFamily("made-up"))
}

func TestRenderPreservesNonSystemOrdering(t *testing.T) {
	messages := []template.Message{
		{Role: template.RoleUser, Content: "one"},
		{Role: template.RoleAssistant, Content: "two"},
		{Role: template.RoleUser, Content: "three"},
	}
	prompt, _, err := template.Render(inference.TemplateChatML, "", messages)
	require.NoError(t, err)
	idxOne := indexOf(prompt, "one")
	idxTwo := indexOf(prompt, "two")
	idxThree := indexOf(prompt, "three")
	require.True(t, idxOne < idxTwo)
	require.True(t, idxTwo < idxThree)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
