package inference

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func TestOptionsDefaults(t *testing.T) {
	var o Options
	assert.Equal(t, string(anthropic.ModelClaudeHaiku4_5), o.model())
	assert.Equal(t, int64(1024), o.maxTokens())
}

func TestOptionsOverride(t *testing.T) {
	o := Options{Model: "claude-opus-4", MaxTokens: 4096}
	assert.Equal(t, "claude-opus-4", o.model())
	assert.Equal(t, int64(4096), o.maxTokens())
}

func TestFirstText(t *testing.T) {
	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "fully_compliant"},
		},
	}
	assert.Equal(t, "fully_compliant", firstText(msg))
}

func TestFirstTextEmptyWhenNoTextBlock(t *testing.T) {
	msg := &anthropic.Message{}
	assert.Equal(t, "", firstText(msg))
}

// compile-time check that AnthropicProvider satisfies Provider.
var _ Provider = (*AnthropicProvider)(nil)
