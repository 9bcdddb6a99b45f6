// Package inference provides the one concrete InferenceProvider adapter
// consumed by agents (§6: "External AI model APIs... treated as an
// opaque InferenceProvider capability" — this core orchestrates calls,
// it never implements a model). Grounded on the teacher's go.mod
// dependency on github.com/anthropics/anthropic-sdk-go; the teacher
// repo lists the SDK but never wires a concrete client (every AI call
// in the pack goes through a mocked pkg/ai/llm.Client interface), so
// this adapter is the first real wiring of that dependency to an actual
// component: the §6 InferenceProvider interface.
package inference

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
)

// Options tune one completion/classification call. Zero value uses the
// provider's defaults.
type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

func (o Options) model() string {
	if o.Model != "" {
		return o.Model
	}
	return string(anthropic.ModelClaudeHaiku4_5)
}

func (o Options) maxTokens() int64 {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return 1024
}

// Provider is the §6 InferenceProvider interface: complete(prompt,
// options) -> text, classify(input, options) -> labels. Agents hold
// this interface, never a concrete SDK type, so a different backend
// can be swapped in without touching agent code.
type Provider interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	Classify(ctx context.Context, input string, labels []string, opts Options) (string, error)
}

// AnthropicProvider wraps the real Anthropic Go SDK client.
type AnthropicProvider struct {
	client anthropic.Client
}

// New builds an AnthropicProvider from an API key. An empty key still
// constructs a client (the SDK reads ANTHROPIC_API_KEY itself); pass the
// key explicitly when the core's own config layer (not the SDK's env
// lookup) is the source of truth.
func New(apiKey string) *AnthropicProvider {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Complete asks the model to produce free text for prompt. Used by
// agents that need narrative output (e.g. a compliance gap summary).
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.model()),
		MaxTokens: opts.maxTokens(),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", errs.Transient("inference.Complete", err)
	}
	return firstText(msg), nil
}

// Classify asks the model to pick the best-fitting label from labels for
// input. Used by questionnaire-processing agents that must map free-text
// answers onto a fixed control taxonomy.
func (p *AnthropicProvider) Classify(ctx context.Context, input string, labels []string, opts Options) (string, error) {
	prompt := fmt.Sprintf(
		"Classify the following input into exactly one of these labels: %v.\nRespond with only the label.\n\nInput: %s",
		labels, input,
	)
	text, err := p.Complete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	return text, nil
}

func firstText(msg *anthropic.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
