package providers

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/lamosty/aharadar-go/internal/llm"
)

// anthropicCostPerMillionTokens mirrors geminiCostPerMillionTokens's
// role: a rough blended estimate for ProviderCall bookkeeping only.
const anthropicCostPerMillionTokens = 3.0

// Anthropic adapts anthropic-sdk-go to the llm.ProviderAdapter
// interface, grounded on steveyegge-beads's haikuClient
// (client.Messages.New call shape, retryable-error classification).
// High-tier triage/enrich calls route here; Anthropic has no
// embedding model in this deployment, so it does not implement
// llm.EmbeddingAdapter.
type Anthropic struct {
	client     anthropic.Client
	maxRetries uint64
}

// NewAnthropic constructs an Anthropic adapter from an API key.
func NewAnthropic(apiKey string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return &Anthropic{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxRetries: 3,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Triage(ctx context.Context, model string, fields llm.CandidateFields) (llm.CallResult, error) {
	prompt := triagePrompt(fields)
	text, usage, err := a.messageWithRetry(ctx, model, prompt)
	if err != nil {
		return llm.CallResult{}, err
	}
	output := parseTriageOutput(text, fields.SourceName)
	return llm.CallResult{
		InputTokens:         int(usage.InputTokens),
		OutputTokens:        int(usage.OutputTokens),
		CostEstimateCredits: creditsForAnthropicTokens(usage.InputTokens + usage.OutputTokens),
		Output:              output,
		RawText:             text,
	}, nil
}

func (a *Anthropic) Enrich(ctx context.Context, model string, prompt string) (llm.CallResult, error) {
	text, usage, err := a.messageWithRetry(ctx, model, prompt)
	if err != nil {
		return llm.CallResult{}, err
	}
	return llm.CallResult{
		InputTokens:         int(usage.InputTokens),
		OutputTokens:        int(usage.OutputTokens),
		CostEstimateCredits: creditsForAnthropicTokens(usage.InputTokens + usage.OutputTokens),
		RawText:             text,
	}, nil
}

func (a *Anthropic) messageWithRetry(ctx context.Context, model, prompt string) (string, anthropic.Usage, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var text string
	var usage anthropic.Usage
	op := func() error {
		message, err := a.client.Messages.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("anthropic response had no content blocks"))
		}
		block := message.Content[0]
		if block.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response block type %q", block.Type))
		}
		text = block.Text
		usage = message.Usage
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", anthropic.Usage{}, fmt.Errorf("anthropic message: %w", err)
	}
	return text, usage, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func creditsForAnthropicTokens(tokens int64) float64 {
	return float64(tokens) / 1_000_000 * anthropicCostPerMillionTokens
}
