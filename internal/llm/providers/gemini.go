// Package providers implements the concrete LLM backends the router
// dispatches to: a Gemini adapter (triage, enrich, embedding) grounded
// on the teacher's internal/llm/llm.go, and an Anthropic adapter
// (triage, enrich) grounded on steveyegge-beads's haiku.go.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"github.com/lamosty/aharadar-go/internal/llm"
)

// geminiCostPerMillionTokens is a rough blended input+output cost
// estimate used only for ProviderCall.cost_estimate_credits bookkeeping,
// not for billing.
const geminiCostPerMillionTokens = 0.15

// Gemini adapts google.golang.org/genai to the llm.ProviderAdapter and
// llm.EmbeddingAdapter interfaces, mirroring the teacher's Client but
// split along the router's purpose/tier contract instead of one
// hardcoded model per client instance.
type Gemini struct {
	client        *genai.Client
	embeddingDims int32
	maxRetries    uint64
}

// NewGemini constructs a Gemini adapter from an API key, matching the
// teacher's genai.NewClient(ctx, &genai.ClientConfig{...}) call.
func NewGemini(ctx context.Context, apiKey string, embeddingDims int) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if embeddingDims == 0 {
		embeddingDims = 768
	}
	return &Gemini{client: client, embeddingDims: int32(embeddingDims), maxRetries: 3}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Triage calls model with a structured prompt built from fields and
// parses the model's text response into a TriageOutput.
func (g *Gemini) Triage(ctx context.Context, model string, fields llm.CandidateFields) (llm.CallResult, error) {
	prompt := triagePrompt(fields)
	text, err := g.generateWithRetry(ctx, model, prompt)
	if err != nil {
		return llm.CallResult{}, err
	}
	output := parseTriageOutput(text, fields.SourceName)
	tokens := estimateTokens(prompt, text)
	return llm.CallResult{
		InputTokens:         estimateTokens(prompt, ""),
		OutputTokens:        estimateTokens(text, ""),
		CostEstimateCredits: creditsForTokens(tokens),
		Output:              output,
		RawText:             text,
	}, nil
}

// Enrich calls model with a free-form prompt and returns the raw text.
func (g *Gemini) Enrich(ctx context.Context, model string, prompt string) (llm.CallResult, error) {
	text, err := g.generateWithRetry(ctx, model, prompt)
	if err != nil {
		return llm.CallResult{}, err
	}
	return llm.CallResult{
		InputTokens:         estimateTokens(prompt, ""),
		OutputTokens:        estimateTokens(text, ""),
		CostEstimateCredits: creditsForTokens(estimateTokens(prompt, text)),
		RawText:             text,
	}, nil
}

// Embed generates embeddings for a batch of texts using Matryoshka
// truncation to the configured output dimensionality, matching the
// teacher's GenerateEmbedding.
func (g *Gemini) Embed(ctx context.Context, model string, texts []string) (llm.EmbeddingResult, error) {
	vectors := make([][]float64, 0, len(texts))
	var totalInputTokens int

	for _, text := range texts {
		contents := []*genai.Content{{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}}
		config := &genai.EmbedContentConfig{OutputDimensionality: &g.embeddingDims}

		resp, err := g.client.Models.EmbedContent(ctx, model, contents, config)
		if err != nil {
			return llm.EmbeddingResult{}, fmt.Errorf("embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
			return llm.EmbeddingResult{}, fmt.Errorf("no embedding values returned from API")
		}
		values := resp.Embeddings[0].Values
		vector := make([]float64, len(values))
		for i, v := range values {
			vector[i] = float64(v)
		}
		vectors = append(vectors, vector)
		totalInputTokens += estimateTokens(text, "")
	}

	return llm.EmbeddingResult{
		InputTokens:         totalInputTokens,
		CostEstimateCredits: creditsForTokens(totalInputTokens),
		Vectors:             vectors,
	}, nil
}

func (g *Gemini) generateWithRetry(ctx context.Context, model, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var text string
	op := func() error {
		resp, err := g.client.Models.GenerateContent(ctx, model, contents, nil)
		if err != nil {
			return err
		}
		text = resp.Text()
		if text == "" {
			return fmt.Errorf("empty response from model %s", model)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return text, nil
}

func triagePrompt(f llm.CandidateFields) string {
	return fmt.Sprintf(`Evaluate this content item for inclusion in a personalized digest.

Source: %s (%s)
Title: %s
URL: %s
Author: %s
Published: %s
Window: %s to %s

Body:
%s

Respond with EXACTLY this format:
SCORE: [0-100]
RELEVANT: [true/false]
NOVEL: [true/false]
DEEP_SUMMARIZE: [true/false]
CATEGORIES: [comma-separated]
ONE_LINER: [single sentence]
REASON: [brief explanation]`,
		f.SourceName, f.SourceType, f.Title, f.PrimaryURL, f.Author, f.PublishedAt,
		f.WindowStart, f.WindowEnd, f.BodySnippet)
}

func parseTriageOutput(text, topic string) llm.TriageOutput {
	out := llm.TriageOutput{SchemaVersion: 1, PromptID: "triage_v1", Topic: topic}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SCORE:"):
			fmt.Sscanf(strings.TrimSpace(strings.TrimPrefix(line, "SCORE:")), "%f", &out.AIScore)
		case strings.HasPrefix(line, "RELEVANT:"):
			out.IsRelevant = strings.Contains(strings.ToLower(line), "true")
		case strings.HasPrefix(line, "NOVEL:"):
			out.IsNovel = strings.Contains(strings.ToLower(line), "true")
		case strings.HasPrefix(line, "DEEP_SUMMARIZE:"):
			out.ShouldDeepSummarize = strings.Contains(strings.ToLower(line), "true")
		case strings.HasPrefix(line, "CATEGORIES:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "CATEGORIES:"))
			for _, c := range strings.Split(raw, ",") {
				if c = strings.TrimSpace(c); c != "" {
					out.Categories = append(out.Categories, c)
				}
			}
		case strings.HasPrefix(line, "ONE_LINER:"):
			out.OneLiner = strings.TrimSpace(strings.TrimPrefix(line, "ONE_LINER:"))
		case strings.HasPrefix(line, "REASON:"):
			out.Reason = strings.TrimSpace(strings.TrimPrefix(line, "REASON:"))
		}
	}
	if out.AIScore < 0 {
		out.AIScore = 0
	} else if out.AIScore > 100 {
		out.AIScore = 100
	}
	return out
}

func estimateTokens(a, b string) int {
	return (len(a) + len(b)) / 4
}

func creditsForTokens(tokens int) float64 {
	return float64(tokens) / 1_000_000 * geminiCostPerMillionTokens
}
