// Package embed runs the embedding stage: selects content items missing
// an embedding at the target (model, dims) or missing only their
// hash_text, batches the remainder through the LLM router's embedding
// adapter, validates every returned vector before writing anything (a
// rejected batch writes nothing), then upserts the batch's embeddings and
// updates hash_text as separate writes that are not wrapped in one
// transaction. Grounded on the teacher's
// batch-then-validate-then-persist shape in internal/summarize (one
// provider call per batch, an all-or-nothing batch on a bad response).
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/llm"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Params bounds one Embed invocation.
type Params struct {
	UserID        string
	TopicID       string
	WindowStart   *time.Time
	WindowEnd     *time.Time
	Tier          llm.Tier
	Model         string
	Dims          int
	MaxItems      int
	BatchSize     int
	MaxInputChars int
}

// Result is the aggregate outcome of one Embed invocation.
type Result struct {
	UpdatedHashOnly int
	Embedded        int
	Errors          int
	Disabled        bool
}

// Run executes the embed protocol, per spec.md §4.4. router may be nil
// to represent a missing API key; in that case the run returns
// Result{Disabled: true} without failing. An error from Embed counts
// every item of that batch under Errors and writes nothing for it.
func Run(ctx context.Context, gw storage.Gateway, router *llm.TracedRouter, params Params) (Result, error) {
	if router == nil {
		logger.Info("embed stage disabled: no router configured", "topic_id", params.TopicID)
		return Result{Disabled: true}, nil
	}

	candidates, err := gw.ContentItems().ListNeedingEmbedding(ctx, params.UserID, params.TopicID, params.WindowStart, params.WindowEnd, params.Model, params.Dims, params.MaxItems)
	if err != nil {
		return Result{}, fmt.Errorf("list items needing embedding: %w", err)
	}

	result := Result{}
	var batch []core.ContentItem
	var batchText []string

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		embedded, callErr := embedBatch(ctx, gw, router, params, batch, batchText)
		if callErr != nil {
			logger.Warn("embed batch failed", "topic_id", params.TopicID, "batch_size", len(batch), "error", callErr)
			result.Errors += len(batch)
		} else {
			result.Embedded += embedded
		}
		batch = nil
		batchText = nil
		return nil
	}

	for _, item := range candidates {
		existing, err := gw.Embeddings().Get(ctx, item.ID)
		if err != nil {
			return Result{}, fmt.Errorf("get existing embedding: %w", err)
		}
		text := buildInputText(item, params.MaxInputChars)
		hashText := sha256Hex(text)

		if existing != nil && existing.Model == params.Model && existing.Dims == params.Dims && item.HashText == nil {
			if err := gw.ContentItems().UpdateHashText(ctx, item.ID, hashText); err != nil {
				return Result{}, fmt.Errorf("update hash_text: %w", err)
			}
			result.UpdatedHashOnly++
			continue
		}

		batch = append(batch, item)
		batchText = append(batchText, text)
		if len(batch) >= params.BatchSize {
			if err := flush(); err != nil {
				return Result{}, err
			}
		}
	}
	if err := flush(); err != nil {
		return Result{}, err
	}

	return result, nil
}

func embedBatch(ctx context.Context, gw storage.Gateway, router *llm.TracedRouter, params Params, batch []core.ContentItem, texts []string) (int, error) {
	started := time.Now()
	embedResult, err := router.Embed(ctx, params.Tier, texts)

	status := core.ProviderCallOK
	var errMeta map[string]any
	if err != nil {
		status = core.ProviderCallError
		errMeta = map[string]any{"message": err.Error()}
	}
	_ = gw.ProviderCalls().Insert(ctx, core.ProviderCall{
		ID:                  core.NewID(),
		UserID:              params.UserID,
		Purpose:             core.PurposeEmbed,
		Provider:            embedResult.Provider,
		Model:               embedResult.Model,
		InputTokens:         embedResult.InputTokens,
		CostEstimateCredits: embedResult.CostEstimateCredits,
		StartedAt:           started,
		EndedAt:             time.Now(),
		Status:              status,
		Error:               errMeta,
	})
	if err != nil {
		return 0, err
	}

	if len(embedResult.Vectors) != len(batch) {
		return 0, fmt.Errorf("embedding count %d does not match batch size %d", len(embedResult.Vectors), len(batch))
	}
	for _, vec := range embedResult.Vectors {
		if err := validateVector(vec, params.Dims); err != nil {
			return 0, err
		}
	}

	rows := make([]core.Embedding, len(batch))
	for i, item := range batch {
		rows[i] = core.Embedding{ContentItemID: item.ID, Model: params.Model, Dims: params.Dims, Vector: embedResult.Vectors[i]}
	}

	if err := gw.Embeddings().UpsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("upsert embedding batch: %w", err)
	}
	for i, item := range batch {
		if err := gw.ContentItems().UpdateHashText(ctx, item.ID, sha256Hex(texts[i])); err != nil {
			return 0, fmt.Errorf("update hash_text for %s: %w", item.ID, err)
		}
	}
	return len(batch), nil
}

func validateVector(vec []float64, expectedDims int) error {
	if len(vec) != expectedDims {
		return fmt.Errorf("embedding vector has %d dims, expected %d", len(vec), expectedDims)
	}
	for _, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("embedding vector contains a non-finite value")
		}
	}
	return nil
}

func buildInputText(item core.ContentItem, maxChars int) string {
	text := strings.TrimSpace(item.Title)
	if item.BodyText != "" {
		text = text + "\n\n" + item.BodyText
	}
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
