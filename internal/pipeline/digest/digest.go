// Package digest persists one window's selected, ranked candidates as
// an ordered Digest, replacing any prior digest_items for the same
// (user, topic, window, mode) atomically. Grounded on teacher's
// internal/persistence upsert-then-replace-children shape.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/pipeline/enrich"
	"github.com/lamosty/aharadar-go/internal/pipeline/rank"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Params identifies the digest being written.
type Params struct {
	UserID      string
	TopicID     string
	WindowStart time.Time
	WindowEnd   time.Time
	Mode        core.Tier
}

// Write upserts the Digest and replaces its DigestItems, per spec.md
// §4.16, inside one transaction.
func Write(ctx context.Context, gw storage.Gateway, selected []rank.Ranked, summaries map[int]enrich.Summary, params Params) (*core.Digest, error) {
	items := make([]core.DigestItem, len(selected))
	for i, r := range selected {
		item := core.DigestItem{
			Rank:       i + 1,
			Score:      r.Score,
			TriageJSON: r.TriageJSON,
		}
		if r.Candidate.ClusterID != nil {
			item.ClusterID = r.Candidate.ClusterID
		} else {
			item.ContentItemID = r.Candidate.ContentItemID
		}
		if summary, ok := summaries[i]; ok {
			item.SummaryJSON = map[string]any{"text": summary.Text, "provider": summary.Provider, "model": summary.Model}
		}
		items[i] = item
	}

	var written *core.Digest
	err := gw.WithTx(ctx, func(tx storage.Gateway) error {
		d, err := tx.Digests().UpsertWithItems(ctx, core.Digest{
			UserID:      params.UserID,
			TopicID:     params.TopicID,
			WindowStart: params.WindowStart,
			WindowEnd:   params.WindowEnd,
			Mode:        params.Mode,
		}, items)
		if err != nil {
			return fmt.Errorf("upsert digest with items: %w", err)
		}
		written = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}
