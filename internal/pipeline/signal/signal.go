// Package signal implements the optional Signal Corroboration feature
// (spec.md §4.13): when a signal bundle's corroborating external URLs
// overlap a candidate's primary URL, that candidate is treated as
// independently observed by an LLM-backed search, not just a single
// source. Grounded on internal/urlcanon for the same canonicalization
// used by ingest's hash_url keying.
package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/pipeline/candidates"
	"github.com/lamosty/aharadar-go/internal/storage"
	"github.com/lamosty/aharadar-go/internal/urlcanon"
)

// Params bounds one Signal Corroboration invocation.
type Params struct {
	UserID      string
	TopicID     string
	WindowStart time.Time
	WindowEnd   time.Time
}

// BuildHashSet loads in-window signal bundles and returns the set of
// SHA-256 hashes of their canonicalized, non-X-like external URLs.
func BuildHashSet(ctx context.Context, gw storage.Gateway, params Params) (map[string]bool, error) {
	items, err := gw.ContentItems().ListWindow(ctx, storage.WindowQuery{
		UserID:      params.UserID,
		TopicID:     params.TopicID,
		WindowStart: params.WindowStart,
		WindowEnd:   params.WindowEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("list window items for signal bundles: %w", err)
	}

	hashes := make(map[string]bool)
	for _, item := range items {
		if !isSignalBundle(item) {
			continue
		}
		for _, u := range externalURLs(item) {
			if isXLike(u) {
				continue
			}
			hashes[urlcanon.Hash(u)] = true
		}
	}
	return hashes, nil
}

// Matched reports whether candidate.PrimaryURL corroborates against
// hashes, per spec.md §4.13.
func Matched(candidate candidates.Candidate, hashes map[string]bool) bool {
	if candidate.PrimaryURL == nil || isXLike(*candidate.PrimaryURL) {
		return false
	}
	return hashes[urlcanon.Hash(*candidate.PrimaryURL)]
}

func isSignalBundle(item core.ContentItem) bool {
	return item.SourceType == "signal" && item.CanonicalURL == nil
}

// externalURLs extracts the corroboration URL list a signal bundle
// carries in its metadata, under the "external_urls" key.
func externalURLs(item core.ContentItem) []string {
	raw, ok := item.Metadata["external_urls"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func isXLike(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "x.com/") || strings.Contains(lower, "twitter.com/")
}
