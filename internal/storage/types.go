// Package storage defines the narrow Storage Gateway interface the
// pipeline consumes (spec.md §2.1): typed repositories over a relational
// store with vector-similarity support, with transaction support. Two
// implementations satisfy it: internal/storage/postgres (production,
// pgvector-backed nearest neighbor) and internal/storage/sqlite
// (local/dev/test, brute-force nearest neighbor in Go).
package storage

import (
	"context"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
)

// ListOptions bounds and filters a List call, mirroring the teacher's
// repository List signature.
type ListOptions struct {
	Limit  int
	Offset int
	Filter map[string]string
}

// ContentItemDraft is what a connector's Normalize produces and Ingest
// upserts; it carries enough identity fields for the conflict-key
// resolution described in spec.md §4.3.
type ContentItemDraft struct {
	SourceType   string
	ExternalID   *string
	CanonicalURL *string
	Title        string
	BodyText     string
	Author       string
	PublishedAt  time.Time
	Metadata     map[string]any
	Raw          map[string]any
}

// NeighborQuery describes a nearest-neighbor vector lookup.
type NeighborQuery struct {
	UserID        string
	TopicID       string
	Vector        []float64
	Model         string
	Dims          int
	ExcludeItemID string
	Before        *time.Time // neighbor.published_at < Before, when set
	After         *time.Time // neighbor.published_at >= After, when set
	ExcludeDuplicates bool
	ExcludeSignalBundles bool
}

// Neighbor is a nearest-neighbor lookup result.
type Neighbor struct {
	ContentItemID string
	PublishedAt   time.Time
	Similarity    float64
}

// WindowQuery scopes a query to a topic and a half-open time window.
type WindowQuery struct {
	UserID      string
	TopicID     string
	WindowStart time.Time
	WindowEnd   time.Time
	MaxItems    int
}

// Gateway is the full narrow interface over the relational store.
type Gateway interface {
	Users() UserRepo
	Topics() TopicRepo
	Sources() SourceRepo
	ContentItems() ContentItemRepo
	ContentItemSources() ContentItemSourceRepo
	Embeddings() EmbeddingRepo
	Clusters() ClusterRepo
	ClusterItems() ClusterItemRepo
	Preferences() PreferenceRepo
	Feedback() FeedbackRepo
	Digests() DigestRepo
	ProviderCalls() ProviderCallRepo
	BudgetResets() BudgetResetRepo
	FetchRuns() FetchRunRepo

	// WithTx runs fn inside a transaction, committing on nil error and
	// rolling back otherwise. fn receives a Gateway bound to the
	// transaction so repository calls inside fn are atomic.
	WithTx(ctx context.Context, fn func(tx Gateway) error) error

	Close() error
	Ping(ctx context.Context) error
}

// UserRepo manages the singleton-in-MVP User entity.
type UserRepo interface {
	Get(ctx context.Context, id string) (*core.User, error)
	EnsureDefault(ctx context.Context) (*core.User, error)
}

// TopicRepo manages Topic rows and the scheduler cursor.
type TopicRepo interface {
	Get(ctx context.Context, id string) (*core.Topic, error)
	ListScheduleEnabled(ctx context.Context, userID string) ([]core.Topic, error)
	AdvanceCursor(ctx context.Context, topicID string, windowEnd time.Time) error
}

// SourceRepo manages Source rows and their per-source cursor.
type SourceRepo interface {
	Get(ctx context.Context, id string) (*core.Source, error)
	ListEnabledByTopic(ctx context.Context, topicID string) ([]core.Source, error)
	UpdateCursor(ctx context.Context, sourceID string, cursor map[string]any) error
}

// ContentItemRepo manages ContentItem upsert, lookup, and mutation.
type ContentItemRepo interface {
	// Upsert resolves the conflict key per spec.md §4.3 (source_id+external_id,
	// then user_id+hash_url, then a synthetic external_id) and inserts or
	// updates the row, returning the persisted item.
	Upsert(ctx context.Context, userID, sourceID string, draft ContentItemDraft, hashURL *string, syntheticExternalID *string) (*core.ContentItem, error)
	Get(ctx context.Context, id string) (*core.ContentItem, error)
	// ListWindow returns topic-scoped, non-deleted items in [start,end).
	ListWindow(ctx context.Context, q WindowQuery) ([]core.ContentItem, error)
	// ListNeedingEmbedding returns items missing an embedding at
	// (model,dims), or missing only hash_text, scoped per spec.md §4.4.
	ListNeedingEmbedding(ctx context.Context, userID, topicID string, windowStart, windowEnd *time.Time, model string, dims int, maxItems int) ([]core.ContentItem, error)
	UpdateHashText(ctx context.Context, itemID string, hashText string) error
	MarkDuplicate(ctx context.Context, itemID, duplicateOfID string) error
	// IsClustered reports whether an item already belongs to a cluster.
	IsClustered(ctx context.Context, itemID string) (bool, error)
}

// ContentItemSourceRepo manages the many-to-many provenance link.
type ContentItemSourceRepo interface {
	Link(ctx context.Context, contentItemID, sourceID string) error
}

// EmbeddingRepo manages Embedding rows and nearest-neighbor lookups.
type EmbeddingRepo interface {
	Get(ctx context.Context, contentItemID string) (*core.Embedding, error)
	UpsertBatch(ctx context.Context, embeddings []core.Embedding) error
	// NearestOlder finds the single nearest neighbor strictly older in
	// time than the candidate (for Dedupe, §4.5).
	NearestOlder(ctx context.Context, q NeighborQuery) (*Neighbor, error)
	// NearestBeforeWindow finds the single nearest neighbor with
	// published_at in [q.After, q.Before) (for Novelty, §4.12).
	NearestBeforeWindow(ctx context.Context, q NeighborQuery) (*Neighbor, error)
}

// ClusterRepo manages Cluster rows.
type ClusterRepo interface {
	// FindNearestHot returns the nearest cluster (by centroid) whose
	// updated_at is >= the lookback floor, plus its member count.
	FindNearestHot(ctx context.Context, userID string, vector []float64, updatedAfter time.Time) (*core.Cluster, int, float64, error)
	Create(ctx context.Context, userID string, representativeItemID string, vector []float64) (*core.Cluster, error)
	UpdateCentroid(ctx context.Context, clusterID string, vector []float64, representativeItemID *string) error
	Get(ctx context.Context, id string) (*core.Cluster, error)
}

// ClusterItemRepo manages cluster membership.
type ClusterItemRepo interface {
	Insert(ctx context.Context, clusterID, contentItemID string, similarity float64) error
	// ListMembersInWindow returns members of clusterID whose ContentItem
	// falls in [start,end), for candidate assembly (§4.7).
	ListMembersInWindow(ctx context.Context, clusterID string, start, end time.Time) ([]core.ContentItem, error)
	// ListClustersWithMembersInWindow returns the set of cluster ids that
	// have at least one member in-window.
	ListClustersWithMembersInWindow(ctx context.Context, userID, topicID string, start, end time.Time) ([]string, error)
}

// PreferenceRepo manages TopicPreferenceProfile rows.
type PreferenceRepo interface {
	Get(ctx context.Context, userID, topicID string) (*core.TopicPreferenceProfile, error)
	Upsert(ctx context.Context, profile core.TopicPreferenceProfile) error
}

// FeedbackRepo manages FeedbackEvent rows.
type FeedbackRepo interface {
	Insert(ctx context.Context, event core.FeedbackEvent) error
	// ListRecent returns feedback events for a topic within lookback,
	// joined conceptually with content item source/author for preference
	// weight computation.
	ListRecent(ctx context.Context, userID, topicID string, since time.Time) ([]core.FeedbackEvent, error)
}

// DigestRepo manages Digest and DigestItem rows.
type DigestRepo interface {
	// UpsertWithItems upserts the Digest keyed by (user,topic,window,mode)
	// and replaces its DigestItems atomically (§4.16).
	UpsertWithItems(ctx context.Context, digest core.Digest, items []core.DigestItem) (*core.Digest, error)
	GetLatest(ctx context.Context, userID, topicID string) (*core.Digest, error)
	ListItems(ctx context.Context, digestID string) ([]core.DigestItem, error)
}

// ProviderCallRepo is the append-only audit log.
type ProviderCallRepo interface {
	Insert(ctx context.Context, call core.ProviderCall) error
	SumCreditsSince(ctx context.Context, userID string, since time.Time) (float64, error)
}

// BudgetResetRepo is the append-only credit-offset log.
type BudgetResetRepo interface {
	Insert(ctx context.Context, reset core.BudgetReset) error
	SumSince(ctx context.Context, userID string, period core.BudgetResetPeriod, since time.Time) (float64, error)
}

// FetchRunRepo manages FetchRun rows.
type FetchRunRepo interface {
	Create(ctx context.Context, run core.FetchRun) (*core.FetchRun, error)
	Finalize(ctx context.Context, runID string, status core.FetchRunStatus, cursorOut map[string]any, counts map[string]int, errMsg *string) error
}
