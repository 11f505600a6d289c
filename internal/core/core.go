// Package core holds the domain entities shared across the pipeline.
package core

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a new random entity identifier.
func NewID() string {
	return uuid.NewString()
}

// Tier selects the LLM model class used for a pipeline run.
type Tier string

const (
	TierLow    Tier = "low"
	TierNormal Tier = "normal"
	TierHigh   Tier = "high"
)

// User is the MVP singleton account that owns topics, sources and content.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Topic is a (user, name) scoped digest schedule and ranking profile.
type Topic struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	Name                   string    `json:"name"`
	DigestScheduleEnabled  bool      `json:"digest_schedule_enabled"`
	DigestIntervalMinutes  int       `json:"digest_interval_minutes"` // > 0
	DigestMode             Tier      `json:"digest_mode"`
	DigestDepth            int       `json:"digest_depth"` // [0,100]
	DigestCursorEnd        *time.Time `json:"digest_cursor_end"`
	DecayHours             *float64  `json:"decay_hours"` // nil or > 0
	CreatedAt              time.Time `json:"created_at"`
}

// Source is a connector instance exclusively owned by one (user, topic).
type Source struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	TopicID   string         `json:"topic_id"`
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Config    map[string]any `json:"config"`
	Cursor    map[string]any `json:"cursor"`
	IsEnabled bool           `json:"is_enabled"`
	Weight    *float64       `json:"weight"`
}

// ContentItem is a single piece of ingested content, owned by a user.
type ContentItem struct {
	ID                     string         `json:"id"`
	UserID                 string         `json:"user_id"`
	SourceID               string         `json:"source_id"`
	SourceType             string         `json:"source_type"`
	ExternalID             *string        `json:"external_id"`
	CanonicalURL           *string        `json:"canonical_url"`
	Title                  string         `json:"title"`
	BodyText               string         `json:"body_text"`
	Author                 string         `json:"author"`
	PublishedAt            time.Time      `json:"published_at"`
	FetchedAt              time.Time      `json:"fetched_at"`
	Metadata               map[string]any `json:"metadata"`
	Raw                    map[string]any `json:"raw"`
	HashURL                *string        `json:"hash_url"`
	HashText               *string        `json:"hash_text"`
	DuplicateOfContentItem *string        `json:"duplicate_of_content_item_id"`
	DeletedAt              *time.Time     `json:"deleted_at"`
}

// IsDuplicate reports whether this item has been marked as a near-duplicate.
func (c *ContentItem) IsDuplicate() bool { return c.DuplicateOfContentItem != nil }

// IsDeleted reports whether this item has been tombstoned.
func (c *ContentItem) IsDeleted() bool { return c.DeletedAt != nil }

// ContentItemSource is the many-to-many provenance link between an item
// and every source that surfaced it.
type ContentItemSource struct {
	ContentItemID string    `json:"content_item_id"`
	SourceID      string    `json:"source_id"`
	AddedAt       time.Time `json:"added_at"`
}

// Embedding is the vector representation of a ContentItem at a fixed
// (model, dims) pair.
type Embedding struct {
	ContentItemID string    `json:"content_item_id"`
	Model         string    `json:"model"`
	Dims          int       `json:"dims"`
	Vector        []float64 `json:"vector"`
}

// Cluster groups related content items into a story with a running-mean
// centroid.
type Cluster struct {
	ID                        string    `json:"id"`
	UserID                    string    `json:"user_id"`
	RepresentativeContentItem *string   `json:"representative_content_item_id"`
	CentroidVector            []float64 `json:"centroid_vector"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// ClusterItem is a membership row; a ContentItem belongs to at most one
// cluster (enforced by a unique index on content_item_id).
type ClusterItem struct {
	ClusterID     string  `json:"cluster_id"`
	ContentItemID string  `json:"content_item_id"`
	Similarity    float64 `json:"similarity"`
}

// TopicPreferenceProfile holds the EMA vectors learned from feedback for a
// (user, topic) pair.
type TopicPreferenceProfile struct {
	UserID        string    `json:"user_id"`
	TopicID       string    `json:"topic_id"`
	PositiveVector []float64 `json:"positive_vector"`
	NegativeVector []float64 `json:"negative_vector"`
	PositiveCount int       `json:"positive_count"`
	NegativeCount int       `json:"negative_count"`
}

// FeedbackAction is the set of review actions a user may take on a digest
// item.
type FeedbackAction string

const (
	FeedbackLike    FeedbackAction = "like"
	FeedbackDislike FeedbackAction = "dislike"
	FeedbackSave    FeedbackAction = "save"
	FeedbackSkip    FeedbackAction = "skip"
)

// FeedbackEvent is an append-only record of user review actions.
type FeedbackEvent struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	ContentItemID string         `json:"content_item_id"`
	DigestID      string         `json:"digest_id"`
	Action        FeedbackAction `json:"action"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Digest is an ordered, bounded set of items presented for one
// (user, topic, window, mode).
type Digest struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TopicID     string    `json:"topic_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Mode        Tier      `json:"mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// DigestItem is one ranked entry of a Digest; exactly one of ClusterID or
// ContentItemID is set.
type DigestItem struct {
	DigestID      string         `json:"digest_id"`
	Rank          int            `json:"rank"` // 1..N, dense and contiguous
	ClusterID     *string        `json:"cluster_id"`
	ContentItemID *string        `json:"content_item_id"`
	Score         float64        `json:"score"`
	TriageJSON    map[string]any `json:"triage_json"`
	SummaryJSON   map[string]any `json:"summary_json"`
}

// ProviderCallStatus is the outcome of a paid provider call.
type ProviderCallStatus string

const (
	ProviderCallOK    ProviderCallStatus = "ok"
	ProviderCallError ProviderCallStatus = "error"
)

// ProviderCallPurpose enumerates the LLM router purposes named in the
// external interface contract.
type ProviderCallPurpose string

const (
	PurposeTriage            ProviderCallPurpose = "triage"
	PurposeEnrich            ProviderCallPurpose = "enrich"
	PurposeEmbed             ProviderCallPurpose = "embed"
	PurposeCatchupPackSelect ProviderCallPurpose = "catchup_pack_select"
	PurposeCatchupPackTier   ProviderCallPurpose = "catchup_pack_tier"
	// PurposeIngest accounts for paid connector fetch calls (signal,
	// x_posts); the external interface contract names only the LLM
	// router's five purposes, so this extends the vocabulary for the
	// one paid call site that isn't an LLM call.
	PurposeIngest ProviderCallPurpose = "ingest"
)

// ProviderCall is an append-only audit log entry for every paid call.
type ProviderCall struct {
	ID                  string              `json:"id"`
	UserID              string              `json:"user_id"`
	Purpose             ProviderCallPurpose `json:"purpose"`
	Provider            string              `json:"provider"`
	Model               string              `json:"model"`
	InputTokens         int                 `json:"input_tokens"`
	OutputTokens        int                 `json:"output_tokens"`
	CostEstimateCredits float64             `json:"cost_estimate_credits"`
	Meta                map[string]any      `json:"meta"`
	StartedAt           time.Time           `json:"started_at"`
	EndedAt             time.Time           `json:"ended_at"`
	Status              ProviderCallStatus  `json:"status"`
	Error               map[string]any      `json:"error"`
}

// BudgetResetPeriod is the accounting window a BudgetReset offsets.
type BudgetResetPeriod string

const (
	BudgetResetDaily   BudgetResetPeriod = "daily"
	BudgetResetMonthly BudgetResetPeriod = "monthly"
)

// BudgetReset is an append-only credit offset applied when summing
// provider calls (e.g. a manual top-up or a plan renewal).
type BudgetReset struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Period            BudgetResetPeriod `json:"period"`
	CreditsAtReset    float64           `json:"credits_at_reset"`
	ResetAt           time.Time         `json:"reset_at"`
}

// FetchRunStatus is the terminal status of one ingest attempt.
type FetchRunStatus string

const (
	FetchRunOK      FetchRunStatus = "ok"
	FetchRunPartial FetchRunStatus = "partial"
	FetchRunError   FetchRunStatus = "error"
	FetchRunSkipped FetchRunStatus = "skipped"
)

// FetchRun records one ingest attempt for one source.
type FetchRun struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at"`
	Status     FetchRunStatus `json:"status"`
	CursorIn   map[string]any `json:"cursor_in"`
	CursorOut  map[string]any `json:"cursor_out"`
	Counts     map[string]int `json:"counts"`
	Error      *string        `json:"error"`
}
