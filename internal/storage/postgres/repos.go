package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// ErrNotFound is returned when a Get call finds no matching row.
var ErrNotFound = errors.New("not found")

// formatVector renders a []float64 in pgvector's literal syntax, the way
// the teacher's PgVectorAdapter.formatVector does.
func formatVector(v []float64) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVector(s sql.NullString) []float64 {
	if !s.Valid || s.String == "" {
		return nil
	}
	trimmed := strings.Trim(s.String, "[]")
	if trimmed == "" {
		return []float64{}
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(b []byte) map[string]any {
	if len(b) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrOrNil(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timeOrNil(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

type userRepo struct{ q querier }

func (r *userRepo) Get(ctx context.Context, id string) (*core.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, created_at FROM users WHERE id = $1`, id)
	var u core.User
	if err := row.Scan(&u.ID, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (r *userRepo) EnsureDefault(ctx context.Context) (*core.User, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, created_at FROM users ORDER BY created_at LIMIT 1`)
	var u core.User
	err := row.Scan(&u.ID, &u.CreatedAt)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ensure default user: %w", err)
	}
	u = core.User{ID: core.NewID(), CreatedAt: time.Now().UTC()}
	if _, err := r.q.ExecContext(ctx, `INSERT INTO users (id, created_at) VALUES ($1, $2)`, u.ID, u.CreatedAt); err != nil {
		return nil, fmt.Errorf("create default user: %w", err)
	}
	return &u, nil
}

type topicRepo struct{ q querier }

func scanTopic(row interface{ Scan(...any) error }) (*core.Topic, error) {
	var t core.Topic
	var cursorEnd sql.NullTime
	var decayHours sql.NullFloat64
	var mode string
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.DigestScheduleEnabled, &t.DigestIntervalMinutes,
		&mode, &t.DigestDepth, &cursorEnd, &decayHours, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.DigestMode = core.Tier(mode)
	t.DigestCursorEnd = timeOrNil(cursorEnd)
	if decayHours.Valid {
		v := decayHours.Float64
		t.DecayHours = &v
	}
	return &t, nil
}

func (r *topicRepo) Get(ctx context.Context, id string) (*core.Topic, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, user_id, name, digest_schedule_enabled, digest_interval_minutes,
		digest_mode, digest_depth, digest_cursor_end, decay_hours, created_at FROM topics WHERE id = $1`, id)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

func (r *topicRepo) ListScheduleEnabled(ctx context.Context, userID string) ([]core.Topic, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, user_id, name, digest_schedule_enabled, digest_interval_minutes,
		digest_mode, digest_depth, digest_cursor_end, decay_hours, created_at FROM topics
		WHERE user_id = $1 AND digest_schedule_enabled = TRUE`, userID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled topics: %w", err)
	}
	defer rows.Close()

	var out []core.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *topicRepo) AdvanceCursor(ctx context.Context, topicID string, windowEnd time.Time) error {
	_, err := r.q.ExecContext(ctx, `UPDATE topics SET digest_cursor_end = $1 WHERE id = $2`, windowEnd, topicID)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

type sourceRepo struct{ q querier }

func scanSource(row interface{ Scan(...any) error }) (*core.Source, error) {
	var s core.Source
	var configJSON, cursorJSON []byte
	var weight sql.NullFloat64
	if err := row.Scan(&s.ID, &s.UserID, &s.TopicID, &s.Type, &s.Name, &configJSON, &cursorJSON, &s.IsEnabled, &weight); err != nil {
		return nil, err
	}
	s.Config = unmarshalJSON(configJSON)
	s.Cursor = unmarshalJSON(cursorJSON)
	if weight.Valid {
		v := weight.Float64
		s.Weight = &v
	}
	return &s, nil
}

func (r *sourceRepo) Get(ctx context.Context, id string) (*core.Source, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, user_id, topic_id, type, name, config, cursor, is_enabled, weight
		FROM sources WHERE id = $1`, id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return s, nil
}

func (r *sourceRepo) ListEnabledByTopic(ctx context.Context, topicID string) ([]core.Source, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, user_id, topic_id, type, name, config, cursor, is_enabled, weight
		FROM sources WHERE topic_id = $1 AND is_enabled = TRUE`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []core.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *sourceRepo) UpdateCursor(ctx context.Context, sourceID string, cursor map[string]any) error {
	cursorJSON, err := marshalJSON(cursor)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `UPDATE sources SET cursor = $1 WHERE id = $2`, cursorJSON, sourceID); err != nil {
		return fmt.Errorf("update source cursor: %w", err)
	}
	return nil
}

type contentItemRepo struct{ q querier }

const contentItemColumns = `id, user_id, source_id, source_type, external_id, canonical_url,
	title, body_text, author, published_at, fetched_at, metadata, raw, hash_url, hash_text,
	duplicate_of_content_item_id, deleted_at`

func scanContentItem(row interface{ Scan(...any) error }) (*core.ContentItem, error) {
	var c core.ContentItem
	var externalID, canonicalURL, hashURL, hashText, dupOf sql.NullString
	var deletedAt sql.NullTime
	var metaJSON, rawJSON []byte
	if err := row.Scan(&c.ID, &c.UserID, &c.SourceID, &c.SourceType, &externalID, &canonicalURL,
		&c.Title, &c.BodyText, &c.Author, &c.PublishedAt, &c.FetchedAt, &metaJSON, &rawJSON,
		&hashURL, &hashText, &dupOf, &deletedAt); err != nil {
		return nil, err
	}
	c.ExternalID = ptrOrNil(externalID)
	c.CanonicalURL = ptrOrNil(canonicalURL)
	c.Metadata = unmarshalJSON(metaJSON)
	c.Raw = unmarshalJSON(rawJSON)
	c.HashURL = ptrOrNil(hashURL)
	c.HashText = ptrOrNil(hashText)
	c.DuplicateOfContentItem = ptrOrNil(dupOf)
	c.DeletedAt = timeOrNil(deletedAt)
	return &c, nil
}

func (r *contentItemRepo) Upsert(ctx context.Context, userID, sourceID string, draft storage.ContentItemDraft, hashURL *string, syntheticExternalID *string) (*core.ContentItem, error) {
	metaJSON, err := marshalJSON(draft.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	rawJSON, err := marshalJSON(draft.Raw)
	if err != nil {
		return nil, fmt.Errorf("marshal raw: %w", err)
	}

	externalID := draft.ExternalID
	if externalID == nil {
		externalID = syntheticExternalID
	}

	now := time.Now().UTC()

	var existingID string
	found := false
	if externalID != nil {
		row := r.q.QueryRowContext(ctx, `SELECT id FROM content_items WHERE source_id = $1 AND external_id = $2`, sourceID, *externalID)
		if err := row.Scan(&existingID); err == nil {
			found = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup by external id: %w", err)
		}
	}
	if !found && hashURL != nil {
		row := r.q.QueryRowContext(ctx, `SELECT id FROM content_items WHERE user_id = $1 AND hash_url = $2`, userID, *hashURL)
		if err := row.Scan(&existingID); err == nil {
			found = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup by hash url: %w", err)
		}
	}

	if found {
		_, err := r.q.ExecContext(ctx, `UPDATE content_items SET title = $1, body_text = $2, author = $3,
			published_at = $4, fetched_at = $5, metadata = $6, raw = $7, canonical_url = $8, hash_url = $9
			WHERE id = $10`,
			draft.Title, draft.BodyText, draft.Author, draft.PublishedAt, now, metaJSON, rawJSON,
			nullableString(draft.CanonicalURL), nullableString(hashURL), existingID)
		if err != nil {
			return nil, fmt.Errorf("update content item: %w", err)
		}
		return r.Get(ctx, existingID)
	}

	id := core.NewID()
	_, err = r.q.ExecContext(ctx, `INSERT INTO content_items
		(id, user_id, source_id, source_type, external_id, canonical_url, title, body_text, author,
		 published_at, fetched_at, metadata, raw, hash_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, userID, sourceID, draft.SourceType, nullableString(externalID), nullableString(draft.CanonicalURL),
		draft.Title, draft.BodyText, draft.Author, draft.PublishedAt, now, metaJSON, rawJSON, nullableString(hashURL))
	if err != nil {
		return nil, fmt.Errorf("insert content item: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *contentItemRepo) Get(ctx context.Context, id string) (*core.ContentItem, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+contentItemColumns+` FROM content_items WHERE id = $1`, id)
	c, err := scanContentItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return c, nil
}

func (r *contentItemRepo) ListWindow(ctx context.Context, q storage.WindowQuery) ([]core.ContentItem, error) {
	limitClause := ""
	args := []any{q.TopicID, q.UserID, q.WindowStart, q.WindowEnd}
	if q.MaxItems > 0 {
		limitClause = " LIMIT $5"
		args = append(args, q.MaxItems)
	}
	rows, err := r.q.QueryContext(ctx, `SELECT ci.id, ci.user_id, ci.source_id, ci.source_type, ci.external_id,
		ci.canonical_url, ci.title, ci.body_text, ci.author, ci.published_at, ci.fetched_at, ci.metadata,
		ci.raw, ci.hash_url, ci.hash_text, ci.duplicate_of_content_item_id, ci.deleted_at
		FROM content_items ci
		JOIN sources s ON s.id = ci.source_id
		WHERE s.topic_id = $1 AND ci.user_id = $2 AND ci.published_at >= $3 AND ci.published_at < $4
		  AND ci.deleted_at IS NULL
		ORDER BY ci.published_at ASC`+limitClause, args...)
	if err != nil {
		return nil, fmt.Errorf("list window content items: %w", err)
	}
	defer rows.Close()

	var out []core.ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *contentItemRepo) ListNeedingEmbedding(ctx context.Context, userID, topicID string, windowStart, windowEnd *time.Time, model string, dims int, maxItems int) ([]core.ContentItem, error) {
	query := `SELECT ci.id, ci.user_id, ci.source_id, ci.source_type, ci.external_id,
		ci.canonical_url, ci.title, ci.body_text, ci.author, ci.published_at, ci.fetched_at, ci.metadata,
		ci.raw, ci.hash_url, ci.hash_text, ci.duplicate_of_content_item_id, ci.deleted_at
		FROM content_items ci
		JOIN sources s ON s.id = ci.source_id
		LEFT JOIN embeddings e ON e.content_item_id = ci.id
		WHERE s.topic_id = $1 AND ci.user_id = $2 AND ci.deleted_at IS NULL
		  AND ci.duplicate_of_content_item_id IS NULL
		  AND (e.content_item_id IS NULL OR e.model != $3 OR e.dims != $4 OR ci.hash_text IS NULL)`
	args := []any{topicID, userID, model, dims}
	if windowStart != nil && windowEnd != nil {
		query += ` AND ci.published_at >= $5 AND ci.published_at < $6`
		args = append(args, *windowStart, *windowEnd)
	}
	query += ` ORDER BY ci.published_at ASC`
	if maxItems > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, maxItems)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items needing embedding: %w", err)
	}
	defer rows.Close()

	var out []core.ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *contentItemRepo) UpdateHashText(ctx context.Context, itemID string, hashText string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE content_items SET hash_text = $1 WHERE id = $2`, hashText, itemID)
	if err != nil {
		return fmt.Errorf("update hash_text: %w", err)
	}
	return nil
}

func (r *contentItemRepo) MarkDuplicate(ctx context.Context, itemID, duplicateOfID string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE content_items SET duplicate_of_content_item_id = $1 WHERE id = $2`, duplicateOfID, itemID)
	if err != nil {
		return fmt.Errorf("mark duplicate: %w", err)
	}
	return nil
}

func (r *contentItemRepo) IsClustered(ctx context.Context, itemID string) (bool, error) {
	var count int
	row := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cluster_items WHERE content_item_id = $1`, itemID)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check clustered: %w", err)
	}
	return count > 0, nil
}

type contentItemSourceRepo struct{ q querier }

func (r *contentItemSourceRepo) Link(ctx context.Context, contentItemID, sourceID string) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO content_item_sources (content_item_id, source_id, added_at)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, contentItemID, sourceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("link content item source: %w", err)
	}
	return nil
}

type embeddingRepo struct{ q querier }

func (r *embeddingRepo) Get(ctx context.Context, contentItemID string) (*core.Embedding, error) {
	row := r.q.QueryRowContext(ctx, `SELECT content_item_id, model, dims, vector::text FROM embeddings WHERE content_item_id = $1`, contentItemID)
	var e core.Embedding
	var vecStr sql.NullString
	if err := row.Scan(&e.ContentItemID, &e.Model, &e.Dims, &vecStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	e.Vector = parseVector(vecStr)
	return &e, nil
}

func (r *embeddingRepo) UpsertBatch(ctx context.Context, embeddings []core.Embedding) error {
	for _, e := range embeddings {
		_, err := r.q.ExecContext(ctx, `INSERT INTO embeddings (content_item_id, model, dims, vector)
			VALUES ($1, $2, $3, $4::vector)
			ON CONFLICT (content_item_id) DO UPDATE SET model = excluded.model, dims = excluded.dims, vector = excluded.vector`,
			e.ContentItemID, e.Model, e.Dims, formatVector(e.Vector))
		if err != nil {
			return fmt.Errorf("upsert embedding: %w", err)
		}
	}
	return nil
}

// nearest runs a single <=> cosine-distance nearest-neighbor query against
// topic-scoped embeddings with the NeighborQuery filters applied.
func (r *embeddingRepo) nearest(ctx context.Context, q storage.NeighborQuery) (*storage.Neighbor, error) {
	query := `SELECT ci.id, ci.published_at, 1 - (e.vector <=> $1::vector) AS similarity
		FROM content_items ci
		JOIN sources s ON s.id = ci.source_id
		JOIN embeddings e ON e.content_item_id = ci.id
		WHERE s.topic_id = $2 AND ci.user_id = $3 AND e.model = $4 AND e.dims = $5 AND ci.id != $6`
	args := []any{formatVector(q.Vector), q.TopicID, q.UserID, q.Model, q.Dims, q.ExcludeItemID}
	if q.ExcludeDuplicates {
		query += ` AND ci.duplicate_of_content_item_id IS NULL`
	}
	if q.ExcludeSignalBundles {
		query += ` AND NOT (ci.source_type = 'signal' AND ci.canonical_url IS NULL)`
	}
	if q.Before != nil {
		query += fmt.Sprintf(` AND ci.published_at < $%d`, len(args)+1)
		args = append(args, *q.Before)
	}
	if q.After != nil {
		query += fmt.Sprintf(` AND ci.published_at >= $%d`, len(args)+1)
		args = append(args, *q.After)
	}
	query += ` ORDER BY e.vector <=> $1::vector LIMIT 1`

	row := r.q.QueryRowContext(ctx, query, args...)
	var n storage.Neighbor
	if err := row.Scan(&n.ContentItemID, &n.PublishedAt, &n.Similarity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("nearest neighbor: %w", err)
	}
	return &n, nil
}

func (r *embeddingRepo) NearestOlder(ctx context.Context, q storage.NeighborQuery) (*storage.Neighbor, error) {
	return r.nearest(ctx, q)
}

func (r *embeddingRepo) NearestBeforeWindow(ctx context.Context, q storage.NeighborQuery) (*storage.Neighbor, error) {
	return r.nearest(ctx, q)
}

type clusterRepo struct{ q querier }

func (r *clusterRepo) FindNearestHot(ctx context.Context, userID string, vector []float64, updatedAfter time.Time) (*core.Cluster, int, float64, error) {
	row := r.q.QueryRowContext(ctx, `SELECT c.id, c.representative_content_item_id, c.centroid_vector::text, c.updated_at,
		1 - (c.centroid_vector <=> $1::vector) AS similarity,
		(SELECT COUNT(*) FROM cluster_items ci WHERE ci.cluster_id = c.id) AS member_count
		FROM clusters c
		WHERE c.user_id = $2 AND c.updated_at >= $3
		ORDER BY c.centroid_vector <=> $1::vector LIMIT 1`, formatVector(vector), userID, updatedAfter)

	var c core.Cluster
	var rep sql.NullString
	var vecStr sql.NullString
	var sim float64
	var count int
	err := row.Scan(&c.ID, &rep, &vecStr, &c.UpdatedAt, &sim, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, 0, nil
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("find nearest cluster: %w", err)
	}
	c.UserID = userID
	c.RepresentativeContentItem = ptrOrNil(rep)
	c.CentroidVector = parseVector(vecStr)
	return &c, count, sim, nil
}

func (r *clusterRepo) Create(ctx context.Context, userID string, representativeItemID string, vector []float64) (*core.Cluster, error) {
	c := core.Cluster{
		ID:                        core.NewID(),
		UserID:                    userID,
		RepresentativeContentItem: &representativeItemID,
		CentroidVector:            vector,
		UpdatedAt:                 time.Now().UTC(),
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO clusters (id, user_id, representative_content_item_id, centroid_vector, updated_at)
		VALUES ($1, $2, $3, $4::vector, $5)`, c.ID, c.UserID, representativeItemID, formatVector(vector), c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create cluster: %w", err)
	}
	return &c, nil
}

func (r *clusterRepo) UpdateCentroid(ctx context.Context, clusterID string, vector []float64, representativeItemID *string) error {
	var err error
	if representativeItemID != nil {
		_, err = r.q.ExecContext(ctx, `UPDATE clusters SET centroid_vector = $1::vector, updated_at = $2, representative_content_item_id = $3
			WHERE id = $4`, formatVector(vector), time.Now().UTC(), *representativeItemID, clusterID)
	} else {
		_, err = r.q.ExecContext(ctx, `UPDATE clusters SET centroid_vector = $1::vector, updated_at = $2 WHERE id = $3`,
			formatVector(vector), time.Now().UTC(), clusterID)
	}
	if err != nil {
		return fmt.Errorf("update centroid: %w", err)
	}
	return nil
}

func (r *clusterRepo) Get(ctx context.Context, id string) (*core.Cluster, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, user_id, representative_content_item_id, centroid_vector::text, updated_at
		FROM clusters WHERE id = $1`, id)
	var c core.Cluster
	var rep sql.NullString
	var vecStr sql.NullString
	if err := row.Scan(&c.ID, &c.UserID, &rep, &vecStr, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	c.RepresentativeContentItem = ptrOrNil(rep)
	c.CentroidVector = parseVector(vecStr)
	return &c, nil
}

type clusterItemRepo struct{ q querier }

func (r *clusterItemRepo) Insert(ctx context.Context, clusterID, contentItemID string, similarity float64) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO cluster_items (cluster_id, content_item_id, similarity)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, clusterID, contentItemID, similarity)
	if err != nil {
		return fmt.Errorf("insert cluster item: %w", err)
	}
	return nil
}

func (r *clusterItemRepo) ListMembersInWindow(ctx context.Context, clusterID string, start, end time.Time) ([]core.ContentItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT ci.`+contentItemColumns+`
		FROM content_items ci
		JOIN cluster_items cit ON cit.content_item_id = ci.id
		WHERE cit.cluster_id = $1 AND ci.published_at >= $2 AND ci.published_at < $3`, clusterID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list cluster members in window: %w", err)
	}
	defer rows.Close()

	var out []core.ContentItem
	for rows.Next() {
		c, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *clusterItemRepo) ListClustersWithMembersInWindow(ctx context.Context, userID, topicID string, start, end time.Time) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT cit.cluster_id FROM cluster_items cit
		JOIN content_items ci ON ci.id = cit.content_item_id
		JOIN sources s ON s.id = ci.source_id
		JOIN clusters c ON c.id = cit.cluster_id
		WHERE s.topic_id = $1 AND c.user_id = $2 AND ci.published_at >= $3 AND ci.published_at < $4`,
		topicID, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list clusters with members in window: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cluster id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type preferenceRepo struct{ q querier }

func (r *preferenceRepo) Get(ctx context.Context, userID, topicID string) (*core.TopicPreferenceProfile, error) {
	row := r.q.QueryRowContext(ctx, `SELECT user_id, topic_id, positive_vector::text, negative_vector::text, positive_count, negative_count
		FROM topic_preference_profiles WHERE user_id = $1 AND topic_id = $2`, userID, topicID)
	var p core.TopicPreferenceProfile
	var posStr, negStr sql.NullString
	if err := row.Scan(&p.UserID, &p.TopicID, &posStr, &negStr, &p.PositiveCount, &p.NegativeCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get preference profile: %w", err)
	}
	p.PositiveVector = parseVector(posStr)
	p.NegativeVector = parseVector(negStr)
	return &p, nil
}

func (r *preferenceRepo) Upsert(ctx context.Context, profile core.TopicPreferenceProfile) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO topic_preference_profiles
		(user_id, topic_id, positive_vector, negative_vector, positive_count, negative_count)
		VALUES ($1, $2, $3::vector, $4::vector, $5, $6)
		ON CONFLICT (user_id, topic_id) DO UPDATE SET positive_vector = excluded.positive_vector,
			negative_vector = excluded.negative_vector, positive_count = excluded.positive_count,
			negative_count = excluded.negative_count`,
		profile.UserID, profile.TopicID, formatVector(profile.PositiveVector), formatVector(profile.NegativeVector),
		profile.PositiveCount, profile.NegativeCount)
	if err != nil {
		return fmt.Errorf("upsert preference profile: %w", err)
	}
	return nil
}

type feedbackRepo struct{ q querier }

func (r *feedbackRepo) Insert(ctx context.Context, event core.FeedbackEvent) error {
	if event.ID == "" {
		event.ID = core.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO feedback_events (id, user_id, content_item_id, digest_id, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, event.ID, event.UserID, event.ContentItemID, event.DigestID, event.Action, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback event: %w", err)
	}
	return nil
}

func (r *feedbackRepo) ListRecent(ctx context.Context, userID, topicID string, since time.Time) ([]core.FeedbackEvent, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT fe.id, fe.user_id, fe.content_item_id, fe.digest_id, fe.action, fe.created_at
		FROM feedback_events fe
		JOIN digests d ON d.id = fe.digest_id
		WHERE fe.user_id = $1 AND d.topic_id = $2 AND fe.created_at >= $3`, userID, topicID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}
	defer rows.Close()

	var out []core.FeedbackEvent
	for rows.Next() {
		var e core.FeedbackEvent
		var action string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ContentItemID, &e.DigestID, &action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback event: %w", err)
		}
		e.Action = core.FeedbackAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

type digestRepo struct{ q querier }

func (r *digestRepo) UpsertWithItems(ctx context.Context, digest core.Digest, items []core.DigestItem) (*core.Digest, error) {
	if digest.ID == "" {
		digest.ID = core.NewID()
	}
	if digest.CreatedAt.IsZero() {
		digest.CreatedAt = time.Now().UTC()
	}

	var existingID string
	row := r.q.QueryRowContext(ctx, `SELECT id FROM digests WHERE user_id = $1 AND topic_id = $2 AND window_start = $3
		AND window_end = $4 AND mode = $5`, digest.UserID, digest.TopicID, digest.WindowStart, digest.WindowEnd, digest.Mode)
	err := row.Scan(&existingID)
	switch {
	case err == nil:
		digest.ID = existingID
		if _, err := r.q.ExecContext(ctx, `UPDATE digests SET created_at = $1 WHERE id = $2`, digest.CreatedAt, digest.ID); err != nil {
			return nil, fmt.Errorf("touch digest: %w", err)
		}
		if _, err := r.q.ExecContext(ctx, `DELETE FROM digest_items WHERE digest_id = $1`, digest.ID); err != nil {
			return nil, fmt.Errorf("clear digest items: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.q.ExecContext(ctx, `INSERT INTO digests (id, user_id, topic_id, window_start, window_end, mode, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, digest.ID, digest.UserID, digest.TopicID, digest.WindowStart,
			digest.WindowEnd, digest.Mode, digest.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert digest: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup existing digest: %w", err)
	}

	for _, item := range items {
		triageJSON, err := marshalJSON(item.TriageJSON)
		if err != nil {
			return nil, fmt.Errorf("marshal triage_json: %w", err)
		}
		var summaryJSON any
		if item.SummaryJSON != nil {
			s, err := marshalJSON(item.SummaryJSON)
			if err != nil {
				return nil, fmt.Errorf("marshal summary_json: %w", err)
			}
			summaryJSON = s
		}
		_, err = r.q.ExecContext(ctx, `INSERT INTO digest_items (digest_id, rank, cluster_id, content_item_id, score, triage_json, summary_json)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, digest.ID, item.Rank, nullableString(item.ClusterID),
			nullableString(item.ContentItemID), item.Score, triageJSON, summaryJSON)
		if err != nil {
			return nil, fmt.Errorf("insert digest item: %w", err)
		}
	}

	return &digest, nil
}

func (r *digestRepo) GetLatest(ctx context.Context, userID, topicID string) (*core.Digest, error) {
	row := r.q.QueryRowContext(ctx, `SELECT id, user_id, topic_id, window_start, window_end, mode, created_at
		FROM digests WHERE user_id = $1 AND topic_id = $2 ORDER BY created_at DESC LIMIT 1`, userID, topicID)
	var d core.Digest
	var mode string
	if err := row.Scan(&d.ID, &d.UserID, &d.TopicID, &d.WindowStart, &d.WindowEnd, &mode, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest digest: %w", err)
	}
	d.Mode = core.Tier(mode)
	return &d, nil
}

func (r *digestRepo) ListItems(ctx context.Context, digestID string) ([]core.DigestItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT digest_id, rank, cluster_id, content_item_id, score, triage_json, summary_json
		FROM digest_items WHERE digest_id = $1 ORDER BY rank ASC`, digestID)
	if err != nil {
		return nil, fmt.Errorf("list digest items: %w", err)
	}
	defer rows.Close()

	var out []core.DigestItem
	for rows.Next() {
		var item core.DigestItem
		var clusterID, contentItemID sql.NullString
		var triageJSON []byte
		var summaryJSON []byte
		if err := rows.Scan(&item.DigestID, &item.Rank, &clusterID, &contentItemID, &item.Score, &triageJSON, &summaryJSON); err != nil {
			return nil, fmt.Errorf("scan digest item: %w", err)
		}
		item.ClusterID = ptrOrNil(clusterID)
		item.ContentItemID = ptrOrNil(contentItemID)
		item.TriageJSON = unmarshalJSON(triageJSON)
		if len(summaryJSON) > 0 {
			item.SummaryJSON = unmarshalJSON(summaryJSON)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type providerCallRepo struct{ q querier }

func (r *providerCallRepo) Insert(ctx context.Context, call core.ProviderCall) error {
	if call.ID == "" {
		call.ID = core.NewID()
	}
	metaJSON, err := marshalJSON(call.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	var errJSON any
	if call.Error != nil {
		s, err := marshalJSON(call.Error)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		errJSON = s
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO provider_calls (id, user_id, purpose, provider, model, input_tokens,
		output_tokens, cost_estimate_credits, meta, started_at, ended_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		call.ID, call.UserID, call.Purpose, call.Provider, call.Model, call.InputTokens, call.OutputTokens,
		call.CostEstimateCredits, metaJSON, call.StartedAt, call.EndedAt, call.Status, errJSON)
	if err != nil {
		return fmt.Errorf("insert provider call: %w", err)
	}
	return nil
}

func (r *providerCallRepo) SumCreditsSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	row := r.q.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_estimate_credits), 0) FROM provider_calls
		WHERE user_id = $1 AND status = 'ok' AND started_at >= $2`, userID, since)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum provider call credits: %w", err)
	}
	return sum, nil
}

type budgetResetRepo struct{ q querier }

func (r *budgetResetRepo) Insert(ctx context.Context, reset core.BudgetReset) error {
	if reset.ID == "" {
		reset.ID = core.NewID()
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO budget_resets (id, user_id, period, credits_at_reset, reset_at)
		VALUES ($1, $2, $3, $4, $5)`, reset.ID, reset.UserID, reset.Period, reset.CreditsAtReset, reset.ResetAt)
	if err != nil {
		return fmt.Errorf("insert budget reset: %w", err)
	}
	return nil
}

func (r *budgetResetRepo) SumSince(ctx context.Context, userID string, period core.BudgetResetPeriod, since time.Time) (float64, error) {
	row := r.q.QueryRowContext(ctx, `SELECT COALESCE(SUM(credits_at_reset), 0) FROM budget_resets
		WHERE user_id = $1 AND period = $2 AND reset_at >= $3`, userID, period, since)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum budget resets: %w", err)
	}
	return sum, nil
}

type fetchRunRepo struct{ q querier }

func (r *fetchRunRepo) Create(ctx context.Context, run core.FetchRun) (*core.FetchRun, error) {
	if run.ID == "" {
		run.ID = core.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	cursorInJSON, err := marshalJSON(run.CursorIn)
	if err != nil {
		return nil, fmt.Errorf("marshal cursor_in: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `INSERT INTO fetch_runs (id, source_id, started_at, status, cursor_in, cursor_out, counts)
		VALUES ($1, $2, $3, $4, $5, '{}', '{}')`, run.ID, run.SourceID, run.StartedAt, core.FetchRunOK, cursorInJSON)
	if err != nil {
		return nil, fmt.Errorf("create fetch run: %w", err)
	}
	return &run, nil
}

func (r *fetchRunRepo) Finalize(ctx context.Context, runID string, status core.FetchRunStatus, cursorOut map[string]any, counts map[string]int, errMsg *string) error {
	cursorOutJSON, err := marshalJSON(cursorOut)
	if err != nil {
		return fmt.Errorf("marshal cursor_out: %w", err)
	}
	countsMap := make(map[string]any, len(counts))
	for k, v := range counts {
		countsMap[k] = v
	}
	countsJSON, err := marshalJSON(countsMap)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `UPDATE fetch_runs SET ended_at = $1, status = $2, cursor_out = $3, counts = $4, error = $5
		WHERE id = $6`, time.Now().UTC(), status, cursorOutJSON, countsJSON, nullableString(errMsg), runID)
	if err != nil {
		return fmt.Errorf("finalize fetch run: %w", err)
	}
	return nil
}
