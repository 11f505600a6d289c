// Package sqlite implements the storage.Gateway interface on top of
// modernc.org/sqlite, a pure-Go driver (chosen over the teacher's
// indirect mattn/go-sqlite3 so the dev/test gateway builds without cgo).
// It is the gateway used by tests and local/dev runs; nearest-neighbor
// vector search is done in Go with internal/vectormath since sqlite has
// no native vector index — acceptable at dev/test scale, per DESIGN.md.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lamosty/aharadar-go/internal/core"
	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/storage"
	"github.com/lamosty/aharadar-go/internal/vectormath"
)

//go:embed schema.sql
var schemaSQL string

// Gateway is the sqlite-backed storage.Gateway.
type Gateway struct {
	db  *sql.DB
	q   querier
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting repositories
// run unmodified inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if necessary) a sqlite database at path and
// applies the embedded schema.
func Open(ctx context.Context, path string) (*Gateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite tolerates a single writer well; avoid SQLITE_BUSY

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Gateway{db: db, q: db}, nil
}

func (g *Gateway) Close() error { return g.db.Close() }

func (g *Gateway) Ping(ctx context.Context) error { return g.db.PingContext(ctx) }

func (g *Gateway) WithTx(ctx context.Context, fn func(tx storage.Gateway) error) error {
	sqlTx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txGateway := &Gateway{db: g.db, q: sqlTx}
	if err := fn(txGateway); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			logger.Error("rollback failed", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (g *Gateway) Users() storage.UserRepo                           { return &userRepo{q: g.q} }
func (g *Gateway) Topics() storage.TopicRepo                         { return &topicRepo{q: g.q} }
func (g *Gateway) Sources() storage.SourceRepo                       { return &sourceRepo{q: g.q} }
func (g *Gateway) ContentItems() storage.ContentItemRepo             { return &contentItemRepo{q: g.q} }
func (g *Gateway) ContentItemSources() storage.ContentItemSourceRepo { return &contentItemSourceRepo{q: g.q} }
func (g *Gateway) Embeddings() storage.EmbeddingRepo                 { return &embeddingRepo{q: g.q} }
func (g *Gateway) Clusters() storage.ClusterRepo                     { return &clusterRepo{q: g.q} }
func (g *Gateway) ClusterItems() storage.ClusterItemRepo             { return &clusterItemRepo{q: g.q} }
func (g *Gateway) Preferences() storage.PreferenceRepo               { return &preferenceRepo{q: g.q} }
func (g *Gateway) Feedback() storage.FeedbackRepo                    { return &feedbackRepo{q: g.q} }
func (g *Gateway) Digests() storage.DigestRepo                       { return &digestRepo{q: g.q} }
func (g *Gateway) ProviderCalls() storage.ProviderCallRepo           { return &providerCallRepo{q: g.q} }
func (g *Gateway) BudgetResets() storage.BudgetResetRepo             { return &budgetResetRepo{q: g.q} }
func (g *Gateway) FetchRuns() storage.FetchRunRepo                   { return &fetchRunRepo{q: g.q} }

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

func unmarshalJSON(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func marshalVector(v []float64) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalVector(s string) []float64 {
	if s == "" {
		return nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
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

func cosineRank(vec []float64, candidates map[string][]float64) (string, float64, bool) {
	var bestID string
	var bestSim float64
	found := false
	for id, v := range candidates {
		sim := vectormath.CosineSimilarity(vec, v)
		if !found || sim > bestSim {
			bestID, bestSim, found = id, sim, true
		}
	}
	return bestID, bestSim, found
}
