// Package postgres implements the storage.Gateway interface on top of
// PostgreSQL with the pgvector extension, the production backend.
// Nearest-neighbor queries use the <=> cosine-distance operator instead
// of the brute-force Go search the sqlite gateway falls back to.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/lamosty/aharadar-go/internal/logger"
	"github.com/lamosty/aharadar-go/internal/storage"
)

// Gateway is the Postgres-backed storage.Gateway.
type Gateway struct {
	db *sql.DB
	q  querier
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config bounds the connection pool, mirroring the teacher's
// NewPostgresDB pool settings.
type Config struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// Open opens a pooled connection, verifies it, and runs pending
// migrations.
func Open(ctx context.Context, cfg Config) (*Gateway, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	gw := &Gateway{db: db, q: db}
	if err := newMigrator(gw).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gw, nil
}

func (g *Gateway) Close() error { return g.db.Close() }

func (g *Gateway) Ping(ctx context.Context) error { return g.db.PingContext(ctx) }

func (g *Gateway) WithTx(ctx context.Context, fn func(tx storage.Gateway) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txGateway := &Gateway{db: g.db, q: tx}
	if err := fn(txGateway); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("rollback failed", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
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
