// Package store persists preflight decisions in SQLite keyed by document
// hash, page number and budget, so repeated requests for the same document
// skip the estimator entirely.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"golang.org/x/crypto/blake2b"

	"github.com/wudi/pdfpreflight/preflight"
)

// Key identifies one cached decision. BudgetBytes is the budget as the
// caller requested it, before normalization, so cache lookups made ahead of
// the estimator hit the same row the estimator filled.
type Key struct {
	DocHash     string `json:"docHash"`
	Page        int    `json:"page"`
	BudgetBytes int64  `json:"budgetBytes"`
}

// Record is a stored decision.
type Record struct {
	ID        ulid.ULID          `json:"id"`
	Key       Key                `json:"key"`
	Decision  preflight.Decision `json:"decision"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type Store struct {
	db  *bun.DB
	log *slog.Logger
}

// Open opens (creating if needed) the decision database at path. An empty
// path means an in-memory database that lives as long as the Store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if path == "" {
		path = ":memory:"
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc", path)
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	// Option to turn on verbose logging, just returns failures otherwise
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(false)))

	s := &Store{db: db, log: logger}
	if err := s.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.Info("decision store ready", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts the decision for key, replacing any previous decision for
// the same key. The stored record keeps the id and creation time of the
// first write.
func (s *Store) Save(ctx context.Context, key Key, d preflight.Decision) (*Record, error) {
	now := time.Now()
	id, err := NewID(now)
	if err != nil {
		return nil, err
	}
	metrics, err := json.Marshal(d.Metrics)
	if err != nil {
		return nil, fmt.Errorf("encode metrics: %w", err)
	}

	row := &bunDecision{
		ID:          id.String(),
		DocHash:     key.DocHash,
		Page:        key.Page,
		BudgetBytes: key.BudgetBytes,
		Decision:    string(d.Decision),
		Reason:      d.Reason,
		Metrics:     string(metrics),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (doc_hash, page, budget_bytes) DO UPDATE").
		Set("decision = EXCLUDED.decision").
		Set("reason = EXCLUDED.reason").
		Set("metrics = EXCLUDED.metrics").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return s.Lookup(ctx, key)
}

// Lookup returns the stored decision for key, or nil when none exists.
func (s *Store) Lookup(ctx context.Context, key Key) (*Record, error) {
	row := new(bunDecision)
	err := s.db.NewSelect().
		Model(row).
		Where("doc_hash = ?", key.DocHash).
		Where("page = ?", key.Page).
		Where("budget_bytes = ?", key.BudgetBytes).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord()
}

// Get retrieves a record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := new(bunDecision)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord()
}

// Recent returns stored decisions newest first.
func (s *Store) Recent(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []bunDecision
	err := s.db.NewSelect().
		Model(&rows).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Count reports how many decisions are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*bunDecision)(nil)).Count(ctx)
}

// DeleteOlderThan removes decisions not touched within the given duration
// and reports how many rows went away.
func (s *Store) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.NewDelete().
		Model((*bunDecision)(nil)).
		Where("updated_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// HashDocument derives the cache key hash for a document's raw bytes.
func HashDocument(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewID mints a ULID for the given time.
func NewID(t time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.New(ulid.Timestamp(t), entropy)
}
