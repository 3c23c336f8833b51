package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"

	"github.com/wudi/pdfpreflight/preflight"
)

// bunDecision is the preflight_decisions table row. Metrics are stored as
// the JSON the API serves, so a row round-trips without recomputation.
type bunDecision struct {
	bun.BaseModel `bun:"table:preflight_decisions,alias:pd"`

	ID          string    `bun:"id,pk"` // ULID as string
	DocHash     string    `bun:"doc_hash,notnull"`
	Page        int       `bun:"page,notnull"`
	BudgetBytes int64     `bun:"budget_bytes,notnull"`
	Decision    string    `bun:"decision,notnull"`
	Reason      string    `bun:"reason,notnull"`
	Metrics     string    `bun:"metrics,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (bd *bunDecision) toRecord() (*Record, error) {
	parsedULID, err := ulid.Parse(bd.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record id %q: %w", bd.ID, err)
	}

	var metrics preflight.Metrics
	if err := json.Unmarshal([]byte(bd.Metrics), &metrics); err != nil {
		return nil, fmt.Errorf("decode metrics for %s: %w", bd.ID, err)
	}

	return &Record{
		ID: parsedULID,
		Key: Key{
			DocHash:     bd.DocHash,
			Page:        bd.Page,
			BudgetBytes: bd.BudgetBytes,
		},
		Decision: preflight.Decision{
			Decision: preflight.Verdict(bd.Decision),
			Reason:   bd.Reason,
			Metrics:  metrics,
		},
		CreatedAt: bd.CreatedAt,
		UpdatedAt: bd.UpdatedAt,
	}, nil
}
