package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

type RateHistoryRepository struct {
	db *sql.DB
}

func NewRateHistoryRepository(db *sql.DB) *RateHistoryRepository {
	return &RateHistoryRepository{db: db}
}

func (r *RateHistoryRepository) Record(ctx context.Context, e *domain.RateHistoryEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_history (id, from_currency, to_currency, rate, source, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.From, e.To, e.Rate, e.Source, e.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

// ListRecent returns the latest resolutions for a pair, newest first.
func (r *RateHistoryRepository) ListRecent(ctx context.Context, from, to domain.Currency, limit int) ([]domain.RateHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_currency, to_currency, rate, source, resolved_at
		FROM rate_history
		WHERE from_currency = $1 AND to_currency = $2
		ORDER BY resolved_at DESC
		LIMIT $3`,
		from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: %w", err)
	}
	defer rows.Close()

	var entries []domain.RateHistoryEntry
	for rows.Next() {
		var e domain.RateHistoryEntry
		if err := rows.Scan(&e.ID, &e.From, &e.To, &e.Rate, &e.Source, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("ListRecent: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecent: rows: %w", err)
	}
	return entries, nil
}
