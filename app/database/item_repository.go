package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/trustfetch/app/ingest"
	"github.com/lysyi3m/trustfetch/app/item"
)

// ItemRepository handles database operations for merged items and run stats
type ItemRepository struct {
	db  *DB
	now func() time.Time
}

// NewItemRepository creates a new item repository
func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db, now: time.Now}
}

// GetItems returns up to limit stored items, newest first. They come back as
// curated items so a later merge lets them win over fresh duplicates.
func (r *ItemRepository) GetItems(ctx context.Context, limit int) ([]item.NormalizedItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, summary, source_url, source_name, tags, published_at
		FROM items
		ORDER BY published_at DESC, position ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []item.NormalizedItem
	for rows.Next() {
		var it item.NormalizedItem
		var tags, publishedAt string
		if err := rows.Scan(&it.ID, &it.Title, &it.Summary, &it.SourceURL, &it.SourceName, &tags, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %s: %w", it.SourceURL, err)
		}
		if it.PublishedAt, err = parseTime(publishedAt); err != nil {
			return nil, err
		}
		it.Origin = item.OriginCurated
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	return items, nil
}

// GetItemCount returns the number of stored items
func (r *ItemRepository) GetItemCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// SaveRun stores new items and records the run stats in one transaction.
// A stored item keeps its fields; only its position in the latest run
// changes.
func (r *ItemRepository) SaveRun(ctx context.Context, items []item.NormalizedItem, stats ingest.Stats) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (
			source_url, id, title, summary, source_name, tags, origin,
			published_at, position, first_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_url) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := formatTime(r.now())
	for i, it := range items {
		tags, err := json.Marshal(it.Tags)
		if err != nil {
			return fmt.Errorf("failed to encode tags for %s: %w", it.SourceURL, err)
		}
		if _, err := stmt.ExecContext(ctx,
			it.SourceURL, it.ID, it.Title, it.Summary, it.SourceName, string(tags), string(it.Origin),
			formatTime(it.PublishedAt), i, now, now,
		); err != nil {
			return fmt.Errorf("failed to store item %s: %w", it.SourceURL, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_runs (started_at, finished_at, total, rss, community, sources, curated, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, formatTime(stats.StartedAt), formatTime(stats.FinishedAt),
		stats.Total, stats.RSS, stats.Community, stats.Sources, stats.Curated, stats.Duplicates); err != nil {
		return fmt.Errorf("failed to store ingest run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ingest run: %w", err)
	}

	return nil
}

// GetLatestRun returns the most recent run stats, or nil when no run has
// been recorded.
func (r *ItemRepository) GetLatestRun(ctx context.Context) (*ingest.Stats, error) {
	var stats ingest.Stats
	var startedAt, finishedAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, total, rss, community, sources, curated, duplicates
		FROM ingest_runs
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&startedAt, &finishedAt, &stats.Total, &stats.RSS, &stats.Community, &stats.Sources, &stats.Curated, &stats.Duplicates)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	if stats.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if stats.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}

	return &stats, nil
}
