package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// CrawlStateStore implements pipeline.CrawlStateStore over
// vehicle_channel_details.
type CrawlStateStore struct {
	pool dbPool
}

// NewCrawlStateStore constructs a CrawlStateStore over an existing pool.
func NewCrawlStateStore(pool dbPool) *CrawlStateStore {
	return &CrawlStateStore{pool: pool}
}

const bindingColumns = `
	vehicle_channel_id, vehicle_id_fk, channel_id_fk, identifier_on_channel,
	name_on_channel, url_on_channel, temp_brand_name, temp_series_name,
	temp_model_year, last_comment_crawled_at`

// dueBindingsSQL orders never-crawled bindings first (NULLS FIRST), then the
// stalest timestamps.
const dueBindingsSQL = `
SELECT` + bindingColumns + `
FROM vehicle_channel_details
ORDER BY last_comment_crawled_at ASC NULLS FIRST, vehicle_channel_id ASC
LIMIT $1`

// DueBindings returns up to limit bindings most overdue for a crawl.
func (s *CrawlStateStore) DueBindings(ctx context.Context, limit int) ([]pipeline.VehicleChannelBinding, error) {
	rows, err := s.pool.Query(ctx, dueBindingsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select due bindings: %w", err)
	}
	defer rows.Close()

	var bindings []pipeline.VehicleChannelBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bindings: %w", err)
	}
	return bindings, nil
}

// recordCrawlSuccessSQL is a monotonic max: the timestamp only moves
// forward, which tolerates out-of-order completions from concurrent crawl
// workers.
const recordCrawlSuccessSQL = `
UPDATE vehicle_channel_details SET last_comment_crawled_at = $1
WHERE vehicle_channel_id = $2
	AND (last_comment_crawled_at IS NULL OR last_comment_crawled_at < $1)`

// RecordCrawlSuccess advances the binding's crawl timestamp if at is newer.
// An absorbed stale update is success, not an error; only a missing binding
// is reported.
func (s *CrawlStateStore) RecordCrawlSuccess(ctx context.Context, bindingID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, recordCrawlSuccessSQL, at, bindingID)
	if err != nil {
		return fmt.Errorf("record crawl success for binding %d: %w", bindingID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the binding is gone or a newer timestamp is already
		// stored; distinguish the two for diagnostics.
		if _, err := s.GetBinding(ctx, bindingID); err != nil {
			return err
		}
	}
	return nil
}

const getBindingSQL = `
SELECT` + bindingColumns + `
FROM vehicle_channel_details WHERE vehicle_channel_id = $1`

// GetBinding fetches one binding by id.
func (s *CrawlStateStore) GetBinding(ctx context.Context, bindingID int64) (pipeline.VehicleChannelBinding, error) {
	b, err := scanBinding(s.pool.QueryRow(ctx, getBindingSQL, bindingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.VehicleChannelBinding{}, fmt.Errorf("binding %d: %w", bindingID, pipeline.ErrNotFound)
		}
		return pipeline.VehicleChannelBinding{}, fmt.Errorf("get binding %d: %w", bindingID, err)
	}
	return b, nil
}

func scanBinding(row pgx.Row) (pipeline.VehicleChannelBinding, error) {
	var (
		b         pipeline.VehicleChannelBinding
		pageURL   *string
		brand     *string
		series    *string
		modelYear *string
	)
	err := row.Scan(
		&b.ID, &b.VehicleID, &b.ChannelID, &b.ExternalID,
		&b.DisplayName, &pageURL, &brand, &series,
		&modelYear, &b.LastCommentCrawledAt,
	)
	if err != nil {
		return pipeline.VehicleChannelBinding{}, err
	}
	if pageURL != nil {
		b.PageURL = *pageURL
	}
	if brand != nil {
		b.TempBrand = *brand
	}
	if series != nil {
		b.TempSeries = *series
	}
	if modelYear != nil {
		b.TempModelYear = *modelYear
	}
	return b, nil
}
