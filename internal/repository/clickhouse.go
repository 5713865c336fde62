package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
)

// ClickHouseRepository is the analytics-scale click event log. The table is
// a ReplacingMergeTree keyed by event_id, so reads use FINAL to collapse
// redelivered events.
type ClickHouseRepository struct {
	db *sqlx.DB
}

func NewClickHouseRepository(cfg *config.ClickHouseConfig) (*ClickHouseRepository, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.DBName,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &ClickHouseRepository{db: sqlx.NewDb(conn, "clickhouse")}, nil
}

func (r *ClickHouseRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying handle for migrations.
func (r *ClickHouseRepository) DB() *sqlx.DB {
	return r.db
}

func (r *ClickHouseRepository) InsertClickEvents(ctx context.Context, events []model.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin click batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO click_events (`+eventColumns+`)`)
	if err != nil {
		return fmt.Errorf("failed to prepare click batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.EventID,
			e.LinkCode,
			e.Timestamp.UTC(),
			e.VisitorFingerprint,
			e.Referrer,
			e.UserAgent,
			e.Country,
			e.Region,
			e.City,
			e.Device,
			e.Browser,
			e.OS,
			e.Bot,
		); err != nil {
			return fmt.Errorf("failed to append click event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to send click batch: %w", err)
	}

	return nil
}

func (r *ClickHouseRepository) ListClickEvents(ctx context.Context, code string, from, to time.Time) ([]model.ClickEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM click_events FINAL
		WHERE link_code = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at
	`

	events := []model.ClickEvent{}
	if err := r.db.SelectContext(ctx, &events, query, code, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to query click events: %w", err)
	}

	return normalizeEvents(events), nil
}

func (r *ClickHouseRepository) ListRecentClicks(ctx context.Context, code string, limit, offset int) ([]model.ClickEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM click_events FINAL
		WHERE link_code = ?
		ORDER BY occurred_at DESC
		LIMIT ? OFFSET ?
	`

	events := []model.ClickEvent{}
	if err := r.db.SelectContext(ctx, &events, query, code, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to query recent clicks: %w", err)
	}

	return normalizeEvents(events), nil
}

// DeleteClickEventsBefore schedules a ClickHouse mutation. Mutations run
// asynchronously, so the removed count is not known and is reported as 0.
func (r *ClickHouseRepository) DeleteClickEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := r.db.ExecContext(ctx, `ALTER TABLE click_events DELETE WHERE occurred_at < ?`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("failed to prune click events: %w", err)
	}

	return 0, nil
}

func (r *ClickHouseRepository) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func normalizeEvents(events []model.ClickEvent) []model.ClickEvent {
	for i := range events {
		events[i].Timestamp = events[i].Timestamp.UTC()
	}
	return events
}
