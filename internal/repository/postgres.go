package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
)

const pgUniqueViolation = "23505"

const linkColumns = `code, target_url, owner, created_at, updated_at, expires_at,
	max_uses, use_count, last_used_at, password_hash, active, deleted_at`

const eventColumns = `event_id, link_code, occurred_at, visitor_fingerprint, referrer,
	user_agent, country, region, city, device, browser, os, bot`

// PostgresRepository stores links and, unless ClickHouse is configured,
// the click event log.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(cfg *config.PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Pool exposes the connection pool for migrations.
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*model.Link, error) {
	var l model.Link
	err := row.Scan(
		&l.Code,
		&l.TargetURL,
		&l.Owner,
		&l.CreatedAt,
		&l.UpdatedAt,
		&l.ExpiresAt,
		&l.MaxUses,
		&l.UseCount,
		&l.LastUsedAt,
		&l.PasswordHash,
		&l.Active,
		&l.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLink inserts a link. The primary key on code is the uniqueness check.
func (r *PostgresRepository) CreateLink(ctx context.Context, link *model.Link) error {
	query := `
		INSERT INTO links (code, target_url, owner, expires_at, max_uses, password_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		link.Code,
		link.TargetURL,
		link.Owner,
		link.ExpiresAt,
		link.MaxUses,
		link.PasswordHash,
		link.Active,
	).Scan(&link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrCodeConflict
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetLink(ctx context.Context, code string) (*model.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE code = $1`

	link, err := scanLink(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

// UpdateLink applies patch under a row lock so the use limit check sees the
// current use_count.
func (r *PostgresRepository) UpdateLink(ctx context.Context, code string, patch model.LinkPatch) (*model.Link, error) {
	var updated *model.Link

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + linkColumns + ` FROM links WHERE code = $1 AND deleted_at IS NULL FOR UPDATE`
		current, err := scanLink(tx.QueryRow(ctx, query, code))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrLinkNotFound
			}
			return fmt.Errorf("failed to lock link: %w", err)
		}

		next := patch.Apply(*current)
		if next.MaxUses != nil && next.UseCount > *next.MaxUses {
			return ErrConflict
		}

		update := `
			UPDATE links
			SET target_url = $2, expires_at = $3, max_uses = $4, password_hash = $5, active = $6, updated_at = now()
			WHERE code = $1
			RETURNING ` + linkColumns
		updated, err = scanLink(tx.QueryRow(ctx, update,
			code,
			next.TargetURL,
			next.ExpiresAt,
			next.MaxUses,
			next.PasswordHash,
			next.Active,
		))
		if err != nil {
			return fmt.Errorf("failed to update link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// IncrementUse consumes one use slot with a single conditional UPDATE. When
// no row matches, a follow-up read tells a missing, deactivated or exhausted
// link apart.
func (r *PostgresRepository) IncrementUse(ctx context.Context, code string) (*model.Link, error) {
	query := `
		UPDATE links
		SET use_count = use_count + 1, last_used_at = now(), updated_at = now()
		WHERE code = $1
		  AND deleted_at IS NULL
		  AND active
		  AND (max_uses IS NULL OR use_count < max_uses)
		RETURNING ` + linkColumns

	link, err := scanLink(r.pool.QueryRow(ctx, query, code))
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to increment use count: %w", err)
	}

	current, err := r.GetLink(ctx, code)
	if err != nil {
		return nil, err
	}
	switch {
	case current.IsDeleted():
		return nil, ErrLinkNotFound
	case !current.Active:
		return nil, ErrLinkInactive
	}
	return nil, ErrUseLimitExceeded
}

func (r *PostgresRepository) DeleteLink(ctx context.Context, code string) error {
	query := `UPDATE links SET deleted_at = now(), updated_at = now() WHERE code = $1 AND deleted_at IS NULL`

	result, err := r.pool.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

func (r *PostgresRepository) ListLinks(ctx context.Context, filter model.LinkFilter) ([]model.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE deleted_at IS NULL AND ($1 = '' OR owner = $1)
		ORDER BY created_at DESC, code
		LIMIT $2 OFFSET $3
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, query, filter.Owner, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := []model.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	return links, nil
}

// InsertClickEvents writes events in one batch round trip; repeated event
// IDs are ignored so redelivered batches are harmless.
func (r *PostgresRepository) InsertClickEvents(ctx context.Context, events []model.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO click_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.EventID,
			e.LinkCode,
			e.Timestamp,
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
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert click events: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListClickEvents(ctx context.Context, code string, from, to time.Time) ([]model.ClickEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM click_events
		WHERE link_code = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at
	`

	return r.queryEvents(ctx, query, code, from, to)
}

func (r *PostgresRepository) ListRecentClicks(ctx context.Context, code string, limit, offset int) ([]model.ClickEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM click_events
		WHERE link_code = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`

	return r.queryEvents(ctx, query, code, limit, offset)
}

func (r *PostgresRepository) queryEvents(ctx context.Context, query string, args ...any) ([]model.ClickEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query click events: %w", err)
	}
	defer rows.Close()

	events := []model.ClickEvent{}
	for rows.Next() {
		var e model.ClickEvent
		if err := rows.Scan(
			&e.EventID,
			&e.LinkCode,
			&e.Timestamp,
			&e.VisitorFingerprint,
			&e.Referrer,
			&e.UserAgent,
			&e.Country,
			&e.Region,
			&e.City,
			&e.Device,
			&e.Browser,
			&e.OS,
			&e.Bot,
		); err != nil {
			return nil, fmt.Errorf("failed to scan click event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query click events: %w", err)
	}

	return events, nil
}

func (r *PostgresRepository) DeleteClickEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM click_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune click events: %w", err)
	}

	return result.RowsAffected(), nil
}

// Health checks the database connection
func (r *PostgresRepository) Health(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
