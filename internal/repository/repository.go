package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jack/shortlink-resolver/internal/model"
)

var (
	ErrLinkNotFound     = errors.New("link not found")
	ErrCodeConflict     = errors.New("short code already taken")
	ErrUseLimitExceeded = errors.New("link use limit reached")
	ErrLinkInactive     = errors.New("link is deactivated")
	ErrConflict         = errors.New("update conflicts with current link state")
)

// LinkStore persists links. Implementations must make CreateLink and
// IncrementUse single atomic storage operations.
type LinkStore interface {
	// CreateLink inserts link, failing with ErrCodeConflict if the code is
	// taken, including by a soft-deleted link.
	CreateLink(ctx context.Context, link *model.Link) error
	// GetLink returns the link by code. Soft-deleted links are returned
	// with DeletedAt set; callers decide how to treat them.
	GetLink(ctx context.Context, code string) (*model.Link, error)
	UpdateLink(ctx context.Context, code string, patch model.LinkPatch) (*model.Link, error)
	// IncrementUse consumes one use slot, failing with ErrUseLimitExceeded
	// once use_count has reached max_uses and with ErrLinkInactive when the
	// link is deactivated.
	IncrementUse(ctx context.Context, code string) (*model.Link, error)
	DeleteLink(ctx context.Context, code string) error
	ListLinks(ctx context.Context, filter model.LinkFilter) ([]model.Link, error)
	Health(ctx context.Context) error
}

// EventStore is the append-only click event log.
type EventStore interface {
	// InsertClickEvents appends events, silently skipping event IDs that
	// were already stored.
	InsertClickEvents(ctx context.Context, events []model.ClickEvent) error
	// ListClickEvents returns events for code with timestamps in [from, to).
	ListClickEvents(ctx context.Context, code string, from, to time.Time) ([]model.ClickEvent, error)
	// ListRecentClicks pages through events for code, newest first.
	ListRecentClicks(ctx context.Context, code string, limit, offset int) ([]model.ClickEvent, error)
	// DeleteClickEventsBefore removes events older than cutoff and returns
	// how many were removed when the backend can tell.
	DeleteClickEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Health(ctx context.Context) error
}
