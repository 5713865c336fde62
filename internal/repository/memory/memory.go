// Package memory holds process-local LinkStore and EventStore
// implementations used in development mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
)

type Store struct {
	mu     sync.Mutex
	links  map[string]*model.Link
	events []model.ClickEvent
	seen   map[string]struct{}
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		links: make(map[string]*model.Link),
		seen:  make(map[string]struct{}),
		now:   time.Now,
	}
}

func (s *Store) CreateLink(ctx context.Context, link *model.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[link.Code]; ok {
		return repository.ErrCodeConflict
	}

	now := s.now().UTC()
	link.CreatedAt = now
	link.UpdatedAt = now
	stored := cloneLink(link)
	s.links[link.Code] = stored
	return nil
}

func (s *Store) GetLink(ctx context.Context, code string) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[code]
	if !ok {
		return nil, repository.ErrLinkNotFound
	}
	return cloneLink(link), nil
}

func (s *Store) UpdateLink(ctx context.Context, code string, patch model.LinkPatch) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[code]
	if !ok || link.IsDeleted() {
		return nil, repository.ErrLinkNotFound
	}

	updated := patch.Apply(*cloneLink(link))
	if updated.MaxUses != nil && updated.UseCount > *updated.MaxUses {
		return nil, repository.ErrConflict
	}
	updated.UpdatedAt = s.now().UTC()
	s.links[code] = &updated
	return cloneLink(&updated), nil
}

func (s *Store) IncrementUse(ctx context.Context, code string) (*model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[code]
	if !ok || link.IsDeleted() {
		return nil, repository.ErrLinkNotFound
	}
	if !link.Active {
		return nil, repository.ErrLinkInactive
	}
	if link.IsExhausted() {
		return nil, repository.ErrUseLimitExceeded
	}

	now := s.now().UTC()
	link.UseCount++
	link.LastUsedAt = &now
	link.UpdatedAt = now
	return cloneLink(link), nil
}

func (s *Store) DeleteLink(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[code]
	if !ok || link.IsDeleted() {
		return repository.ErrLinkNotFound
	}
	now := s.now().UTC()
	link.DeletedAt = &now
	link.UpdatedAt = now
	return nil
}

func (s *Store) ListLinks(ctx context.Context, filter model.LinkFilter) ([]model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Link
	for _, link := range s.links {
		if link.IsDeleted() {
			continue
		}
		if filter.Owner != "" && link.Owner != filter.Owner {
			continue
		}
		out = append(out, *cloneLink(link))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) InsertClickEvents(ctx context.Context, events []model.ClickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, dup := s.seen[e.EventID]; dup {
			continue
		}
		s.seen[e.EventID] = struct{}{}
		s.events = append(s.events, e)
	}
	return nil
}

func (s *Store) ListClickEvents(ctx context.Context, code string, from, to time.Time) ([]model.ClickEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := model.Window{From: from, To: to}
	var out []model.ClickEvent
	for _, e := range s.events {
		if e.LinkCode == code && window.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) ListRecentClicks(ctx context.Context, code string, limit, offset int) ([]model.ClickEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ClickEvent
	for _, e := range s.events {
		if e.LinkCode == code {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, limit, offset), nil
}

func (s *Store) DeleteClickEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var removed int64
	for _, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.seen, e.EventID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return removed, nil
}

func (s *Store) Health(ctx context.Context) error {
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneLink(l *model.Link) *model.Link {
	c := *l
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	if l.MaxUses != nil {
		n := *l.MaxUses
		c.MaxUses = &n
	}
	if l.LastUsedAt != nil {
		t := *l.LastUsedAt
		c.LastUsedAt = &t
	}
	if l.DeletedAt != nil {
		t := *l.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
