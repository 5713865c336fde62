package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/model"
)

// CachedLinkStore puts a Redis read-through cache in front of a LinkStore.
// Cache failures are logged and never surface to callers.
//
// Updates and deletes invalidate the entry. A successful IncrementUse
// refreshes it with the row storage returned, so hot links keep hitting the
// cache. Cache fills are fenced by the link's version: a fill prepared before
// an invalidation is dropped. The cached use_count may trail concurrent
// increments; use limits and deactivation are enforced by the store.
type CachedLinkStore struct {
	store  LinkStore
	cache  *RedisRepository
	logger *zap.Logger
}

func NewCachedLinkStore(store LinkStore, cache *RedisRepository, logger *zap.Logger) *CachedLinkStore {
	return &CachedLinkStore{store: store, cache: cache, logger: logger}
}

func (s *CachedLinkStore) CreateLink(ctx context.Context, link *model.Link) error {
	return s.store.CreateLink(ctx, link)
}

func (s *CachedLinkStore) GetLink(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.cache.GetLink(ctx, code)
	if err != nil {
		s.logger.Warn("cache get link failed", zap.String("code", code), zap.Error(err))
		return s.store.GetLink(ctx, code)
	}
	if link != nil {
		return link, nil
	}

	version, verErr := s.cache.LinkVersion(ctx, code)
	link, err = s.store.GetLink(ctx, code)
	if err != nil {
		return nil, err
	}

	if verErr != nil {
		s.logger.Warn("cache get link version failed", zap.String("code", code), zap.Error(verErr))
	} else {
		s.fill(ctx, link, version)
	}

	return link, nil
}

func (s *CachedLinkStore) UpdateLink(ctx context.Context, code string, patch model.LinkPatch) (*model.Link, error) {
	link, err := s.store.UpdateLink(ctx, code, patch)
	s.invalidate(ctx, code)
	return link, err
}

func (s *CachedLinkStore) IncrementUse(ctx context.Context, code string) (*model.Link, error) {
	version, verErr := s.cache.LinkVersion(ctx, code)
	link, err := s.store.IncrementUse(ctx, code)
	if err != nil {
		// The caller acted on a cached copy that storage disagrees with.
		if errors.Is(err, ErrLinkNotFound) || errors.Is(err, ErrLinkInactive) || errors.Is(err, ErrUseLimitExceeded) {
			s.invalidate(ctx, code)
		}
		return nil, err
	}

	if verErr != nil {
		s.logger.Warn("cache get link version failed", zap.String("code", code), zap.Error(verErr))
	} else {
		s.fill(ctx, link, version)
	}

	return link, nil
}

func (s *CachedLinkStore) DeleteLink(ctx context.Context, code string) error {
	err := s.store.DeleteLink(ctx, code)
	s.invalidate(ctx, code)
	return err
}

func (s *CachedLinkStore) ListLinks(ctx context.Context, filter model.LinkFilter) ([]model.Link, error) {
	return s.store.ListLinks(ctx, filter)
}

func (s *CachedLinkStore) Health(ctx context.Context) error {
	return s.store.Health(ctx)
}

func (s *CachedLinkStore) fill(ctx context.Context, link *model.Link, version string) {
	written, err := s.cache.SetLink(ctx, link, version)
	if err != nil {
		s.logger.Warn("cache set link failed", zap.String("code", link.Code), zap.Error(err))
		return
	}
	if !written {
		s.logger.Debug("cache fill skipped", zap.String("code", link.Code))
	}
}

func (s *CachedLinkStore) invalidate(ctx context.Context, code string) {
	if err := s.cache.InvalidateLink(ctx, code); err != nil {
		s.logger.Warn("cache invalidate link failed", zap.String("code", code), zap.Error(err))
	}
}
