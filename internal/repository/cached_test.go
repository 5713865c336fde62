package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
	"github.com/jack/shortlink-resolver/internal/repository/memory"
	"github.com/jack/shortlink-resolver/internal/resolver"
)

// hookedStore counts calls into the backing store and can pause a reader
// right after it loaded a link.
type hookedStore struct {
	repository.LinkStore
	gets       atomic.Int64
	increments atomic.Int64
	afterGet   func()
}

func (h *hookedStore) GetLink(ctx context.Context, code string) (*model.Link, error) {
	link, err := h.LinkStore.GetLink(ctx, code)
	h.gets.Add(1)
	if h.afterGet != nil {
		h.afterGet()
	}
	return link, err
}

func (h *hookedStore) IncrementUse(ctx context.Context, code string) (*model.Link, error) {
	h.increments.Add(1)
	return h.LinkStore.IncrementUse(ctx, code)
}

func newRedisCache(t *testing.T) (*repository.RedisRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return repository.NewRedisRepositoryFromClient(client, time.Hour), mr
}

func setupCached(t *testing.T) (*repository.CachedLinkStore, *memory.Store, *miniredis.Miniredis) {
	t.Helper()

	store := memory.NewStore()
	cache, mr := newRedisCache(t)
	return repository.NewCachedLinkStore(store, cache, zap.NewNop()), store, mr
}

func TestCachedLinkStoreReadThrough(t *testing.T) {
	ctx := context.Background()
	cached, store, mr := setupCached(t)

	require.NoError(t, cached.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))
	assert.False(t, mr.Exists("link:abc"), "create does not populate the cache")

	link, err := cached.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", link.TargetURL)
	assert.True(t, mr.Exists("link:abc"))

	// Bypass the decorator: the cached copy keeps serving.
	target := "https://b.example"
	_, err = store.UpdateLink(ctx, "abc", model.LinkPatch{TargetURL: &target})
	require.NoError(t, err)

	link, err = cached.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", link.TargetURL)

	_, err = cached.GetLink(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestCachedLinkStoreMutations(t *testing.T) {
	ctx := context.Background()
	cached, _, mr := setupCached(t)

	require.NoError(t, cached.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))

	_, err := cached.GetLink(ctx, "abc")
	require.NoError(t, err)

	_, err = cached.IncrementUse(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, mr.Exists("link:abc"), "a use refreshes the entry")

	link, err := cached.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), link.UseCount)

	inactive := false
	_, err = cached.UpdateLink(ctx, "abc", model.LinkPatch{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, mr.Exists("link:abc"))

	link, err = cached.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, link.Active)

	_, err = cached.IncrementUse(ctx, "abc")
	assert.ErrorIs(t, err, repository.ErrLinkInactive)
	assert.False(t, mr.Exists("link:abc"))

	require.NoError(t, cached.DeleteLink(ctx, "abc"))
	assert.False(t, mr.Exists("link:abc"))

	link, err = cached.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, link.IsDeleted())
}

func TestCachedLinkStoreServesHotLinkFromCache(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	require.NoError(t, backing.CreateLink(ctx, &model.Link{Code: "hot", TargetURL: "https://a.example", Active: true}))

	hooked := &hookedStore{LinkStore: backing}
	cache, _ := newRedisCache(t)
	cached := repository.NewCachedLinkStore(hooked, cache, zap.NewNop())
	res := resolver.New(cached, nil, zap.NewNop())

	for i := 0; i < 5; i++ {
		outcome, err := res.Resolve(ctx, "hot", "", model.RequestContext{})
		require.NoError(t, err)
		require.Equal(t, model.StatusResolved, outcome.Status)
	}

	assert.Equal(t, int64(1), hooked.gets.Load(), "only the first resolution reads storage")
	assert.Equal(t, int64(5), hooked.increments.Load())

	link, err := cached.GetLink(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(5), link.UseCount)
	assert.Equal(t, int64(1), hooked.gets.Load())
}

func TestCachedLinkStoreDropsFillRacingInvalidation(t *testing.T) {
	ctx := context.Background()
	backing := memory.NewStore()
	require.NoError(t, backing.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))

	loaded := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	hooked := &hookedStore{LinkStore: backing}
	hooked.afterGet = func() {
		once.Do(func() {
			close(loaded)
			<-release
		})
	}
	cache, mr := newRedisCache(t)
	cached := repository.NewCachedLinkStore(hooked, cache, zap.NewNop())

	done := make(chan *model.Link, 1)
	go func() {
		link, err := cached.GetLink(ctx, "abc")
		assert.NoError(t, err)
		done <- link
	}()

	// The reader holds the active row; deactivate before it fills the cache.
	<-loaded
	inactive := false
	_, err := cached.UpdateLink(ctx, "abc", model.LinkPatch{Active: &inactive})
	require.NoError(t, err)
	close(release)

	stale := <-done
	require.NotNil(t, stale)
	assert.True(t, stale.Active)
	assert.False(t, mr.Exists("link:abc"), "the stale fill must be dropped")

	outcome, err := resolver.New(cached, nil, zap.NewNop()).Resolve(ctx, "abc", "", model.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, outcome.Status)
}

func TestCachedLinkStoreStorageOverridesStaleEntry(t *testing.T) {
	ctx := context.Background()
	cached, store, mr := setupCached(t)

	require.NoError(t, cached.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))
	_, err := cached.GetLink(ctx, "abc")
	require.NoError(t, err)

	// Deactivate behind the decorator's back: the cache still says active.
	inactive := false
	_, err = store.UpdateLink(ctx, "abc", model.LinkPatch{Active: &inactive})
	require.NoError(t, err)

	outcome, err := resolver.New(cached, nil, zap.NewNop()).Resolve(ctx, "abc", "", model.RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, outcome.Status)
	assert.False(t, mr.Exists("link:abc"))

	link, err := store.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Zero(t, link.UseCount)
}

func TestRedisRepositoryVersionFence(t *testing.T) {
	ctx := context.Background()
	cache, mr := newRedisCache(t)
	link := &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}

	version, err := cache.LinkVersion(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, version)

	require.NoError(t, cache.InvalidateLink(ctx, "abc"))
	assert.Equal(t, 24*time.Hour, mr.TTL("linkver:abc"))

	written, err := cache.SetLink(ctx, link, version)
	require.NoError(t, err)
	assert.False(t, written)
	assert.False(t, mr.Exists("link:abc"))

	version, err = cache.LinkVersion(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	written, err = cache.SetLink(ctx, link, version)
	require.NoError(t, err)
	assert.True(t, written)
	assert.True(t, mr.Exists("link:abc"))
}

func TestCachedLinkStoreCapsTTLAtExpiry(t *testing.T) {
	ctx := context.Background()
	cached, _, mr := setupCached(t)

	soon := time.Now().Add(10 * time.Minute)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, cached.CreateLink(ctx, &model.Link{Code: "soon", TargetURL: "https://a.example", Active: true, ExpiresAt: &soon}))
	require.NoError(t, cached.CreateLink(ctx, &model.Link{Code: "past", TargetURL: "https://a.example", Active: true, ExpiresAt: &past}))

	_, err := cached.GetLink(ctx, "soon")
	require.NoError(t, err)
	ttl := mr.TTL("link:soon")
	assert.True(t, ttl > 0 && ttl <= 10*time.Minute, "ttl %v", ttl)

	_, err = cached.GetLink(ctx, "past")
	require.NoError(t, err)
	assert.False(t, mr.Exists("link:past"))
}

func TestCachedLinkStoreSurvivesCacheOutage(t *testing.T) {
	ctx := context.Background()
	cached, _, mr := setupCached(t)

	require.NoError(t, cached.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))
	mr.Close()

	link, err := cached.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", link.TargetURL)

	_, err = cached.IncrementUse(ctx, "abc")
	require.NoError(t, err)
}
