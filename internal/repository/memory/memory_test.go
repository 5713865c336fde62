package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jack/shortlink-resolver/internal/model"
	"github.com/jack/shortlink-resolver/internal/repository"
)

func int64Ptr(n int64) *int64 { return &n }

func TestCreateLinkConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))
	err := s.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://b.example", Active: true})
	assert.ErrorIs(t, err, repository.ErrCodeConflict)

	require.NoError(t, s.DeleteLink(ctx, "abc"))
	err = s.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://c.example", Active: true})
	assert.ErrorIs(t, err, repository.ErrCodeConflict, "deleted codes stay reserved")
}

func TestGetLinkReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateLink(ctx, &model.Link{Code: "abc", TargetURL: "https://a.example", Active: true}))

	link, err := s.GetLink(ctx, "abc")
	require.NoError(t, err)
	link.TargetURL = "mutated"

	again, err := s.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", again.TargetURL)

	_, err = s.GetLink(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestIncrementUseIsBounded(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateLink(ctx, &model.Link{Code: "lim", TargetURL: "https://a.example", Active: true, MaxUses: int64Ptr(3)}))

	var ok, exhausted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUse(ctx, "lim")
			switch err {
			case nil:
				ok.Add(1)
			case repository.ErrUseLimitExceeded:
				exhausted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), ok.Load())
	assert.Equal(t, int64(47), exhausted.Load())

	link, err := s.GetLink(ctx, "lim")
	require.NoError(t, err)
	assert.Equal(t, int64(3), link.UseCount)
	assert.NotNil(t, link.LastUsedAt)
}

func TestIncrementUseRejectsInactive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateLink(ctx, &model.Link{Code: "off", TargetURL: "https://a.example", Active: false}))

	_, err := s.IncrementUse(ctx, "off")
	assert.ErrorIs(t, err, repository.ErrLinkInactive)

	link, err := s.GetLink(ctx, "off")
	require.NoError(t, err)
	assert.Zero(t, link.UseCount)
}

func TestUpdateLink(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateLink(ctx, &model.Link{Code: "upd", TargetURL: "https://a.example", Active: true, MaxUses: int64Ptr(5)}))
	for i := 0; i < 3; i++ {
		_, err := s.IncrementUse(ctx, "upd")
		require.NoError(t, err)
	}

	_, err := s.UpdateLink(ctx, "upd", model.LinkPatch{MaxUses: int64Ptr(2)})
	assert.ErrorIs(t, err, repository.ErrConflict)

	target := "https://b.example"
	updated, err := s.UpdateLink(ctx, "upd", model.LinkPatch{TargetURL: &target, ClearMaxUses: true})
	require.NoError(t, err)
	assert.Equal(t, target, updated.TargetURL)
	assert.Nil(t, updated.MaxUses)

	_, err = s.UpdateLink(ctx, "nope", model.LinkPatch{TargetURL: &target})
	assert.ErrorIs(t, err, repository.ErrLinkNotFound)
}

func TestListLinksByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, code := range []string{"a1", "a2", "a3"} {
		require.NoError(t, s.CreateLink(ctx, &model.Link{Code: code, Owner: "alice", Active: true}))
	}
	require.NoError(t, s.CreateLink(ctx, &model.Link{Code: "b1", Owner: "bob", Active: true}))
	require.NoError(t, s.DeleteLink(ctx, "a2"))

	links, err := s.ListLinks(ctx, model.LinkFilter{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "a3", links[0].Code)
	assert.Equal(t, "a1", links[1].Code)

	links, err = s.ListLinks(ctx, model.LinkFilter{Owner: "alice", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "a1", links[0].Code)
}

func TestClickEvents(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []model.ClickEvent{
		{EventID: "e1", LinkCode: "abc", Timestamp: t0},
		{EventID: "e2", LinkCode: "abc", Timestamp: t0.Add(time.Hour)},
		{EventID: "e3", LinkCode: "abc", Timestamp: t0.Add(48 * time.Hour)},
		{EventID: "e4", LinkCode: "xyz", Timestamp: t0},
	}
	require.NoError(t, s.InsertClickEvents(ctx, events))
	require.NoError(t, s.InsertClickEvents(ctx, events[:1]))

	got, err := s.ListClickEvents(ctx, "abc", t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].EventID)

	recent, err := s.ListRecentClicks(ctx, "abc", 2, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e3", recent[0].EventID)

	removed, err := s.DeleteClickEventsBefore(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err = s.ListClickEvents(ctx, "abc", t0.Add(-time.Hour), t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
