package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/testutil"
)

func pub(id, title string) model.Publication {
	return model.Publication{
		ID:        id,
		UserID:    "user-1",
		Title:     title,
		PDFURL:    "/files/publications/pdfs/user-1/" + id + ".pdf",
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func staticLoader(calls *int, pubs ...model.Publication) Loader {
	return func(ctx context.Context, userID string) ([]model.Publication, error) {
		*calls++
		return pubs, nil
	}
}

// assertCoherent checks that what the user sees is exactly the cache entry.
func assertCoherent(t *testing.T, c *Cache, userID string, wantIDs ...string) {
	t.Helper()
	visible, ok := c.Visible(userID)
	require.True(t, ok)
	cached, _, ok := c.store.Peek(userID)
	require.True(t, ok)
	assert.Equal(t, cached, visible)

	ids := make([]string, 0, len(visible))
	for _, p := range visible {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, wantIDs, ids)
}

func TestList_UsesTTL(t *testing.T) {
	clk := testutil.FixedClock()
	c := New(clk, 5*time.Minute)
	calls := 0

	_, err := c.List(context.Background(), "user-1", false, staticLoader(&calls, pub("p1", "One")))
	require.NoError(t, err)

	clk.Advance(4*time.Minute + 59*time.Second)
	res, err := c.List(context.Background(), "user-1", false, staticLoader(&calls))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1, calls)

	clk.Advance(time.Second)
	_, err = c.List(context.Background(), "user-1", false, staticLoader(&calls))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestList_ForceRefresh(t *testing.T) {
	c := New(testutil.FixedClock(), time.Hour)
	calls := 0

	_, err := c.List(context.Background(), "user-1", false, staticLoader(&calls, pub("p1", "One")))
	require.NoError(t, err)
	res, err := c.List(context.Background(), "user-1", true, staticLoader(&calls, pub("p2", "Two")))
	require.NoError(t, err)

	assert.False(t, res.FromCache)
	assert.Equal(t, 2, calls)
	assertCoherent(t, c, "user-1", "p2")
}

func TestMutations_KeepVisibleAndCacheCoherent(t *testing.T) {
	c := New(testutil.FixedClock(), time.Hour)
	calls := 0
	_, err := c.List(context.Background(), "user-1", false,
		staticLoader(&calls, pub("p1", "One"), pub("p2", "Two")))
	require.NoError(t, err)

	require.True(t, c.Add("user-1", pub("p3", "Three")))
	assertCoherent(t, c, "user-1", "p3", "p1", "p2")

	edited := pub("p1", "One (revised)")
	require.True(t, c.Update("user-1", edited))
	assertCoherent(t, c, "user-1", "p3", "p1", "p2")
	visible, _ := c.Visible("user-1")
	assert.Equal(t, "One (revised)", visible[1].Title)

	require.True(t, c.Delete("user-1", "p2"))
	assertCoherent(t, c, "user-1", "p3", "p1")

	// None of that should have counted as a fetch.
	assert.Equal(t, 1, calls)
}

func TestMutations_NoEntryIsNoop(t *testing.T) {
	c := New(testutil.FixedClock(), time.Hour)

	assert.False(t, c.Add("ghost", pub("p1", "One")))
	assert.False(t, c.Update("ghost", pub("p1", "One")))
	assert.False(t, c.Delete("ghost", "p1"))

	_, ok := c.Visible("ghost")
	assert.False(t, ok)
}

func TestAdd_DoesNotDuplicate(t *testing.T) {
	c := New(testutil.FixedClock(), time.Hour)
	calls := 0
	_, err := c.List(context.Background(), "user-1", false, staticLoader(&calls, pub("p1", "One")))
	require.NoError(t, err)

	c.Add("user-1", pub("p1", "One again"))

	assertCoherent(t, c, "user-1", "p1")
}

func TestRestore_RollsBackWithoutRefreshingAge(t *testing.T) {
	clk := testutil.FixedClock()
	c := New(clk, 5*time.Minute)
	calls := 0
	_, err := c.List(context.Background(), "user-1", false, staticLoader(&calls, pub("p1", "One"), pub("p2", "Two")))
	require.NoError(t, err)

	before, _ := c.Visible("user-1")
	c.Delete("user-1", "p1")
	clk.Advance(4 * time.Minute)
	c.Restore("user-1", before)
	assertCoherent(t, c, "user-1", "p1", "p2")

	clk.Advance(time.Minute)
	_, err = c.List(context.Background(), "user-1", false, staticLoader(&calls, pub("p1", "One")))
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "restore must not extend freshness")
}

func TestVisible_ReturnsCopy(t *testing.T) {
	c := New(testutil.FixedClock(), time.Hour)
	calls := 0
	_, err := c.List(context.Background(), "user-1", false, staticLoader(&calls, pub("p1", "One")))
	require.NoError(t, err)

	v, _ := c.Visible("user-1")
	v[0].Title = "tampered"

	again, _ := c.Visible("user-1")
	assert.Equal(t, "One", again[0].Title)
}
