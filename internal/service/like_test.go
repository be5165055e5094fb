package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/optimistic"
	"github.com/sakif/flipbook/internal/testutil"
)

func newLikeFixture(t *testing.T) (*LikeService, *testutil.MemoryTables, string) {
	t.Helper()
	tables := testutil.NewMemoryTables()
	pub := &model.Publication{ID: "pub-a", UserID: "owner", Title: "A", PDFURL: "https://cdn.test/a.pdf"}
	require.NoError(t, tables.InsertPublication(context.Background(), pub))
	return NewLikeService(tables, testLogger), tables, pub.ID
}

func TestToggle_LikeThenUnlike(t *testing.T) {
	svc, _, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()

	liked, err := svc.Toggle(ctx, st, "u1", pubID)
	require.NoError(t, err)
	assert.Equal(t, model.LikeState{PublicationID: pubID, Count: 1, Liked: true, Status: string(optimistic.Confirmed)}, liked)

	n, err := svc.Count(ctx, pubID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unliked, err := svc.Toggle(ctx, st, "u1", pubID)
	require.NoError(t, err)
	assert.False(t, unliked.Liked)
	assert.Equal(t, 0, unliked.Count)

	has, err := svc.HasLiked(ctx, "u1", pubID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestToggle_RollsBackOnFailure(t *testing.T) {
	svc, tables, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()
	tables.FailInsertLike = errors.New("db down")

	state, err := svc.Toggle(ctx, st, "u1", pubID)

	require.Error(t, err)
	assert.False(t, state.Liked)
	assert.Equal(t, 0, state.Count)
	assert.Equal(t, string(optimistic.RolledBack), state.Status)

	stored, ok := st.Likes.Get("u1", pubID)
	require.True(t, ok)
	assert.Equal(t, state, stored)
}

func TestToggle_StaleSessionViewConverges(t *testing.T) {
	svc, tables, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()

	// The session thinks it has not liked yet, but another tab already did.
	st.Likes.Set("u1", model.LikeState{PublicationID: pubID})
	require.NoError(t, tables.InsertLike(ctx, &model.PublicationLike{PublicationID: pubID, UserID: "u1"}))

	state, err := svc.Toggle(ctx, st, "u1", pubID)
	require.NoError(t, err)
	assert.True(t, state.Liked)

	n, err := svc.Count(ctx, pubID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate like is not inserted twice")
}

func TestToggle_AfterAnonymousView(t *testing.T) {
	svc, tables, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, tables.InsertLike(ctx, &model.PublicationLike{PublicationID: pubID, UserID: "u1"}))

	// The page was rendered before u1 signed in on this browser.
	anon, err := svc.State(ctx, st, "", pubID)
	require.NoError(t, err)
	require.False(t, anon.Liked)

	state, err := svc.Toggle(ctx, st, "u1", pubID)
	require.NoError(t, err)
	assert.False(t, state.Liked, "u1 already liked it, so the click unlikes")
	assert.Equal(t, 0, state.Count)

	has, err := svc.HasLiked(ctx, "u1", pubID)
	require.NoError(t, err)
	assert.False(t, has)
	n, err := svc.Count(ctx, pubID)
	require.NoError(t, err)
	assert.Equal(t, n, state.Count)

	stillAnon, ok := st.Likes.Get("", pubID)
	require.True(t, ok)
	assert.Equal(t, anon, stillAnon)
}

func TestToggle_OtherUserInSameSession(t *testing.T) {
	svc, tables, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()

	liked, err := svc.Toggle(ctx, st, "u1", pubID)
	require.NoError(t, err)
	require.True(t, liked.Liked)

	// u1 signs out and u2 signs in on the same browser.
	state, err := svc.Toggle(ctx, st, "u2", pubID)
	require.NoError(t, err)
	assert.True(t, state.Liked)
	assert.Equal(t, 2, state.Count)

	n, err := svc.Count(ctx, pubID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	has, err := tables.LikedBy(ctx, "u2", pubID)
	require.NoError(t, err)
	assert.True(t, has[pubID])
}

func TestToggle_CountFollowsBackend(t *testing.T) {
	svc, tables, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()

	_, err := svc.State(ctx, st, "u1", pubID)
	require.NoError(t, err)
	// Someone else likes it after the view was cached.
	require.NoError(t, tables.InsertLike(ctx, &model.PublicationLike{PublicationID: pubID, UserID: "u9"}))

	state, err := svc.Toggle(ctx, st, "u1", pubID)
	require.NoError(t, err)
	assert.True(t, state.Liked)
	assert.Equal(t, 2, state.Count)
	assert.Equal(t, string(optimistic.Confirmed), state.Status)
}

func TestToggle_RequiresUser(t *testing.T) {
	svc, _, pubID := newLikeFixture(t)
	st, _ := newSession(t)

	_, err := svc.Toggle(context.Background(), st, "", pubID)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestToggle_UnknownPublication(t *testing.T) {
	svc, _, _ := newLikeFixture(t)
	st, _ := newSession(t)

	state, err := svc.Toggle(context.Background(), st, "u1", "missing")

	require.Error(t, err)
	assert.Equal(t, string(optimistic.RolledBack), state.Status)
}

func TestState(t *testing.T) {
	svc, tables, pubID := newLikeFixture(t)
	st, _ := newSession(t)
	ctx := context.Background()
	require.NoError(t, tables.InsertLike(ctx, &model.PublicationLike{PublicationID: pubID, UserID: "u2"}))

	anon, err := svc.State(ctx, nil, "", pubID)
	require.NoError(t, err)
	assert.Equal(t, 1, anon.Count)
	assert.False(t, anon.Liked)

	mine, err := svc.State(ctx, st, "u2", pubID)
	require.NoError(t, err)
	assert.True(t, mine.Liked)
	cached, ok := st.Likes.Get("u2", pubID)
	require.True(t, ok)
	assert.Equal(t, mine, cached)
}
