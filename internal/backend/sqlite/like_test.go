package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/model"
)

func TestInsertLike_Twice(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := createTestPublication(t, db, "u1", "zine", base)

	like := &model.PublicationLike{PublicationID: p.ID, UserID: "u2"}
	if err := db.InsertLike(ctx, like); err != nil {
		t.Fatalf("InsertLike() error = %v", err)
	}
	err := db.InsertLike(ctx, &model.PublicationLike{PublicationID: p.ID, UserID: "u2"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second InsertLike() error = %v, want ErrConflict", err)
	}
}

func TestInsertLike_MissingPublication(t *testing.T) {
	db := newTestDB(t)

	err := db.InsertLike(context.Background(), &model.PublicationLike{PublicationID: "nope", UserID: "u2"})

	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCountAndLikedBy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestPublication(t, db, "u1", "a", base)
	b := createTestPublication(t, db, "u1", "b", base)

	for _, uid := range []string{"u2", "u3"} {
		if err := db.InsertLike(ctx, &model.PublicationLike{PublicationID: a.ID, UserID: uid}); err != nil {
			t.Fatalf("InsertLike() error = %v", err)
		}
	}

	counts, err := db.CountLikes(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("CountLikes() error = %v", err)
	}
	if counts[a.ID] != 2 || counts[b.ID] != 0 {
		t.Errorf("counts = %v", counts)
	}
	if _, ok := counts[b.ID]; !ok {
		t.Error("CountLikes() omitted a publication with no likes")
	}

	liked, err := db.LikedBy(ctx, "u2", a.ID, b.ID)
	if err != nil {
		t.Fatalf("LikedBy() error = %v", err)
	}
	if !liked[a.ID] || liked[b.ID] {
		t.Errorf("liked = %v", liked)
	}
}

func TestDeleteLike(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := createTestPublication(t, db, "u1", "a", base)
	if err := db.InsertLike(ctx, &model.PublicationLike{PublicationID: p.ID, UserID: "u2"}); err != nil {
		t.Fatalf("InsertLike() error = %v", err)
	}

	if err := db.DeleteLike(ctx, p.ID, "u2"); err != nil {
		t.Fatalf("DeleteLike() error = %v", err)
	}
	if err := db.DeleteLike(ctx, p.ID, "u2"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second DeleteLike() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteLikesForPublication(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	p := createTestPublication(t, db, "u1", "a", base)
	for _, uid := range []string{"u2", "u3"} {
		if err := db.InsertLike(ctx, &model.PublicationLike{PublicationID: p.ID, UserID: uid}); err != nil {
			t.Fatalf("InsertLike() error = %v", err)
		}
	}

	if err := db.DeleteLikesForPublication(ctx, p.ID); err != nil {
		t.Fatalf("DeleteLikesForPublication() error = %v", err)
	}
	if err := db.DeletePublication(ctx, p.ID); err != nil {
		t.Errorf("DeletePublication() after clearing likes error = %v", err)
	}
}
