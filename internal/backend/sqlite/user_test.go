package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/model"
)

func createTestUser(t *testing.T, db *DB, email string, githubID int64) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "hash", GitHubID: githubID}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)
	u := &model.User{
		Email:        "ada@example.com",
		PasswordHash: "hash",
		Metadata:     map[string]any{"username": "ada"},
	}

	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.ID == "" {
		t.Error("CreateUser() did not set ID")
	}

	got, err := db.GetUserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.Metadata["username"] != "ada" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if got.GitHubID != 0 {
		t.Errorf("GitHubID = %d, want 0", got.GitHubID)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "ada@example.com", 0)

	err := db.CreateUser(context.Background(), &model.User{Email: "ADA@example.com"})

	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestGetUserByEmailAndGitHubID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := createTestUser(t, db, "gh@example.com", 4242)
	createTestUser(t, db, "plain@example.com", 0) // second NULL github_id is fine

	byEmail, err := db.GetUserByEmail(ctx, "GH@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if byEmail.ID != created.ID {
		t.Errorf("GetUserByEmail() ID = %s, want %s", byEmail.ID, created.ID)
	}

	byGitHub, err := db.GetUserByGitHubID(ctx, 4242)
	if err != nil {
		t.Fatalf("GetUserByGitHubID() error = %v", err)
	}
	if byGitHub.ID != created.ID {
		t.Errorf("GetUserByGitHubID() ID = %s, want %s", byGitHub.ID, created.ID)
	}

	if _, err := db.GetUserByGitHubID(ctx, 1); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown github id error = %v, want ErrNotFound", err)
	}
}

func TestUpdateUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "ada@example.com", 0)

	u.PasswordHash = "new-hash"
	u.GitHubID = 77
	if err := db.UpdateUser(ctx, u); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	got, err := db.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.PasswordHash != "new-hash" || got.GitHubID != 77 {
		t.Errorf("got %+v", got)
	}

	missing := &model.User{ID: "nope", Email: "x@example.com"}
	if err := db.UpdateUser(ctx, missing); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateUser() on missing user error = %v, want ErrNotFound", err)
	}
}
