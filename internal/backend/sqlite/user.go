package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/model"
)

const userColumns = `id, email, password_hash, github_id, metadata, created_at, updated_at`

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u        model.User
		githubID sql.NullInt64
		meta     string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &githubID, &meta,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.GitHubID = githubID.Int64
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding user metadata: %w", err)
	}
	return string(b), nil
}

func nullGitHubID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// CreateUser inserts a new auth account. A second account with the same
// email or GitHub id is a conflict.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := db.now()
	u.CreatedAt = now
	u.UpdatedAt = now

	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, nullGitHubID(u.GitHubID), meta, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("user", u.Email)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}
	return nil
}

func (db *DB) getUser(ctx context.Context, where string, arg any, label string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` = ?`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", label)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", label, err)
	}
	return u, nil
}

// GetUserByID returns apperror.ErrNotFound when no user has that id.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id, id)
}

// GetUserByEmail matches case-insensitively.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", email, email)
}

func (db *DB) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	return db.getUser(ctx, "github_id", githubID, fmt.Sprintf("github:%d", githubID))
}

// UpdateUser writes email, password hash, GitHub link and metadata.
func (db *DB) UpdateUser(ctx context.Context, u *model.User) error {
	meta, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}
	now := db.now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET email = ?, password_hash = ?, github_id = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		u.Email, u.PasswordHash, nullGitHubID(u.GitHubID), meta, now, u.ID,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("user", u.Email)
	}
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", u.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", u.ID)
	}
	u.UpdatedAt = now
	return nil
}
