package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/model"
)

const profileColumns = `id, username, avatar_url, bio, location, email`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (model.Profile, error) {
	var (
		p        model.Profile
		username sql.NullString
		avatar   sql.NullString
		bio      sql.NullString
		location sql.NullString
	)
	if err := row.Scan(&p.ID, &username, &avatar, &bio, &location, &p.Email); err != nil {
		return model.Profile{}, err
	}
	p.Username = username.String
	p.AvatarURL = stringPtr(avatar)
	p.Bio = stringPtr(bio)
	p.Location = stringPtr(location)
	return model.ParseProfileRow(p)
}

// GetProfile returns the profile whose id equals the auth user id.
func (db *DB) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", id, err)
	}
	return &p, nil
}

// GetProfileByUsername matches case-insensitively.
func (db *DB) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", username)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting profile by username %s: %w", username, err)
	}
	return &p, nil
}

// GetProfiles returns the profiles that exist among ids, in no particular order.
func (db *DB) GetProfiles(ctx context.Context, ids ...string) ([]model.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]model.Profile, 0, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating profiles: %w", err)
	}
	return profiles, nil
}

// UpsertProfile writes every column. An empty username is stored as NULL so
// any number of accounts may still be without one.
func (db *DB) UpsertProfile(ctx context.Context, p *model.Profile) error {
	username := sql.NullString{String: p.Username, Valid: p.Username != ""}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (id, username, avatar_url, bio, location, email, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   avatar_url = excluded.avatar_url,
		   bio = excluded.bio,
		   location = excluded.location,
		   email = excluded.email,
		   updated_at = excluded.updated_at`,
		p.ID, username, nullString(p.AvatarURL), nullString(p.Bio),
		nullString(p.Location), p.Email, db.now(),
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("username", p.Username)
	}
	if err != nil {
		return fmt.Errorf("sqlite: upserting profile %s: %w", p.ID, err)
	}
	return nil
}

// UsernameTaken reports whether a profile other than exceptID holds username.
func (db *DB) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE username = ? AND id != ?`,
		username, exceptID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username %s: %w", username, err)
	}
	return n > 0, nil
}
