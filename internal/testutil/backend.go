package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/model"
)

// MemoryTables is an in-memory backend.Tables and backend.UserStore.
//
// Set a Fail* field to make the matching method return that error.
type MemoryTables struct {
	mu           sync.Mutex
	profiles     map[string]model.Profile
	publications map[string]model.Publication
	likes        map[string]map[string]time.Time // publication -> user -> created
	users        map[string]model.User
	nextID       int

	FailInsertPublication error
	FailUpdatePublication error
	FailDeletePublication error
	FailInsertLike        error
	FailDeleteLike        error
	FailUpsertProfile     error
	// GhostDeletes makes DeletePublication report success without removing
	// the row, which is what a silently ignored delete looks like.
	GhostDeletes bool
}

var (
	_ backend.Tables    = (*MemoryTables)(nil)
	_ backend.UserStore = (*MemoryTables)(nil)
)

func NewMemoryTables() *MemoryTables {
	return &MemoryTables{
		profiles:     make(map[string]model.Profile),
		publications: make(map[string]model.Publication),
		likes:        make(map[string]map[string]time.Time),
		users:        make(map[string]model.User),
	}
}

func (m *MemoryTables) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

// --- profiles ---

func (m *MemoryTables) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, apperror.NotFound("profile", id)
	}
	return &p, nil
}

func (m *MemoryTables) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Username != "" && strings.EqualFold(p.Username, username) {
			return &p, nil
		}
	}
	return nil, apperror.NotFound("profile", username)
}

func (m *MemoryTables) GetProfiles(ctx context.Context, ids ...string) ([]model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Profile
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryTables) UpsertProfile(ctx context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsertProfile != nil {
		return m.FailUpsertProfile
	}
	if p.Username != "" {
		for id, other := range m.profiles {
			if id != p.ID && strings.EqualFold(other.Username, p.Username) {
				return apperror.Conflict("username", p.Username)
			}
		}
	}
	m.profiles[p.ID] = *p
	return nil
}

func (m *MemoryTables) UsernameTaken(ctx context.Context, username, exceptID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.profiles {
		if id != exceptID && p.Username != "" && strings.EqualFold(p.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

// --- publications ---

func (m *MemoryTables) InsertPublication(ctx context.Context, p *model.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsertPublication != nil {
		return m.FailInsertPublication
	}
	if p.ID == "" {
		p.ID = m.id("pub")
	}
	if p.CreatedAt.IsZero() {
		// Strictly increasing so newest-first ordering is deterministic.
		m.nextID++
		p.CreatedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(m.nextID) * time.Minute)
	}
	m.publications[p.ID] = *p
	return nil
}

func (m *MemoryTables) GetPublication(ctx context.Context, id string) (*model.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.publications[id]
	if !ok {
		return nil, apperror.NotFound("publication", id)
	}
	return &p, nil
}

func (m *MemoryTables) ListPublications(ctx context.Context, q backend.PublicationQuery) ([]model.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Publication
	search := strings.ToLower(strings.TrimSpace(q.Search))
	for _, p := range m.publications {
		if q.UserID != "" && p.UserID != q.UserID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryTables) UpdatePublication(ctx context.Context, p *model.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdatePublication != nil {
		return m.FailUpdatePublication
	}
	cur, ok := m.publications[p.ID]
	if !ok {
		return apperror.NotFound("publication", p.ID)
	}
	now := cur.CreatedAt.Add(time.Hour)
	cur.Title, cur.Description, cur.ThumbURL, cur.UpdatedAt = p.Title, p.Description, p.ThumbURL, &now
	m.publications[p.ID] = cur
	p.UpdatedAt = &now
	return nil
}

func (m *MemoryTables) DeletePublication(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeletePublication != nil {
		return m.FailDeletePublication
	}
	if _, ok := m.publications[id]; !ok {
		return apperror.NotFound("publication", id)
	}
	if len(m.likes[id]) > 0 {
		return apperror.Conflict("publication likes", id)
	}
	if !m.GhostDeletes {
		delete(m.publications, id)
	}
	return nil
}

// --- likes ---

func (m *MemoryTables) InsertLike(ctx context.Context, like *model.PublicationLike) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsertLike != nil {
		return m.FailInsertLike
	}
	if _, ok := m.publications[like.PublicationID]; !ok {
		return apperror.NotFound("publication", like.PublicationID)
	}
	users := m.likes[like.PublicationID]
	if users == nil {
		users = make(map[string]time.Time)
		m.likes[like.PublicationID] = users
	}
	if _, ok := users[like.UserID]; ok {
		return apperror.Conflict("like", like.PublicationID)
	}
	users[like.UserID] = like.CreatedAt
	return nil
}

func (m *MemoryTables) DeleteLike(ctx context.Context, publicationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDeleteLike != nil {
		return m.FailDeleteLike
	}
	if _, ok := m.likes[publicationID][userID]; !ok {
		return apperror.NotFound("like", publicationID)
	}
	delete(m.likes[publicationID], userID)
	return nil
}

func (m *MemoryTables) DeleteLikesForPublication(ctx context.Context, publicationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.likes, publicationID)
	return nil
}

func (m *MemoryTables) CountLikes(ctx context.Context, publicationIDs ...string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(publicationIDs))
	for _, id := range publicationIDs {
		out[id] = len(m.likes[id])
	}
	return out, nil
}

func (m *MemoryTables) LikedBy(ctx context.Context, userID string, publicationIDs ...string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(publicationIDs))
	for _, id := range publicationIDs {
		if _, ok := m.likes[id][userID]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// --- users ---

func (m *MemoryTables) CreateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if strings.EqualFold(other.Email, u.Email) || (u.GitHubID != 0 && other.GitHubID == u.GitHubID) {
			return apperror.Conflict("user", u.Email)
		}
	}
	if u.ID == "" {
		u.ID = m.id("user")
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryTables) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

func (m *MemoryTables) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (m *MemoryTables) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.GitHubID != 0 && u.GitHubID == githubID {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
}

func (m *MemoryTables) UpdateUser(ctx context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return apperror.NotFound("user", u.ID)
	}
	m.users[u.ID] = *u
	return nil
}

// MemoryStorage is an in-memory backend.Storage with public URLs under
// https://cdn.test/<bucket>/<path>.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailUpload error
	FailRemove error
}

var _ backend.Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (s *MemoryStorage) Upload(ctx context.Context, bucket, path string, r io.Reader, size int64, contentType string) error {
	if s.FailUpload != nil {
		return s.FailUpload
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[bucket+"/"+path] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) PublicURL(bucket, path string) string {
	return "https://cdn.test/" + bucket + "/" + path
}

func (s *MemoryStorage) PathFromURL(bucket, url string) (string, bool) {
	prefix := "https://cdn.test/" + bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

func (s *MemoryStorage) Remove(ctx context.Context, bucket string, paths ...string) error {
	if s.FailRemove != nil {
		return s.FailRemove
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.objects, bucket+"/"+p)
	}
	return nil
}

// Object returns the stored bytes at bucket/path.
func (s *MemoryStorage) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+path]
	return b, ok
}

// Len returns the number of stored objects.
func (s *MemoryStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
