// Package clientstate owns the coordination state of every browser session:
// navigation tracker, loading registry, publication cache, PDF handoff,
// like view and durable local store.
//
// The Manager creates a State the first time a session id is seen and tears
// it down after a period of inactivity.
package clientstate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/flipbook/internal/clock"
	"github.com/sakif/flipbook/internal/fetch"
	"github.com/sakif/flipbook/internal/handoff"
	"github.com/sakif/flipbook/internal/library"
	"github.com/sakif/flipbook/internal/loading"
	"github.com/sakif/flipbook/internal/localstore"
	"github.com/sakif/flipbook/internal/navigation"
)

const (
	// DefaultIdleTimeout is how long an untouched session is kept in memory.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultRetention is how long a session's durable store outlives its
	// last write.
	DefaultRetention = 7 * 24 * time.Hour
)

// ErrInvalidSessionID is returned for ids that were not minted by NewSessionID.
var ErrInvalidSessionID = errors.New("clientstate: invalid session id")

// NewSessionID mints a session id.
func NewSessionID() string {
	return xid.New().String()
}

// ValidSessionID reports whether id has the shape NewSessionID produces.
func ValidSessionID(id string) bool {
	_, err := xid.FromString(id)
	return err == nil
}

// State is everything the server remembers about one browser session.
type State struct {
	ID           string
	Navigation   *navigation.Tracker
	Loading      *loading.Registry
	Publications *library.Cache
	Handoff      *handoff.Handoff
	Local        localstore.Store
	Likes        *Likes

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *State) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *State) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *State) teardown() {
	s.Publications.Cancel()
	s.Loading.Close()
	s.Navigation.ForceClear()
}

// Options configures a Manager. Zero values pick defaults.
type Options struct {
	// DataDir holds one localstore directory per session. Empty keeps
	// session data in memory only.
	DataDir string
	// Retention bounds how long an evicted session's directory is kept
	// after its last write.
	Retention       time.Duration
	IdleTimeout     time.Duration
	Navigation      navigation.Options
	PublicationsTTL time.Duration
	Clock           clock.Clock
	Logger          *slog.Logger
}

// Manager maps session ids to State. Safe for concurrent use.
type Manager struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*State
}

// NewManager creates a Manager. Call Run to start evicting idle sessions.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.PublicationsTTL <= 0 {
		opts.PublicationsTTL = fetch.DefaultCacheDuration
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:     opts,
		clock:    clock.OrReal(opts.Clock),
		logger:   logger,
		sessions: make(map[string]*State),
	}
}

// Get returns the State for id, creating it on first use.
func (m *Manager) Get(id string) (*State, error) {
	if !ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.touch(m.clock.Now())
		return s, nil
	}

	s, err := m.newState(id)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	m.logger.Debug("session created", slog.String("session", id))
	return s, nil
}

func (m *Manager) newState(id string) (*State, error) {
	var local localstore.Store
	if m.opts.DataDir != "" {
		fs, err := localstore.NewFileStore(filepath.Join(m.opts.DataDir, id), m.clock)
		if err != nil {
			return nil, fmt.Errorf("clientstate: session store: %w", err)
		}
		local = fs
	} else {
		local = localstore.NewMemoryStore(m.clock)
	}

	tracker := navigation.New(m.opts.Navigation)
	registry := loading.NewRegistry(tracker)

	s := &State{
		ID:         id,
		Navigation: tracker,
		Loading:    registry,
		Publications: library.New(m.clock, m.opts.PublicationsTTL,
			fetch.WithTracker(tracker), fetch.WithLoading(registry)),
		Handoff: handoff.New(local),
		Local:   local,
		Likes:   newLikes(),
	}
	s.touch(m.clock.Now())
	return s, nil
}

// Remove tears down the session. Its durable local store is left on disk
// until PruneDataDir finds it expired.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.teardown()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle removes sessions untouched for longer than the idle timeout and
// returns how many were removed.
func (m *Manager) EvictIdle() int {
	cutoff := m.clock.Now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var stale []*State
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.teardown()
	}
	if len(stale) > 0 {
		m.logger.Info("evicted idle sessions", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// PruneDataDir walks DataDir and prunes the stores of sessions that are not
// live: expired and stale entries go, and so does a directory left empty.
// It returns how many session directories were removed.
func (m *Manager) PruneDataDir() (int, error) {
	if m.opts.DataDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(m.opts.DataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("clientstate: listing sessions: %w", err)
	}

	staleBefore := m.clock.Now().Add(-m.opts.Retention)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !ValidSessionID(e.Name()) {
			continue
		}
		gone, err := m.pruneSession(e.Name(), staleBefore)
		if err != nil {
			m.logger.Warn("pruning session store",
				slog.String("session", e.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if gone {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("pruned session stores", slog.Int("count", removed))
	}
	return removed, nil
}

// pruneSession holds the manager lock so the session cannot come back to
// life while its directory is being removed.
func (m *Manager) pruneSession(id string, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, live := m.sessions[id]; live {
		return false, nil
	}
	store, err := localstore.NewFileStore(filepath.Join(m.opts.DataDir, id), m.clock)
	if err != nil {
		return false, err
	}
	return store.Prune(staleBefore)
}

// Run evicts idle sessions and prunes their stores periodically until ctx is
// done, then tears down every remaining session.
func (m *Manager) Run(ctx context.Context) {
	interval := m.opts.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sweep()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.EvictIdle()
	if _, err := m.PruneDataDir(); err != nil {
		m.logger.Warn("pruning session stores", slog.String("error", err.Error()))
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*State)
	m.mu.Unlock()

	for _, s := range all {
		s.teardown()
	}
}
