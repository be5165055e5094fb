// Package library caches a user's own publication list for one session and
// patches it in place when the user adds, edits or deletes a publication.
//
// The visible list and the cache entry are the same value, so a mutation can
// never update one without the other.
package library

import (
	"context"
	"slices"
	"time"

	"github.com/sakif/flipbook/internal/clock"
	"github.com/sakif/flipbook/internal/fetch"
	"github.com/sakif/flipbook/internal/model"
)

// Loader lists a user's publications from the backend.
type Loader func(ctx context.Context, userID string) ([]model.Publication, error)

// Cache is the per-session publication list cache.
type Cache struct {
	store *fetch.Cache[[]model.Publication]
	coord *fetch.Coordinator[[]model.Publication]
	ttl   time.Duration
}

// New creates a Cache whose entries stay fresh for ttl.
func New(clk clock.Clock, ttl time.Duration, opts ...fetch.Option) *Cache {
	if ttl <= 0 {
		ttl = fetch.DefaultCacheDuration
	}
	store := fetch.NewCache[[]model.Publication](clk)
	opts = append([]fetch.Option{fetch.WithCacheDuration(ttl)}, opts...)
	return &Cache{
		store: store,
		coord: fetch.NewCoordinator("publications", store, opts...),
		ttl:   ttl,
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// List returns the user's publications, from cache when fresh unless force is set.
func (c *Cache) List(ctx context.Context, userID string, force bool, load Loader) (fetch.Result[[]model.Publication], error) {
	return c.coord.Fetch(ctx, userID, func(ctx context.Context) ([]model.Publication, error) {
		return load(ctx, userID)
	}, fetch.Options{
		ForceRefresh:  force,
		CacheDuration: c.ttl,
		Message:       "Loading publications",
	})
}

// Visible returns a copy of the cached list for userID regardless of age.
func (c *Cache) Visible(userID string) ([]model.Publication, bool) {
	pubs, _, ok := c.store.Peek(userID)
	if !ok {
		return nil, false
	}
	return slices.Clone(pubs), true
}

// Add prepends pub. Nothing happens when the list was never loaded.
func (c *Cache) Add(userID string, pub model.Publication) bool {
	return c.store.Patch(userID, func(pubs []model.Publication) []model.Publication {
		out := make([]model.Publication, 0, len(pubs)+1)
		out = append(out, pub)
		for _, p := range pubs {
			if p.ID != pub.ID {
				out = append(out, p)
			}
		}
		return out
	})
}

// Update replaces the publication with the same id.
func (c *Cache) Update(userID string, pub model.Publication) bool {
	return c.store.Patch(userID, func(pubs []model.Publication) []model.Publication {
		out := slices.Clone(pubs)
		for i := range out {
			if out[i].ID == pub.ID {
				out[i] = pub
			}
		}
		return out
	})
}

// Delete removes the publication with id pubID.
func (c *Cache) Delete(userID, pubID string) bool {
	return c.store.Patch(userID, func(pubs []model.Publication) []model.Publication {
		return slices.DeleteFunc(slices.Clone(pubs), func(p model.Publication) bool {
			return p.ID == pubID
		})
	})
}

// Restore puts a previously captured list back, keeping the entry's age.
// Used to roll back a failed optimistic change.
func (c *Cache) Restore(userID string, pubs []model.Publication) {
	snap := slices.Clone(pubs)
	c.store.Patch(userID, func([]model.Publication) []model.Publication { return snap })
}

// Invalidate drops the cached list so the next List goes to the backend.
func (c *Cache) Invalidate(userID string) {
	c.store.Invalidate(userID)
}

// Cancel aborts any in-flight list fetch.
func (c *Cache) Cancel() {
	c.coord.Cancel()
}
