package clientstate

import (
	"sync"

	"github.com/sakif/flipbook/internal/model"
)

type likeKey struct {
	viewer      string
	publication string
}

// Likes is the session's view of like buttons it has rendered or toggled,
// kept per viewer. The empty viewer id is the anonymous view.
type Likes struct {
	mu     sync.Mutex
	states map[likeKey]model.LikeState
}

func newLikes() *Likes {
	return &Likes{states: make(map[likeKey]model.LikeState)}
}

// Get returns the state viewerID last saw for a publication.
func (l *Likes) Get(viewerID, publicationID string) (model.LikeState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[likeKey{viewerID, publicationID}]
	return s, ok
}

// Set stores s for viewerID, keyed by its publication id.
func (l *Likes) Set(viewerID string, s model.LikeState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[likeKey{viewerID, s.PublicationID}] = s
}

// Forget drops every viewer's state for a publication, e.g. after it was
// deleted.
func (l *Likes) Forget(publicationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.states {
		if k.publication == publicationID {
			delete(l.states, k)
		}
	}
}

// Reset drops everything. Called when the signed-in user changes.
func (l *Likes) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.states)
}
