package sync

import (
	gosync "sync"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/store"
)

// Bounds is a latitude/longitude bounding box for marker queries.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// Contains reports whether the coordinate falls inside the box.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// MarkerSet holds the map posts currently visible as markers. Posts from
// the messages and groups tables share the set, keyed by (type, id).
type MarkerSet struct {
	mu    gosync.Mutex
	posts map[string]store.Post
	order []string // arrival order
}

// NewMarkerSet creates an empty marker set.
func NewMarkerSet() *MarkerSet {
	return &MarkerSet{posts: make(map[string]store.Post)}
}

func markerKey(t store.ParentType, id string) string {
	return string(t) + "/" + id
}

// Replace swaps in a bulk-loaded post list.
func (s *MarkerSet) Replace(posts []store.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = make(map[string]store.Post, len(posts))
	s.order = s.order[:0]
	for _, p := range posts {
		k := markerKey(p.Type, p.ID)
		if _, ok := s.posts[k]; ok {
			continue
		}
		s.posts[k] = p
		s.order = append(s.order, k)
	}
}

// Fold applies one change event for a post table. It reports whether the
// set changed, so callers can skip republishing no-op events.
func (s *MarkerSet) Fold(ev backend.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case backend.KindInsert:
		post, ok := ev.Payload.(*store.Post)
		if !ok {
			return false
		}
		k := markerKey(post.Type, post.ID)
		if _, exists := s.posts[k]; exists {
			return false
		}
		s.posts[k] = *post
		s.order = append(s.order, k)
		return true

	case backend.KindUpdate:
		post, ok := ev.Payload.(*store.Post)
		if !ok {
			return false
		}
		k := markerKey(post.Type, post.ID)
		if _, exists := s.posts[k]; !exists {
			return false
		}
		s.posts[k] = *post
		return true

	case backend.KindDelete:
		post, ok := ev.Payload.(*store.Post)
		if !ok {
			return false
		}
		k := markerKey(post.Type, post.ID)
		if _, exists := s.posts[k]; !exists {
			return false
		}
		delete(s.posts, k)
		for i, key := range s.order {
			if key == k {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

// Get returns the post for (type, id) if present.
func (s *MarkerSet) Get(t store.ParentType, id string) (store.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[markerKey(t, id)]
	return p, ok
}

// Posts returns all markers in arrival order.
func (s *MarkerSet) Posts() []store.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Post, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.posts[k])
	}
	return out
}

// InBounds returns the markers whose coordinate falls inside b.
func (s *MarkerSet) InBounds(b Bounds) []store.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Post
	for _, k := range s.order {
		p := s.posts[k]
		if b.Contains(p.Latitude, p.Longitude) {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of markers.
func (s *MarkerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}
