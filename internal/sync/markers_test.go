package sync

import (
	"testing"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/store"
)

func post(t store.ParentType, id string, lat, lng float64) *store.Post {
	return &store.Post{ID: id, Type: t, Title: "t-" + id, Latitude: lat, Longitude: lng}
}

func postEv(kind backend.Kind, p *store.Post) backend.ChangeEvent {
	table := backend.TableMessages
	if p.Type == store.ParentGroup {
		table = backend.TableGroups
	}
	return backend.ChangeEvent{Kind: kind, EntityType: table, EntityID: p.ID, Payload: p}
}

func TestMarkerInsertIdempotent(t *testing.T) {
	s := NewMarkerSet()
	if !s.Fold(postEv(backend.KindInsert, post(store.ParentMessage, "a", 1, 2))) {
		t.Fatal("first insert reported no change")
	}
	if s.Fold(postEv(backend.KindInsert, post(store.ParentMessage, "a", 1, 2))) {
		t.Fatal("duplicate insert reported a change")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestMarkerTypesDoNotCollide(t *testing.T) {
	s := NewMarkerSet()
	s.Fold(postEv(backend.KindInsert, post(store.ParentMessage, "a", 1, 2)))
	s.Fold(postEv(backend.KindInsert, post(store.ParentGroup, "a", 3, 4)))

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2 (message and group posts share ids)", s.Len())
	}
}

func TestMarkerUpdateWithoutInsert(t *testing.T) {
	s := NewMarkerSet()
	if s.Fold(postEv(backend.KindUpdate, post(store.ParentMessage, "ghost", 1, 2))) {
		t.Fatal("update for unseen marker reported a change")
	}
	if s.Len() != 0 {
		t.Fatal("update created a marker")
	}
}

func TestMarkerDeleteIdempotent(t *testing.T) {
	s := NewMarkerSet()
	p := post(store.ParentMessage, "a", 1, 2)
	s.Fold(postEv(backend.KindInsert, p))

	if !s.Fold(postEv(backend.KindDelete, p)) {
		t.Fatal("delete reported no change")
	}
	if s.Fold(postEv(backend.KindDelete, p)) {
		t.Fatal("second delete reported a change")
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
}

func TestMarkerInBounds(t *testing.T) {
	s := NewMarkerSet()
	s.Replace([]store.Post{
		*post(store.ParentMessage, "sf", 37.77, -122.42),
		*post(store.ParentMessage, "nyc", 40.71, -74.01),
		*post(store.ParentGroup, "oak", 37.80, -122.27),
	})

	bayArea := Bounds{MinLat: 37.0, MaxLat: 38.5, MinLng: -123.0, MaxLng: -121.5}
	got := s.InBounds(bayArea)
	if len(got) != 2 {
		t.Fatalf("got %d markers in bounds, want 2", len(got))
	}
	for _, p := range got {
		if p.ID == "nyc" {
			t.Error("out-of-bounds marker returned")
		}
	}
}
