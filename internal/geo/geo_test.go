package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ryfis/geo-mini/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type funcLocator func(ctx context.Context) (Coordinate, error)

func (f funcLocator) Locate(ctx context.Context) (Coordinate, error) { return f(ctx) }

func TestResolveUsesLocator(t *testing.T) {
	db := testDB(t)
	want := Coordinate{Latitude: 51.5, Longitude: -0.12}
	r := NewResolver(funcLocator(func(ctx context.Context) (Coordinate, error) {
		return want, nil
	}), db, nil)

	if got := r.Resolve(context.Background()); got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResolveFallsBackOnError(t *testing.T) {
	r := NewResolver(funcLocator(func(ctx context.Context) (Coordinate, error) {
		return Coordinate{}, errors.New("denied")
	}), testDB(t), nil)

	if got := r.Resolve(context.Background()); got != Default {
		t.Fatalf("got %+v, want the default coordinate", got)
	}
}

func TestResolveCachesPosition(t *testing.T) {
	db := testDB(t)
	calls := 0
	r := NewResolver(funcLocator(func(ctx context.Context) (Coordinate, error) {
		calls++
		return Coordinate{Latitude: 48.85, Longitude: 2.35}, nil
	}), db, nil)

	r.Resolve(context.Background())
	r.Resolve(context.Background())
	if calls != 1 {
		t.Fatalf("locator called %d times, want 1 (second resolve from cache)", calls)
	}
}

func TestFallbackNotCached(t *testing.T) {
	db := testDB(t)
	calls := 0
	r := NewResolver(funcLocator(func(ctx context.Context) (Coordinate, error) {
		calls++
		return Coordinate{}, errors.New("unavailable")
	}), db, nil)

	r.Resolve(context.Background())
	r.Resolve(context.Background())
	if calls != 2 {
		t.Fatalf("locator called %d times, want 2 (fallback must not be cached)", calls)
	}
}

func TestResolveIsBounded(t *testing.T) {
	r := NewResolver(funcLocator(func(ctx context.Context) (Coordinate, error) {
		<-ctx.Done()
		return Coordinate{}, ctx.Err()
	}), testDB(t), nil)

	start := time.Now()
	got := r.Resolve(context.Background())
	if got != Default {
		t.Fatalf("got %+v, want default after timeout", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("resolve took %v, want under the acquire timeout", elapsed)
	}
}

func TestHTTPLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lat": 35.68, "lon": 139.69}`))
	}))
	defer srv.Close()

	l := &HTTPLocator{URL: srv.URL}
	c, err := l.Locate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Latitude != 35.68 || c.Longitude != 139.69 {
		t.Fatalf("got %+v", c)
	}
}

func TestHTTPLocatorBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := (&HTTPLocator{URL: srv.URL}).Locate(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}
