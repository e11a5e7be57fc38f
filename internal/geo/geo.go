// Package geo resolves the coordinate used to seed the initial map view:
// a cached recent position when fresh enough, otherwise a bounded one-shot
// lookup with a fixed fallback.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/store"
)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Default is the fallback view when no position can be acquired.
var Default = Coordinate{Latitude: 37.7749, Longitude: -122.4194}

const (
	// acquireTimeout bounds a position lookup; on expiry Default wins.
	acquireTimeout = 3500 * time.Millisecond
	// cacheTTL is the freshness window for a previously resolved position.
	cacheTTL = 5 * time.Minute

	viewKey = "map.initial"
)

// Locator acquires the device position once.
type Locator interface {
	Locate(ctx context.Context) (Coordinate, error)
}

// HTTPLocator asks an IP-geolocation endpoint returning {"lat":..,"lon":..}.
type HTTPLocator struct {
	URL    string
	Client *http.Client
}

func (l *HTTPLocator) Locate(ctx context.Context) (Coordinate, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return Coordinate{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Coordinate{}, fmt.Errorf("locate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Coordinate{}, fmt.Errorf("locate: status %d", resp.StatusCode)
	}
	var c Coordinate
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return Coordinate{}, fmt.Errorf("locate: decode: %w", err)
	}
	return c, nil
}

// Resolver returns the map's starting coordinate, caching resolved
// positions in the local store.
type Resolver struct {
	locator Locator
	db      *store.DB
	logger  *zap.Logger
}

// NewResolver creates a resolver. locator may be nil, in which case only
// the cache and the fallback are consulted.
func NewResolver(locator Locator, db *store.DB, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{locator: locator, db: db, logger: logger}
}

// Resolve returns a coordinate, never an error: cache hit, then a bounded
// lookup, then Default. Only genuinely acquired positions are cached; the
// fallback is not, so the next call retries the lookup.
func (r *Resolver) Resolve(ctx context.Context) Coordinate {
	if r.db != nil {
		if v, err := r.db.GetSavedView(viewKey, cacheTTL); err == nil && v != nil {
			return Coordinate{Latitude: v.Latitude, Longitude: v.Longitude}
		}
	}

	if r.locator == nil {
		return Default
	}

	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()
	c, err := r.locator.Locate(ctx)
	if err != nil {
		r.logger.Debug("position lookup failed, using fallback", zap.Error(err))
		return Default
	}

	if r.db != nil {
		if err := r.db.PutSavedView(&store.SavedView{
			Key:       viewKey,
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			SavedAt:   time.Now().UnixMilli(),
		}); err != nil {
			r.logger.Warn("cache resolved position", zap.Error(err))
		}
	}
	return c
}
