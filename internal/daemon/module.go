// Package daemon wires the geominid process: backend clients, feed
// subscriptions, the sync engine and the loopback HTTP API, composed with
// fx lifecycle hooks.
package daemon

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/bus"
	"github.com/Ryfis/geo-mini/internal/cache"
	"github.com/Ryfis/geo-mini/internal/config"
	"github.com/Ryfis/geo-mini/internal/geo"
	"github.com/Ryfis/geo-mini/internal/lock"
	"github.com/Ryfis/geo-mini/internal/logging"
	"github.com/Ryfis/geo-mini/internal/session"
	"github.com/Ryfis/geo-mini/internal/store"
	intsync "github.com/Ryfis/geo-mini/internal/sync"
	"github.com/Ryfis/geo-mini/internal/writer"
)

// Channel keys for the two long-lived feed subscriptions.
const (
	channelPublic = "public"
	channelUser   = "user"
)

// publicTables are watched on the shared channel; userTables carry rows
// addressed to the signed-in user and drive the derived counters.
var (
	publicTables = []string{
		backend.TableMessages,
		backend.TableGroups,
		backend.TableChatMessages,
		backend.TablePostComments,
		backend.TableProfiles,
		backend.TableMessageAttachments,
		backend.TablePostAttachments,
	}
	userTables = []string{
		backend.TableFriendships,
		backend.TablePrivateMessages,
		backend.TableSavedLocations,
	}
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	Config  *config.Config
}

// Identity is the signed-in user as seen by the writer and the API.
type Identity struct {
	UserID   string
	Username string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCache,
			provideSession,
			provideClient,
			provideStorage,
			provideIdentity,
			provideManager,
			provideRecounter,
			provideEngine,
			provideLoader,
			provideWriter,
			provideResolver,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCache(p Params) *cache.Cache {
	c := p.Config.Cache
	return cache.New(c.MaxEntries, time.Duration(c.TTLMinutes)*time.Minute)
}

func provideSession(p Params, logger *zap.Logger) (*backend.Session, error) {
	auth := backend.NewAuthClient(p.Config.Backend.URL, p.Config.Backend.AnonKey)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sess, err := auth.SignIn(ctx, p.Config.Auth.Email, p.Config.Auth.Password)
	if err != nil {
		return nil, err
	}
	logger.Info("signed in", zap.String("user_id", sess.UserID))
	return sess, nil
}

func provideClient(p Params, sess *backend.Session) *backend.Client {
	c := backend.NewClient(p.Config.Backend.URL, p.Config.Backend.AnonKey)
	c.SetToken(sess.AccessToken)
	return c
}

func provideStorage(p Params, sess *backend.Session) *backend.StorageClient {
	s := backend.NewStorageClient(p.Config.Backend.URL, p.Config.Backend.AnonKey)
	s.SetToken(sess.AccessToken)
	return s
}

// provideIdentity resolves the display name from the user's own profile
// row, falling back to the email local part when the row is missing.
func provideIdentity(client *backend.Client, sess *backend.Session, logger *zap.Logger) Identity {
	id := Identity{UserID: sess.UserID}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows []store.Profile
	q := backend.NewQuery().Eq("id", sess.UserID).Limit(1)
	if err := client.Select(ctx, backend.TableProfiles, q, &rows); err == nil && len(rows) > 0 {
		id.Username = rows[0].Username
	}
	if id.Username == "" {
		id.Username = strings.SplitN(sess.Email, "@", 2)[0]
		logger.Debug("profile row missing, using email local part", zap.String("username", id.Username))
	}
	return id
}

func provideManager(p Params, b *bus.Bus, logger *zap.Logger) *backend.Manager {
	feed := backend.NewFeed(p.Config.Backend.URL, p.Config.Backend.AnonKey, logger)
	return backend.NewManager(feed, b, logger)
}

func provideRecounter(client *backend.Client, id Identity, b *bus.Bus, logger *zap.Logger) *intsync.Recounter {
	return intsync.NewRecounter(&intsync.BackendCounts{Client: client, UserID: id.UserID}, b, logger)
}

func provideEngine(db *store.DB, b *bus.Bus, c *cache.Cache, r *intsync.Recounter, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, c, r, logger)
}

func provideLoader(client *backend.Client, db *store.DB, c *cache.Cache, engine *intsync.Engine, logger *zap.Logger) *intsync.Loader {
	return intsync.NewLoader(client, db, c, engine, logger)
}

func provideWriter(client *backend.Client, id Identity, logger *zap.Logger) *writer.Writer {
	return writer.New(client, id.UserID, id.Username, logger)
}

func provideResolver(p Params, db *store.DB, logger *zap.Logger) *geo.Resolver {
	var locator geo.Locator
	if p.Config.Geo.LocatorURL != "" {
		locator = &geo.HTTPLocator{URL: p.Config.Geo.LocatorURL}
	}
	return geo.NewResolver(locator, db, logger)
}

func provideServer(p Params, id Identity, db *store.DB, b *bus.Bus, engine *intsync.Engine,
	loader *intsync.Loader, recounter *intsync.Recounter, w *writer.Writer, mgr *backend.Manager,
	storage *backend.StorageClient, resolver *geo.Resolver, logger *zap.Logger) *Server {
	return NewServer(p.Config.Server.Listen, ServerDeps{
		Profile:   p.Profile,
		UserID:    id.UserID,
		DB:        db,
		Bus:       b,
		Engine:    engine,
		Loader:    loader,
		Recounter: recounter,
		Writer:    w,
		Manager:   mgr,
		Storage:   storage,
		Resolver:  resolver,
		Logger:    logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *backend.Manager,
	engine *intsync.Engine, loader *intsync.Loader, recounter *intsync.Recounter, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start folding feed events before any channel opens.
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Feed channels and initial loads are best effort: a dead
			// backend leaves the daemon serving mirrored state with the
			// channel status reporting the failure.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()

				if _, err := mgr.Open(ctx, channelPublic, publicTables); err != nil {
					logger.Error("open public feed channel", zap.Error(err))
				}
				if _, err := mgr.Open(ctx, channelUser, userTables); err != nil {
					logger.Error("open user feed channel", zap.Error(err))
				}

				if _, err := loader.LoadMarkers(ctx, nil); err != nil {
					logger.Error("initial marker load", zap.Error(err))
				}
				if err := recounter.RecountUnread(ctx); err != nil {
					logger.Warn("initial unread recount", zap.Error(err))
				}
				if err := recounter.RecountPending(ctx); err != nil {
					logger.Warn("initial pending recount", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.CloseAll()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
