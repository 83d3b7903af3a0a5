package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedsync/cache"
	"github.com/hazyhaar/feedsync/config"
	"github.com/hazyhaar/feedsync/content"
	"github.com/hazyhaar/feedsync/eventbus"
	"github.com/hazyhaar/feedsync/feed"
	"github.com/hazyhaar/feedsync/gate"
	"github.com/hazyhaar/feedsync/idgen"
	"github.com/hazyhaar/feedsync/journal"
	"github.com/hazyhaar/feedsync/kvstore"
	"github.com/hazyhaar/feedsync/nav"
)

// app is one wired feedsync session.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *kvstore.Store
	bus       *eventbus.Bus
	journal   *journal.Journal
	loc       *nav.URLLocation
	nav       *nav.Controller
	client    *feed.Client
	sessionID string

	detach func()
}

type appOptions struct {
	Location string
	// DB replaces the store database (tests). It must carry journal.Schema.
	DB      *sql.DB
	Fetcher cache.Fetcher
	Now     func() time.Time
}

func newApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	sid := cfg.Store.SessionID
	if sid == "" {
		sid = idgen.NewSessionID()
	} else if !idgen.ValidSessionID(sid) {
		return nil, fmt.Errorf("invalid session id %q", sid)
	}

	db := opts.DB
	if db == nil {
		var err error
		db, err = kvstore.Open(cfg.Store.Path, kvstore.WithMkdirAll(), kvstore.WithSchema(journal.Schema))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		f, err := cache.NewHTTPFetcher(cache.HTTPConfig{
			BaseURL:   cfg.Feed.BaseURL,
			Version:   cfg.Feed.AssetVersion,
			Timeout:   cfg.Feed.Timeout.Std(),
			UserAgent: cfg.Feed.UserAgent,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		fetcher = f
	}

	locRaw := opts.Location
	if locRaw == "" {
		locRaw = "/"
	}
	loc, err := nav.NewURLLocation(locRaw)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := kvstore.New(db, cfg.Store.Namespace, logger, kvstore.WithClock(now))
	bus := eventbus.New(logger)

	j := journal.New(db, journal.WithLogger(logger), journal.WithSessionID(sid), journal.WithClock(now))
	detach := j.Attach(bus)

	orch := cache.New(store.Namespace("cache"), fetcher,
		cache.WithSchemaVersion(cfg.Cache.SchemaVersion),
		cache.WithBaseBackoff(cfg.Cache.BaseBackoff.Std()),
		cache.WithClock(now),
		cache.WithLogger(logger),
	)
	insecure := cfg.Gate.InsecureContext
	gateCtl := gate.New(store.Namespace("session:"+sid), bus,
		gate.WithSecureContext(func() bool { return !insecure }),
		gate.WithLogger(logger),
	)
	navCtl := nav.New(loc, bus, nav.WithLogger(logger))

	client := feed.New(feed.Deps{
		Cache:      orch,
		Gate:       gateCtl,
		Nav:        navCtl,
		Bus:        bus,
		Location:   loc,
		Normalizer: content.NewNormalizer(content.WithClock(now), content.WithLogger(logger)),
		Logger:     logger,
		Now:        now,
	}, feed.Config{
		Documents: feed.Documents{
			Config:   cfg.Feed.Documents.Config,
			Episodes: cfg.Feed.Documents.Episodes,
			Stats:    cfg.Feed.Documents.Stats,
		},
		TTL: feed.TTLs{
			Config:   cfg.Cache.TTL.Config.Std(),
			Episodes: cfg.Cache.TTL.Episodes.Std(),
			Stats:    cfg.Cache.TTL.Stats.Std(),
		},
		MaxRetries:    cfg.Cache.MaxRetries,
		OverrideParam: cfg.Gate.OverrideParam,
	})

	logger.Debug("feedsync: session ready", "session_id", sid, "store", cfg.Store.Path, "location", loc.String())

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		bus:       bus,
		journal:   j,
		loc:       loc,
		nav:       navCtl,
		client:    client,
		sessionID: sid,
		detach:    detach,
	}, nil
}

// Close detaches the journal and closes the database.
func (a *app) Close() error {
	a.detach()
	a.nav.Close()
	return a.db.Close()
}
