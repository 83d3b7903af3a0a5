// CLAUDE:SUMMARY Feed client orchestrating route, config, gate and content loading, refresh, reload and the state served to renderers.
// Package feed is the application client: it runs the startup sequence
// (route, config, gate, content), the manual refresh path and the
// auto-refresh loop, and exposes the resulting state to renderers.
//
// Startup fetches the config document first because it carries the gate
// settings. Once the gate is open, episodes and stats load in parallel. Any
// failure to load a document after gate clearance is fatal for the page and
// is reported as a *FatalError on data:error; the gate session is kept.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/feedsync/cache"
	"github.com/hazyhaar/feedsync/content"
	"github.com/hazyhaar/feedsync/eventbus"
	"github.com/hazyhaar/feedsync/gate"
	"github.com/hazyhaar/feedsync/nav"
)

// ErrEpisodeNotFound is returned by Episode for an unknown sequence number.
var ErrEpisodeNotFound = errors.New("feed: episode not found")

// Documents names the three feed documents relative to the base URL.
type Documents struct {
	Config   string `json:"config"`
	Episodes string `json:"episodes"`
	Stats    string `json:"stats"`
}

// TTLs holds the cache lifetime of each document.
type TTLs struct {
	Config   time.Duration `json:"config"`
	Episodes time.Duration `json:"episodes"`
	Stats    time.Duration `json:"stats"`
}

// Config tunes a Client.
type Config struct {
	Documents  Documents
	TTL        TTLs
	MaxRetries int // Default: cache.DefaultMaxRetries.
	// OverrideParam names the query parameter that forces the gate open
	// for the session. Default: "skipgate".
	OverrideParam string
}

func (c *Config) defaults() {
	if c.Documents.Config == "" {
		c.Documents.Config = "config.json"
	}
	if c.Documents.Episodes == "" {
		c.Documents.Episodes = "episodes.json"
	}
	if c.Documents.Stats == "" {
		c.Documents.Stats = "stats.json"
	}
	if c.TTL.Config <= 0 {
		c.TTL.Config = time.Hour
	}
	if c.TTL.Episodes <= 0 {
		c.TTL.Episodes = 5 * time.Minute
	}
	if c.TTL.Stats <= 0 {
		c.TTL.Stats = 2 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = cache.DefaultMaxRetries
	}
	if c.OverrideParam == "" {
		c.OverrideParam = "skipgate"
	}
}

// Deps are the components a Client drives. Logger, Now and Normalizer
// default when nil.
type Deps struct {
	Cache      *cache.Orchestrator
	Gate       *gate.Controller
	Nav        *nav.Controller
	Bus        *eventbus.Bus
	Location   nav.Location
	Normalizer *content.Normalizer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Status is the load status of the page.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusAwaitingGate
	StatusReady
	StatusFailed
)

var statusNames = [...]string{"idle", "loading", "awaiting_gate", "ready", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Progress is the data:loading payload.
type Progress struct {
	Documents []string `json:"documents"`
	Refresh   bool     `json:"refresh,omitempty"`
}

// Snapshot is a consistent view of the client state. Its slices are shared
// with the client and must not be modified.
type Snapshot struct {
	Status   Status               `json:"status"`
	Page     nav.Page             `json:"page"`
	Sort     nav.SortOrder        `json:"sort"`
	Gate     gate.State           `json:"gate"`
	Overlay  gate.Overlay         `json:"overlay"`
	Config   *content.SiteConfig  `json:"config,omitempty"`
	Episodes []content.Episode    `json:"episodes"`
	Groups   []content.PhaseGroup `json:"groups,omitempty"`
	Stats    *content.Stats       `json:"stats,omitempty"`
	Phase    *content.Phase       `json:"phase,omitempty"`
	LoadedAt *time.Time           `json:"loaded_at,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// Client is safe for concurrent use. Load sequences (Start, Unlock,
// Refresh) are serialized.
type Client struct {
	cache      *cache.Orchestrator
	gate       *gate.Controller
	nav        *nav.Controller
	bus        *eventbus.Bus
	loc        nav.Location
	normalizer *content.Normalizer
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config

	loadMu sync.Mutex

	mu       sync.RWMutex
	status   Status
	config   *content.SiteConfig
	episodes []content.Episode
	stats    *content.Stats
	phase    *content.Phase
	loadedAt time.Time
	lastErr  error

	checks, refreshes, refreshErrors atomic.Int64
}

// New creates a Client.
func New(deps Deps, cfg Config) *Client {
	cfg.defaults()
	c := &Client{
		cache:      deps.Cache,
		gate:       deps.Gate,
		nav:        deps.Nav,
		bus:        deps.Bus,
		loc:        deps.Location,
		normalizer: deps.Normalizer,
		logger:     deps.Logger,
		now:        deps.Now,
		cfg:        cfg,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.normalizer == nil {
		c.normalizer = content.NewNormalizer(content.WithClock(c.now), content.WithLogger(c.logger))
	}
	return c
}

// Start runs the startup sequence: apply the route, fetch the config,
// evaluate the gate and, once open, load episodes and stats. It returns the
// gate state; AwaitingInput means the sequence is suspended until Unlock.
func (c *Client) Start(ctx context.Context) (gate.State, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.nav.HandleRoute()
	c.setStatus(StatusLoading)
	c.bus.Publish(eventbus.DataLoading, Progress{Documents: []string{c.cfg.Documents.Config}})

	siteCfg, err := cache.FetchInto[content.SiteConfig](ctx, c.cache, c.cfg.Documents.Config, cache.Options{
		UseCache:   true,
		TTL:        c.cfg.TTL.Config,
		Validator:  content.ValidateConfigDocument,
		Transform:  content.NormalizeConfig,
		MaxRetries: c.cfg.MaxRetries,
	})
	if err != nil {
		return gate.Closed, c.fail(ctx, &FatalError{Document: c.cfg.Documents.Config, Retry: RetryReload, Err: err})
	}
	c.mu.Lock()
	c.config = &siteCfg
	c.mu.Unlock()

	st := c.gate.Evaluate(ctx, gate.Request{
		Settings:       siteCfg.Maintenance,
		Override:       c.overrideRequested(),
		FocusedElement: "page:" + string(c.nav.Current()),
	})
	if st != gate.Open {
		c.setStatus(StatusAwaitingGate)
		return st, nil
	}
	return st, c.loadContent(ctx, false)
}

// Unlock submits a passphrase to the gate and, on a match, resumes the
// suspended startup. Gate errors (mismatch, secure context) are returned
// as-is and leave the client awaiting input.
func (c *Client) Unlock(ctx context.Context, passphrase string) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if err := c.gate.Submit(ctx, passphrase); err != nil {
		return err
	}
	if c.Status() == StatusReady {
		return nil
	}
	return c.loadContent(ctx, false)
}

// Refresh drops episodes and stats from both cache tiers and loads them
// again. The config document and the gate are left alone.
func (c *Client) Refresh(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.gate.State() != gate.Open {
		return ErrGateLocked
	}
	c.mu.RLock()
	loaded := c.config != nil
	c.mu.RUnlock()
	if !loaded {
		return ErrNotLoaded
	}

	c.cache.Invalidate(ctx, c.cfg.Documents.Episodes, c.cfg.Documents.Stats)
	return c.loadContent(ctx, true)
}

// Reload reruns the whole startup sequence, which is the retry a fatal
// failure offers. Documents still valid in the cache are reused and an
// unlock recorded for the session opens the gate again without a prompt.
func (c *Client) Reload(ctx context.Context) (gate.State, error) {
	c.logger.InfoContext(ctx, "feed: reload requested", "status", c.Status().String())
	return c.Start(ctx)
}

func (c *Client) loadContent(ctx context.Context, refresh bool) error {
	docs := c.cfg.Documents
	c.setStatus(StatusLoading)
	c.bus.Publish(eventbus.DataLoading, Progress{Documents: []string{docs.Episodes, docs.Stats}, Refresh: refresh})

	var (
		episodes []content.Episode
		stats    content.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eps, err := cache.FetchInto[[]content.Episode](gctx, c.cache, docs.Episodes, cache.Options{
			UseCache:   true,
			TTL:        c.cfg.TTL.Episodes,
			Validator:  content.ValidateEpisodesDocument,
			Transform:  c.normalizer.Transform,
			MaxRetries: c.cfg.MaxRetries,
		})
		if err != nil {
			return &FatalError{Document: docs.Episodes, Retry: RetryReload, Err: err}
		}
		episodes = eps
		return nil
	})
	g.Go(func() error {
		st, err := cache.FetchInto[content.Stats](gctx, c.cache, docs.Stats, cache.Options{
			UseCache:   true,
			TTL:        c.cfg.TTL.Stats,
			Validator:  content.ValidateStatsDocument,
			Transform:  content.NormalizeStats,
			MaxRetries: c.cfg.MaxRetries,
		})
		if err != nil {
			return &FatalError{Document: docs.Stats, Retry: RetryReload, Err: err}
		}
		stats = st
		return nil
	})
	if err := g.Wait(); err != nil {
		var fe *FatalError
		if !errors.As(err, &fe) {
			fe = &FatalError{Document: "content", Retry: RetryReload, Err: err}
		}
		return c.fail(ctx, fe)
	}
	if episodes == nil {
		episodes = []content.Episode{}
	}

	phase := c.resolvePhase(ctx, &stats)

	c.mu.Lock()
	c.episodes = episodes
	c.stats = &stats
	c.phase = phase
	c.loadedAt = c.now()
	c.status = StatusReady
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "feed: content loaded",
		"episodes", len(episodes), "phase", stats.CurrentPhase, "refresh", refresh)
	name := eventbus.DataReady
	if refresh {
		name = eventbus.DataRefreshed
	}
	c.bus.Publish(name, c.State())
	return nil
}

// resolvePhase checks the stats phase id against the story arc. An unknown
// id is replaced by the first configured phase.
func (c *Client) resolvePhase(ctx context.Context, stats *content.Stats) *content.Phase {
	c.mu.RLock()
	cfg := c.config
	c.mu.RUnlock()
	if cfg == nil || len(cfg.StoryArc.Phases) == 0 {
		return nil
	}
	if p, ok := cfg.Phase(stats.CurrentPhase); ok {
		return &p
	}
	first := cfg.StoryArc.Phases[0]
	if stats.CurrentPhase != "" {
		c.logger.WarnContext(ctx, "feed: stats reference unknown phase, using first configured phase",
			"phase", stats.CurrentPhase, "fallback", first.ID)
	}
	stats.CurrentPhase = first.ID
	return &first
}

func (c *Client) fail(ctx context.Context, fe *FatalError) error {
	c.mu.Lock()
	c.status = StatusFailed
	c.lastErr = fe
	c.mu.Unlock()

	c.logger.ErrorContext(ctx, "feed: load failed", "document", fe.Document, "error", fe.Err)
	c.bus.Publish(eventbus.DataError, fe)
	return fe
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) overrideRequested() bool {
	if c.loc == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(c.loc.Query(c.cfg.OverrideParam))) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

// Status returns the load status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// State returns a snapshot of the client, including page and gate state.
// A failed client carries no content: the last error and the gate only.
func (c *Client) State() Snapshot {
	c.mu.RLock()
	s := Snapshot{Status: c.status}
	if c.status != StatusFailed {
		s.Config = c.config
		s.Episodes = c.episodes
		s.Stats = c.stats
		s.Phase = c.phase
	}
	if !c.loadedAt.IsZero() {
		at := c.loadedAt
		s.LoadedAt = &at
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	c.mu.RUnlock()

	if s.Episodes == nil {
		s.Episodes = []content.Episode{}
	}
	s.Page = c.nav.Current()
	s.Sort = c.nav.Sort()
	s.Gate = c.gate.State()
	s.Overlay = c.gate.Overlay()
	if s.Sort == nav.SortGroupedByPhase && s.Config != nil {
		s.Groups = content.GroupByPhase(s.Episodes, s.Config.StoryArc.Phases)
	}
	return s
}

// View is a Snapshot plus the countdown, as served to API and tool callers.
type View struct {
	Snapshot
	CountdownSeconds *int64 `json:"countdown_seconds,omitempty"`
}

// View returns the current state. Episodes and groups are left out unless
// includeEpisodes is set.
func (c *Client) View(includeEpisodes bool) View {
	v := View{Snapshot: c.State()}
	if !includeEpisodes {
		v.Episodes = nil
		v.Groups = nil
	}
	if left, ok := c.Countdown(); ok {
		secs := int64(left.Seconds())
		v.CountdownSeconds = &secs
	}
	return v
}

// Episode returns the loaded episode with sequence number seq.
func (c *Client) Episode(seq int) (content.Episode, error) {
	c.mu.RLock()
	eps, status := c.episodes, c.status
	c.mu.RUnlock()
	if status == StatusFailed || (eps == nil && status != StatusReady) {
		return content.Episode{}, ErrNotLoaded
	}
	ep, ok := content.FindEpisode(eps, seq)
	if !ok {
		return content.Episode{}, fmt.Errorf("%w: %d", ErrEpisodeNotFound, seq)
	}
	return ep, nil
}

// Countdown returns the time left until the stats document's next update.
// ok is false when no next update is announced or the last load failed;
// a past update yields 0.
func (c *Client) Countdown() (left time.Duration, ok bool) {
	c.mu.RLock()
	stats, status := c.stats, c.status
	c.mu.RUnlock()
	if status == StatusFailed || stats == nil || stats.NextUpdate == nil {
		return 0, false
	}
	left = stats.NextUpdate.Sub(c.now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// Navigate moves to page (unknown pages go to the default page) and
// reports the page now current and whether it changed.
func (c *Client) Navigate(page string, updateHash bool) (nav.Page, bool) {
	changed := c.nav.Navigate(nav.Page(page), nav.NavigateOptions{ScrollToTop: true, UpdateHash: updateHash})
	return c.nav.Current(), changed
}

type settableLocation interface {
	Set(raw string) error
}

// Route replaces the location, as an external fragment change would, and
// re-applies it.
func (c *Client) Route(raw string) (nav.Page, error) {
	sl, ok := c.loc.(settableLocation)
	if !ok {
		return c.nav.Current(), ErrNoLocation
	}
	if err := sl.Set(raw); err != nil {
		return c.nav.Current(), err
	}
	return c.nav.HandleRoute(), nil
}

// Rendered reports that the renderer finished drawing page.
func (c *Client) Rendered(page string) { c.nav.MarkRendered(nav.Page(page)) }

// CacheStats exposes the orchestrator counters.
func (c *Client) CacheStats() cache.Stats { return c.cache.Stats() }
