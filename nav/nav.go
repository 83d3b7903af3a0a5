// CLAUDE:SUMMARY Page registry and navigation controller keeping the current page in step with the URL fragment, aliases and deep links.
// Package nav keeps the current page in step with the URL fragment.
//
// Exactly one page is current. Pages are exposed in the fragment under their
// own id, except the archive, whose external token is "episoden". The token
// "phasen" also opens the archive but switches it to the grouped-by-phase
// sort. A positive integer in the "ep" query parameter asks for a scroll to
// that episode once the target page reports it has rendered.
package nav

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/feedsync/eventbus"
)

// Page identifies one top-level view.
type Page string

const (
	Home    Page = "home"
	Archive Page = "archive"
	Cast    Page = "cast"
	Stats   Page = "stats"
	About   Page = "about"
)

// DefaultPage is used for empty and unknown fragments.
const DefaultPage = Home

// DeepLinkParam names the query parameter carrying a sequence number.
const DeepLinkParam = "ep"

var pages = []Page{Home, Archive, Cast, Stats, About}

// SortOrder is the archive ordering.
type SortOrder int

const (
	SortChronological SortOrder = iota
	SortGroupedByPhase
)

func (s SortOrder) String() string {
	if s == SortGroupedByPhase {
		return "phase"
	}
	return "chronological"
}

func (s SortOrder) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	archiveToken = "episoden"
	phaseToken   = "phasen"
)

// Pages returns every page in display order.
func Pages() []Page { return append([]Page(nil), pages...) }

// Valid reports whether p is a known page.
func Valid(p Page) bool {
	for _, q := range pages {
		if q == p {
			return true
		}
	}
	return false
}

// External returns the fragment token for p.
func External(p Page) string {
	if p == Archive {
		return archiveToken
	}
	return string(p)
}

// Resolve maps a fragment token to a page. ok is false for unknown tokens,
// which resolve to DefaultPage. grouped reports the phase-sort alias.
func Resolve(token string) (p Page, grouped, ok bool) {
	token = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(token), "#"))
	switch token {
	case "":
		return DefaultPage, false, true
	case archiveToken:
		return Archive, false, true
	case phaseToken:
		return Archive, true, true
	}
	if p := Page(token); Valid(p) {
		return p, false, true
	}
	return DefaultPage, false, false
}

// NavigateOptions controls Navigate.
type NavigateOptions struct {
	ScrollToTop bool
	UpdateHash  bool
}

// Change is the nav:changed payload.
type Change struct {
	From        Page      `json:"from"`
	To          Page      `json:"to"`
	Sort        SortOrder `json:"sort"`
	ScrollToTop bool      `json:"scroll_to_top"`
}

// Scroll is the nav:scroll payload.
type Scroll struct {
	Page     Page `json:"page"`
	Sequence int  `json:"sequence"`
}

// Rendered is the page:rendered payload a renderer publishes.
type Rendered struct {
	Page Page `json:"page"`
}

type pendingScroll struct {
	page Page
	seq  int
}

// Controller is safe for concurrent use.
type Controller struct {
	loc    Location
	bus    *eventbus.Bus
	logger *slog.Logger
	unsub  func()

	mu       sync.Mutex
	current  Page
	rendered Page
	sort     SortOrder
	pending  *pendingScroll
	// announced is set once a nav:changed went out for the current page.
	announced bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// New creates a Controller on DefaultPage and subscribes it to
// page:rendered on bus.
func New(loc Location, bus *eventbus.Bus, opts ...Option) *Controller {
	c := &Controller{
		loc:     loc,
		bus:     bus,
		logger:  slog.Default(),
		current: DefaultPage,
	}
	for _, o := range opts {
		o(c)
	}
	c.unsub = bus.Subscribe(eventbus.PageRendered, c.onRendered)
	return c
}

// Close detaches the controller from the bus.
func (c *Controller) Close() { c.unsub() }

// Current returns the current page.
func (c *Controller) Current() Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sort returns the archive ordering.
func (c *Controller) Sort() SortOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sort
}

// Visible reports whether p is the page on display.
func (c *Controller) Visible(p Page) bool { return c.Current() == p }

// Navigate makes page current. Unknown pages become DefaultPage. It reports
// whether the current page changed; navigating to the current page does
// nothing.
func (c *Controller) Navigate(page Page, opts NavigateOptions) bool {
	if !Valid(page) {
		c.logger.Debug("nav: unknown page, using default", "page", page)
		page = DefaultPage
	}

	c.mu.Lock()
	from := c.current
	if from == page {
		c.mu.Unlock()
		return false
	}
	c.current = page
	c.rendered = ""
	c.announced = true
	ev := Change{From: from, To: page, Sort: c.sort, ScrollToTop: opts.ScrollToTop}
	c.mu.Unlock()

	if opts.UpdateHash {
		c.loc.SetFragment(External(page))
	}
	c.bus.Publish(eventbus.NavChanged, ev)
	return true
}

// HandleRoute applies the location's fragment and deep-link parameter. Call
// it at startup and on every external fragment change. It never writes the
// fragment. The first call always publishes nav:changed, even when the
// location resolves to the page the controller starts on.
func (c *Controller) HandleRoute() Page {
	page, grouped, ok := Resolve(c.loc.Fragment())
	if !ok {
		c.logger.Debug("nav: unknown fragment, using default", "fragment", c.loc.Fragment())
	}

	c.mu.Lock()
	sortChanged := false
	if page == Archive {
		want := SortChronological
		if grouped {
			want = SortGroupedByPhase
		}
		sortChanged = c.sort != want
		c.sort = want
	}
	c.mu.Unlock()

	changed := c.Navigate(page, NavigateOptions{ScrollToTop: true})
	if !changed {
		c.mu.Lock()
		initial := !c.announced
		c.announced = true
		ev := Change{From: page, To: page, Sort: c.sort, ScrollToTop: initial}
		c.mu.Unlock()
		if initial || sortChanged {
			c.bus.Publish(eventbus.NavChanged, ev)
		}
	}

	if seq := deepLink(c.loc.Query(DeepLinkParam)); seq > 0 {
		c.mu.Lock()
		if c.rendered == page {
			c.mu.Unlock()
			c.bus.Publish(eventbus.NavScroll, Scroll{Page: page, Sequence: seq})
			return page
		}
		c.pending = &pendingScroll{page: page, seq: seq}
		c.mu.Unlock()
	}
	return page
}

// MarkRendered records that p finished rendering; it is what a renderer's
// page:rendered event does.
func (c *Controller) MarkRendered(p Page) {
	c.bus.Publish(eventbus.PageRendered, Rendered{Page: p})
}

func (c *Controller) onRendered(payload any) {
	var p Page
	switch v := payload.(type) {
	case Rendered:
		p = v.Page
	case Page:
		p = v
	case string:
		p = Page(v)
	default:
		return
	}

	c.mu.Lock()
	if p != c.current {
		c.mu.Unlock()
		return
	}
	c.rendered = p
	pending := c.pending
	if pending == nil || pending.page != p {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	c.bus.Publish(eventbus.NavScroll, Scroll{Page: p, Sequence: pending.seq})
}

func deepLink(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
