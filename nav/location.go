package nav

import (
	"fmt"
	"net/url"
	"sync"
)

// Location is the URL the controller mirrors its state into.
type Location interface {
	// Fragment returns the fragment without the leading '#'.
	Fragment() string
	SetFragment(string)
	// Query returns the first value of a query parameter.
	Query(name string) string
}

// URLLocation is a Location over a parsed URL.
type URLLocation struct {
	mu sync.Mutex
	u  *url.URL
}

// NewURLLocation parses raw. A bare "#fragment" or "?query" is accepted.
func NewURLLocation(raw string) (*URLLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("nav: parse location: %w", err)
	}
	return &URLLocation{u: u}, nil
}

func (l *URLLocation) Fragment() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.u.Fragment
}

func (l *URLLocation) SetFragment(f string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.u.Fragment = f
	l.u.RawFragment = ""
}

func (l *URLLocation) Query(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.u.Query().Get(name)
}

// Set replaces the whole URL, as an external navigation would.
func (l *URLLocation) Set(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("nav: parse location: %w", err)
	}
	l.mu.Lock()
	l.u = u
	l.mu.Unlock()
	return nil
}

func (l *URLLocation) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.u.String()
}
