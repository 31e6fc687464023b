package visibility

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gatehouse-app/gatehouse/internal/directory"
)

// Store is the process-wide page visibility cache. Guards read it
// synchronously on the hot path; only Refresh mutates it, and always by
// replacing the whole map so readers never observe a partial update.
type Store struct {
	directory directory.Store
	logger    *slog.Logger

	mu          sync.RWMutex
	pages       map[string]directory.Page
	loaded      bool
	refreshedAt time.Time

	subsMu sync.Mutex
	subs   []func()
}

// NewStore constructs a Store. Call Refresh to populate it at startup.
func NewStore(dir directory.Store, logger *slog.Logger) *Store {
	return &Store{
		directory: dir,
		logger:    logger,
		pages:     make(map[string]directory.Page),
	}
}

// IsVisible reports the visibility flag for a page key. Unknown keys fail
// open: a page the store has not heard of is visible, so a missing row
// never hides content by accident. Permission checks still apply upstream.
func (s *Store) IsVisible(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[slug]
	if !ok {
		return true
	}
	return page.Visible
}

// Page returns the cached record for a slug.
func (s *Store) Page(slug string) (directory.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[slug]
	return page, ok
}

// Pages returns the cached pages sorted by slug.
func (s *Store) Pages() []directory.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]directory.Page, 0, len(s.pages))
	for _, page := range s.pages {
		out = append(out, page)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Ready reports whether the store has been populated at least once.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Refresh re-fetches every page and swaps the cache wholesale. On failure
// the previous cache is kept untouched.
func (s *Store) Refresh(ctx context.Context) error {
	pages, err := s.directory.FetchPages(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("page visibility refresh failed", slog.Any("error", err))
		}
		return err
	}

	next := make(map[string]directory.Page, len(pages))
	for _, page := range pages {
		next[page.Slug] = page
	}

	s.mu.Lock()
	s.pages = next
	s.loaded = true
	s.refreshedAt = time.Now()
	s.mu.Unlock()

	s.notify()
	return nil
}

// Subscribe registers a callback invoked after every successful refresh.
func (s *Store) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	s.subsMu.Lock()
	s.subs = append(s.subs, fn)
	s.subsMu.Unlock()
}

func (s *Store) notify() {
	s.subsMu.Lock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
