// Package session ties a thread store to its persister and its review
// orchestrator for the lifetime of one process.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/config"
	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/review"
	"github.com/hpungsan/critique/internal/store"
	"github.com/hpungsan/critique/internal/thread"
)

// ClientFactory builds the completion client on first use.
type ClientFactory func() (completion.Client, error)

// Option configures Open.
type Option func(*Session)

// WithClientFactory sets how the completion client is created.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) { s.newClient = f }
}

// WithClient uses c for every review.
func WithClient(c completion.Client) Option {
	return WithClientFactory(func() (completion.Client, error) { return c, nil })
}

// WithStoreOptions passes extra options to the thread store.
func WithStoreOptions(opts ...store.Option) Option {
	return func(s *Session) { s.storeOpts = append(s.storeOpts, opts...) }
}

// Session is an open review session.
type Session struct {
	Name   string
	Config *config.Config
	Store  *store.Store

	newClient ClientFactory
	storeOpts []store.Option

	reviewOnce sync.Once
	reviews    atomic.Pointer[review.Orchestrator]
	reviewErr  error

	dirty       atomic.Bool
	flushMu     sync.Mutex
	unsubscribe func()
}

// Open builds the store for the named session and hydrates it from p.
// Changes made afterwards mark the session dirty until the next Flush.
func Open(ctx context.Context, p store.Persister, name string, cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Session{Name: name, Config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.newClient == nil {
		s.newClient = func() (completion.Client, error) { return completion.New(cfg.Completion) }
	}

	theme, ok := thread.ParseTheme(cfg.Editor.DefaultTheme)
	if !ok {
		theme = thread.ThemeDark
	}
	storeOpts := []store.Option{
		store.WithDefaultTheme(theme),
		store.WithClearResetsTheme(cfg.Editor.ClearResetsTheme),
	}
	if p != nil {
		storeOpts = append(storeOpts, store.WithPersister(p))
	}
	s.Store = store.New(append(storeOpts, s.storeOpts...)...)

	if err := s.Store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load session %q: %w", name, err)
	}
	s.unsubscribe = s.Store.Subscribe(func(store.Event) { s.dirty.Store(true) })

	log.Debug().Str("session", name).Int("threads", len(s.Store.Snapshot().Threads)).Msg("Session opened")
	return s, nil
}

// Reviews returns the orchestrator, creating the completion client on first
// call.
func (s *Session) Reviews() (*review.Orchestrator, error) {
	s.reviewOnce.Do(func() {
		client, err := s.newClient()
		if err != nil {
			s.reviewErr = errors.NewInvalidRequest(fmt.Sprintf("completion provider unavailable: %v", err))
			return
		}
		s.reviews.Store(review.New(s.Store, client))
	})
	return s.reviews.Load(), s.reviewErr
}

// ReviewState returns the orchestrator state without creating a client.
func (s *Session) ReviewState() review.State {
	if o := s.reviews.Load(); o != nil {
		return o.State()
	}
	return review.State{}
}

// Streaming reports whether a review is in flight.
func (s *Session) Streaming() bool {
	return s.ReviewState().Streaming
}

// Dirty reports whether there are unsaved changes.
func (s *Session) Dirty() bool { return s.dirty.Load() }

// Flush saves the session if it changed since the last save.
func (s *Session) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if !s.dirty.Swap(false) {
		return nil
	}
	if err := s.Store.Save(ctx); err != nil {
		s.dirty.Store(true)
		return err
	}
	return nil
}

// Close aborts any review in flight and saves pending changes.
func (s *Session) Close(ctx context.Context) error {
	if o := s.reviews.Load(); o != nil {
		o.Abort()
	}
	err := s.Flush(ctx)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return err
}
