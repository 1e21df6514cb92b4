package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/config"
	cerrors "github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/review"
	"github.com/hpungsan/critique/internal/thread"
)

type memPersister struct {
	mu    sync.Mutex
	snap  *thread.Snapshot
	saves int
	err   error
}

func (m *memPersister) Load(context.Context) (*thread.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memPersister) Save(_ context.Context, snap *thread.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.snap = snap
	return nil
}

func TestOpen_Hydrates(t *testing.T) {
	p := &memPersister{snap: &thread.Snapshot{
		Document: thread.Document{Code: "x := 1", Language: "go", FileName: "a.go"},
		Theme:    thread.ThemeLight,
	}}

	s, err := Open(context.Background(), p, "work", nil)

	require.NoError(t, err)
	assert.Equal(t, "x := 1", s.Store.Snapshot().Document.Code)
	assert.Equal(t, thread.ThemeLight, s.Store.Snapshot().Theme)
	assert.False(t, s.Dirty(), "hydration is not a change")
}

func TestOpen_DefaultTheme(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Editor.DefaultTheme = "light"

	s, err := Open(context.Background(), nil, "x", cfg)

	require.NoError(t, err)
	assert.Equal(t, thread.ThemeLight, s.Store.Snapshot().Theme)
}

func TestFlush_OnlyWhenDirty(t *testing.T) {
	p := &memPersister{}
	ctx := context.Background()
	s, err := Open(ctx, p, "work", nil)
	require.NoError(t, err)

	require.NoError(t, s.Flush(ctx))
	assert.Zero(t, p.saves)

	s.Store.SetCode("a\nb")
	assert.True(t, s.Dirty())
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, p.saves)
	assert.Equal(t, "a\nb", p.snap.Document.Code)
	assert.False(t, s.Dirty())

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, p.saves)
}

func TestFlush_FailureStaysDirty(t *testing.T) {
	p := &memPersister{}
	ctx := context.Background()
	s, err := Open(ctx, p, "work", nil)
	require.NoError(t, err)

	s.Store.SetCode("a")
	p.err = errors.New("disk full")

	assert.Error(t, s.Flush(ctx))
	assert.True(t, s.Dirty())

	p.err = nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, p.saves)
}

func TestReviews_LazyClient(t *testing.T) {
	calls := 0
	s, err := Open(context.Background(), nil, "work", nil, WithClientFactory(func() (completion.Client, error) {
		calls++
		return &completion.Fake{}, nil
	}))
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.False(t, s.Streaming())

	o1, err := s.Reviews()
	require.NoError(t, err)
	o2, err := s.Reviews()
	require.NoError(t, err)
	assert.Same(t, o1, o2)
	assert.Equal(t, 1, calls)
}

func TestReviews_ClientError(t *testing.T) {
	s, err := Open(context.Background(), nil, "work", nil, WithClientFactory(func() (completion.Client, error) {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}))
	require.NoError(t, err)

	_, err = s.Reviews()

	assert.True(t, cerrors.Is(err, cerrors.ErrInvalidRequest))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestClose_AbortsAndFlushes(t *testing.T) {
	p := &memPersister{}
	ctx := context.Background()
	gate := make(chan struct{})
	s, err := Open(ctx, p, "work", nil, WithClient(&completion.Fake{Chunks: []string{"a"}, Gate: gate}))
	require.NoError(t, err)

	s.Store.SetCode("one\ntwo")
	id := s.Store.CreateThread(1, 1, thread.ActionExplain, "")
	o, err := s.Reviews()
	require.NoError(t, err)
	job, err := o.Start(ctx, review.Options{ThreadID: id, Action: thread.ActionExplain})
	require.NoError(t, err)
	assert.True(t, s.Streaming())

	require.NoError(t, s.Close(ctx))

	res, err := job.Wait()
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.False(t, s.Streaming())
	require.NotNil(t, p.snap)
	assert.Len(t, p.snap.Threads, 1)
}
