package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/critique/internal/errors"
	"github.com/hpungsan/critique/internal/thread"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSnapshot() *thread.Snapshot {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	return &thread.Snapshot{
		Document: thread.Document{Code: "a\nb\nc", Language: "go", FileName: "main.go"},
		Theme:    thread.ThemeLight,
		Threads: []*thread.Thread{
			{
				ID: "t2", StartLine: 2, EndLine: 3, Status: thread.StatusOutdated,
				OriginalCode: "b\nc", CreatedAt: t0,
				Messages: []thread.Message{
					{ID: "m1", Role: thread.RoleUser, Content: "Find bugs in this code", CreatedAt: t0},
					{
						ID: "m2", Role: thread.RoleAssistant, Content: "Two fixes.", CreatedAt: t0.Add(time.Second),
						Suggestions: []thread.Suggestion{
							{ID: "suggestion-0", Original: "b\nc", Suggested: "B\nC", Applied: true},
							{ID: "suggestion-1", Original: "b\nc", Suggested: "bc"},
						},
						OutsideNotes: []string{"first", "second"},
					},
				},
			},
			{ID: "t1", StartLine: 1, EndLine: 1, Status: thread.StatusResolved, OriginalCode: "a", CreatedAt: t0.Add(time.Minute)},
		},
	}
}

func TestSessionStore_LoadMissing(t *testing.T) {
	db := openTestDB(t)

	snap, err := NewSessionStore(db, "nothing").Load(context.Background())

	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSessionStore_SaveLoad(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	want := sampleSnapshot()

	require.NoError(t, NewSessionStore(db, "Work").Save(ctx, want))

	// names are normalized
	got, err := NewSessionStore(db, "  work ").Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionStore_SaveReplaces(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewSessionStore(db, "")
	assert.Equal(t, DefaultSessionName, s.Name())

	require.NoError(t, s.Save(ctx, sampleSnapshot()))

	smaller := &thread.Snapshot{Document: thread.EmptyDocument(), Theme: thread.ThemeDark}
	require.NoError(t, s.Save(ctx, smaller))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Threads)
	assert.Equal(t, thread.ThemeDark, got.Theme)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM suggestions").Scan(&n))
	assert.Zero(t, n)
}

func TestSessionStore_Isolated(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, NewSessionStore(db, "a").Save(ctx, sampleSnapshot()))
	require.NoError(t, NewSessionStore(db, "b").Save(ctx, &thread.Snapshot{Document: thread.EmptyDocument()}))

	a, err := NewSessionStore(db, "a").Load(ctx)
	require.NoError(t, err)
	assert.Len(t, a.Threads, 2)
}

func TestListSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	list, err := ListSessions(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, list)

	first := NewSessionStore(db, "first")
	first.now = func() time.Time { return time.Unix(100, 0) }
	second := NewSessionStore(db, "second")
	second.now = func() time.Time { return time.Unix(200, 0) }
	require.NoError(t, first.Save(ctx, sampleSnapshot()))
	require.NoError(t, second.Save(ctx, &thread.Snapshot{Document: thread.EmptyDocument()}))

	list, err = ListSessions(ctx, db)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)
	assert.Equal(t, 0, list[0].Threads)
	assert.Equal(t, "first", list[1].Name)
	assert.Equal(t, 2, list[1].Threads)
	assert.Equal(t, "main.go", list[1].FileName)
	assert.Equal(t, int64(100), list[1].UpdatedAt)
}

func TestDeleteSession(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, NewSessionStore(db, "gone").Save(ctx, sampleSnapshot()))

	require.NoError(t, DeleteSession(ctx, db, "GONE"))

	snap, err := NewSessionStore(db, "gone").Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n))
	assert.Zero(t, n)

	err = DeleteSession(ctx, db, "gone")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello World", "hello world"},
		{"  hello  ", "hello"},
		{"hello\t\n  world", "hello world"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.input); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
