// Package history_test tests the SQLite history store.
package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, enabled bool, clock func() time.Time) *history.Store {
	t.Helper()

	log, err := logger.New(t.TempDir(), "history-test.log")
	require.NoError(t, err)

	store, err := history.Open(context.Background(), config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "nested", "history.db"),
		RetentionDays: 7,
		Enabled:       enabled,
	}, log, history.WithClock(clock))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestStore_AppendAndList(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := openStore(t, true, func() time.Time { return now })
	ctx := context.Background()

	require.True(t, store.Enabled())
	require.NoError(t, store.Append(ctx, history.Event{
		CreatedAt: time.Time{}, SessionID: "s1", RequestID: "r1", Kind: history.KindSynthesize, Detail: "2 segments", ID: 0,
	}))
	require.NoError(t, store.Append(ctx, history.Event{
		CreatedAt: now.Add(time.Minute), SessionID: "s1", RequestID: "r2", Kind: history.KindCombine, Detail: "2500 ms", ID: 0,
	}))
	require.NoError(t, store.Append(ctx, history.Event{
		CreatedAt: time.Time{}, SessionID: "other", RequestID: "", Kind: history.KindCleanup, Detail: "", ID: 0,
	}))

	events, err := store.List(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, history.KindSynthesize, events[0].Kind)
	assert.Equal(t, "r1", events[0].RequestID)
	assert.Equal(t, now, events[0].CreatedAt)
	assert.Equal(t, history.KindCombine, events[1].Kind)
	assert.Equal(t, "2500 ms", events[1].Detail)

	limited, err := store.List(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_PruneRemovesExpiredEvents(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	store := openStore(t, true, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, history.Event{
		CreatedAt: now.Add(-8 * 24 * time.Hour), SessionID: "s1", RequestID: "", Kind: history.KindSynthesize, Detail: "", ID: 0,
	}))
	require.NoError(t, store.Append(ctx, history.Event{
		CreatedAt: now.Add(-time.Hour), SessionID: "s1", RequestID: "", Kind: history.KindCombine, Detail: "", ID: 0,
	}))

	require.NoError(t, store.Prune(ctx))

	events, err := store.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, history.KindCombine, events[0].Kind)
}

func TestStore_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	store := openStore(t, false, time.Now)
	ctx := context.Background()

	assert.False(t, store.Enabled())
	require.NoError(t, store.Append(ctx, history.Event{
		CreatedAt: time.Time{}, SessionID: "s1", RequestID: "", Kind: history.KindSynthesize, Detail: "", ID: 0,
	}))
	require.NoError(t, store.Prune(ctx))

	events, err := store.List(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
