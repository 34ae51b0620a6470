package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.True(t, store.Enabled())

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, class := range []string{"a", "b", "c"} {
		e, err := store.Record(ctx, Entry{
			FileName:   class + ".png",
			Class:      class,
			Confidence: 0.9,
			Mode:       "demo",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.NotEmpty(t, e.ID)
	}

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].Class)
	require.Equal(t, "b", got[1].Class)
	require.Equal(t, "c.png", got[0].FileName)
	require.InDelta(t, 0.9, got[0].Confidence, 1e-6)
}

func TestDisabledStore(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	require.False(t, store.Enabled())

	_, err = store.Record(context.Background(), Entry{Class: "a"})
	require.NoError(t, err)

	got, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, store.Close())
}
