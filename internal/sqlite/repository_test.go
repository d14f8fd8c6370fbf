package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(context.Background(), filepath.Join(t.TempDir(), "clipfeed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	got, err := repo.GetCursor(ctx, "global")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, repo.UpdateCursor(ctx, "global", 41))
	require.NoError(t, repo.UpdateCursor(ctx, "global", 42))
	require.NoError(t, repo.UpdateCursor(ctx, "post:p1", 7))

	got, err = repo.GetCursor(ctx, "global")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = repo.GetCursor(ctx, "post:p1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestTombstones(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.UnixMilli(time.Now().UnixMilli())

	require.NoError(t, repo.SaveTombstone(ctx, "p1", now.Add(-time.Minute)))
	require.NoError(t, repo.SaveTombstone(ctx, "p2", now.Add(time.Minute)))
	require.NoError(t, repo.SaveTombstone(ctx, "p3", now.Add(time.Minute)))
	require.NoError(t, repo.SaveTombstone(ctx, "p3", now.Add(time.Hour)))

	active, err := repo.ActiveTombstones(ctx, now)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.True(t, active["p2"].Equal(now.Add(time.Minute)))
	assert.True(t, active["p3"].Equal(now.Add(time.Hour)))

	purged, err := repo.PurgeTombstones(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	purged, err = repo.PurgeTombstones(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clipfeed.db")

	repo, err := NewRepository(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateCursor(ctx, "global", 9))
	require.NoError(t, repo.Close())

	repo, err = NewRepository(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetCursor(ctx, "global")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
}
