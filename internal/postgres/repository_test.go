package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a live database named by CLIPFEED_TEST_POSTGRES.
func newRepo(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("CLIPFEED_TEST_POSTGRES")
	if url == "" {
		t.Skip("CLIPFEED_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	repo, err := NewRepository(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.db.ExecContext(ctx, `DELETE FROM cursors WHERE channel LIKE 'test:%'`)
		repo.db.ExecContext(ctx, `DELETE FROM tombstones WHERE post_id LIKE 'test-%'`)
		repo.Close()
	})
	return repo
}

func TestCursor(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	got, err := repo.GetCursor(ctx, "test:global")
	require.NoError(t, err)
	assert.Zero(t, got)

	require.NoError(t, repo.UpdateCursor(ctx, "test:global", 5))
	require.NoError(t, repo.UpdateCursor(ctx, "test:global", 6))

	got, err = repo.GetCursor(ctx, "test:global")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)
}

func TestTombstones(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.SaveTombstone(ctx, "test-old", now.Add(-time.Minute)))
	require.NoError(t, repo.SaveTombstone(ctx, "test-new", now.Add(time.Minute)))

	active, err := repo.ActiveTombstones(ctx, now)
	require.NoError(t, err)
	require.Contains(t, active, "test-new")
	assert.NotContains(t, active, "test-old")
	assert.True(t, active["test-new"].Equal(now.Add(time.Minute)))

	purged, err := repo.PurgeTombstones(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, int64(1))
}
