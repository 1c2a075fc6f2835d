package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeSpaceGBQueriesNearestExistingAncestor(t *testing.T) {
	root := t.TempDir()
	svc := New(nil)

	notYetCreated := filepath.Join(root, "cam-1", "20260102")
	free, err := svc.FreeSpaceGB(notYetCreated)
	require.NoError(t, err)
	assert.Greater(t, free, 0.0)
}

func TestAutoCleanupDeletesEveryStaleFileWhenTargetUnreachable(t *testing.T) {
	root := t.TempDir()
	svc := New(nil)

	old := filepath.Join(root, "old.mp4")
	older := filepath.Join(root, "older.mp4")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(older, []byte("x"), 0o644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))
	require.NoError(t, os.Chtimes(old, past.Add(time.Hour), past.Add(time.Hour)))

	// minFreeTargetGB set absurdly high so every stale candidate is deleted
	// (this host will never report that much real free space).
	deleted, err := svc.AutoCleanup(context.Background(), root, time.Hour, 1e12)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(older)
	assert.True(t, os.IsNotExist(err))
}

func TestAutoCleanupSkipsFilesNewerThanMaxAge(t *testing.T) {
	root := t.TempDir()
	svc := New(nil)

	fresh := filepath.Join(root, "fresh.mp4")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	deleted, err := svc.AutoCleanup(context.Background(), root, 24*time.Hour, 1e12)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestAutoCleanupStopsOnceFreeTargetReached(t *testing.T) {
	root := t.TempDir()
	svc := New(nil)

	stale := filepath.Join(root, "stale.mp4")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	// minFreeTargetGB set to zero: the very first free-space check already
	// satisfies the target, so nothing should be deleted.
	deleted, err := svc.AutoCleanup(context.Background(), root, time.Hour, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = os.Stat(stale)
	assert.NoError(t, err)
}
