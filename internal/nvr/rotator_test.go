package nvr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseSegmentPathRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 5, 14, 30, 2, 0, time.Local)
	path := BuildSegmentPath("/recordings", "cam-1", at, "mp4")
	assert.Equal(t, filepath.Join("/recordings", "cam-1", "20260305", "cam-1_20260305_143002.mp4"), path)

	camID, parsed, ext, err := ParseSegmentPath(path)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", camID)
	assert.Equal(t, "mp4", ext)
	assert.True(t, at.Equal(parsed))
}

func TestParseSegmentPathRejectsForeignNames(t *testing.T) {
	_, _, _, err := ParseSegmentPath("/recordings/cam-1/whatever.mp4")
	assert.Error(t, err)
}

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

type fakeScheduler struct{ faults []BusError }

func (f *fakeScheduler) ScheduleFault(be BusError) { f.faults = append(f.faults, be) }

func TestNextSegmentPathHappyPath(t *testing.T) {
	root := t.TempDir()
	clock := fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)}
	sched := &fakeScheduler{}
	r := NewRotator("cam-1", root, ContainerMP4, sched, nil, clock)

	path := r.NextSegmentPath()
	assert.Equal(t, filepath.Join(root, "cam-1", "20260102", "cam-1_20260102_030405.mp4"), path)
	assert.Empty(t, sched.faults)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, path, r.LastSegment())
}

func TestNextSegmentPathSchedulesFaultOnFailure(t *testing.T) {
	// root is a file, not a directory: MkdirAll underneath it must fail.
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	sched := &fakeScheduler{}
	r := NewRotator("cam-1", root, ContainerMP4, sched, nil, nil)

	path := r.NextSegmentPath()
	assert.NotEmpty(t, path)
	require.Len(t, sched.faults, 1)
	assert.Equal(t, "rotator", sched.faults[0].SourceElementName)
}

func TestDeleteIfEmptyRemovesOnlyZeroByteSegments(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	nonEmpty := filepath.Join(dir, "nonempty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.NoError(t, os.WriteFile(nonEmpty, []byte("data"), 0o644))

	r := &Rotator{}
	require.NoError(t, r.DeleteIfEmpty(empty))
	require.NoError(t, r.DeleteIfEmpty(nonEmpty))
	require.NoError(t, r.DeleteIfEmpty(""))

	_, err := os.Stat(empty)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(nonEmpty)
	assert.NoError(t, err)
}

type fakeFreeSpace struct {
	gb  float64
	err error
}

func (f fakeFreeSpace) FreeSpaceGB(path string) (float64, error) { return f.gb, f.err }

func TestPreflightValidateSucceeds(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cam-1", "20260102")
	err := PreflightValidate(dir, 1.0, fakeFreeSpace{gb: 5.0})
	require.NoError(t, err)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestPreflightValidateFailsOnInsufficientFreeSpace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cam-1", "20260102")
	err := PreflightValidate(dir, 10.0, fakeFreeSpace{gb: 1.0})
	require.Error(t, err)
	var pe *PreflightError
	require.True(t, errors.As(err, &pe))
}

func TestPreflightValidateFailsOnFreeSpaceQueryError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cam-1", "20260102")
	err := PreflightValidate(dir, 1.0, fakeFreeSpace{err: errors.New("boom")})
	require.Error(t, err)
}
