//go:build cgo

package nvr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchControllerModeDerivation(t *testing.T) {
	b := NewBranchController(&Graph{})
	assert.Equal(t, ModeNone, b.CurrentMode())

	b.OpenStreaming()
	assert.Equal(t, ModeStreamingOnly, b.CurrentMode())

	b.SetRecordingPathReady(true)
	require.NoError(t, b.OpenRecording())
	assert.Equal(t, ModeBoth, b.CurrentMode())

	b.CloseStreaming()
	assert.Equal(t, ModeRecordingOnly, b.CurrentMode())

	b.CloseRecording()
	assert.Equal(t, ModeNone, b.CurrentMode())
}

func TestBranchControllerOpenRecordingRequiresValidatedPath(t *testing.T) {
	b := NewBranchController(&Graph{})
	err := b.OpenRecording()
	assert.Error(t, err)
	assert.Equal(t, ModeNone, b.CurrentMode())
}

func TestBranchControllerValveTogglesAreIdempotent(t *testing.T) {
	b := NewBranchController(&Graph{})
	b.OpenStreaming()
	b.OpenStreaming()
	assert.Equal(t, ModeStreamingOnly, b.CurrentMode())

	b.CloseStreaming()
	b.CloseStreaming()
	assert.Equal(t, ModeNone, b.CurrentMode())
}

func TestBranchControllerSetModeTransitions(t *testing.T) {
	b := NewBranchController(&Graph{})
	b.SetRecordingPathReady(true)

	require.NoError(t, b.SetMode(ModeBoth))
	assert.Equal(t, ModeBoth, b.CurrentMode())

	require.NoError(t, b.SetMode(ModeStreamingOnly))
	assert.Equal(t, ModeStreamingOnly, b.CurrentMode())

	require.NoError(t, b.SetMode(ModeNone))
	assert.Equal(t, ModeNone, b.CurrentMode())
}

func TestBranchControllerSetModeRecordingOnlyFailsWithoutPath(t *testing.T) {
	b := NewBranchController(&Graph{})
	err := b.SetMode(ModeRecordingOnly)
	assert.Error(t, err)
}
