//go:build cgo

package nvr

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// BranchController implements §4.3: it toggles the `drop` property of the
// stream/record valves. Every method is idempotent and safe to call from any
// thread — callers never mutate the graph directly, only send these
// thread-safe commands, per §5's "outside threads may only send commands"
// rule.
type BranchController struct {
	graph *Graph

	mu            sync.Mutex
	streamingOpen atomic.Bool
	recordingOpen atomic.Bool

	// recordingPathReady gates OpenRecording per §4.3 "requires the recording
	// branch to have a valid output path — precondition enforced by the
	// Rotator". The camera engine sets this after PreflightValidate succeeds.
	recordingPathReady atomic.Bool
}

// NewBranchController wraps graph. Both valves start closed, matching the
// graph's construction-time state.
func NewBranchController(graph *Graph) *BranchController {
	return &BranchController{graph: graph}
}

// SetRecordingPathReady records whether the Rotator has validated a writable
// output path. OpenRecording refuses to proceed while this is false.
func (b *BranchController) SetRecordingPathReady(ready bool) {
	b.recordingPathReady.Store(ready)
}

// OpenStreaming opens the streaming valve. Idempotent.
func (b *BranchController) OpenStreaming() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streamingOpen.Load() {
		return
	}
	if v := b.graph.StreamValve(); v != nil {
		v.SetProperty("drop", false)
	}
	b.streamingOpen.Store(true)
}

// CloseStreaming closes the streaming valve without taking the pipeline out
// of PLAYING (§4.3 "never allowed to take the pipeline out of PLAYING").
// Idempotent.
func (b *BranchController) CloseStreaming() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.streamingOpen.Load() {
		return
	}
	if v := b.graph.StreamValve(); v != nil {
		v.SetProperty("drop", true)
	}
	b.streamingOpen.Store(false)
}

// OpenRecording opens the recording valve. Fails without touching the valve
// if the Rotator has not validated an output path (§4.3 edge case).
func (b *BranchController) OpenRecording() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recordingOpen.Load() {
		return nil
	}
	if !b.recordingPathReady.Load() {
		return fmt.Errorf("cannot open recording branch: no validated output path")
	}
	if v := b.graph.RecordValve(); v != nil {
		v.SetProperty("drop", false)
	}
	b.recordingOpen.Store(true)
	return nil
}

// CloseRecording closes the recording valve without taking the pipeline out
// of PLAYING. Idempotent.
func (b *BranchController) CloseRecording() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.recordingOpen.Load() {
		return
	}
	if v := b.graph.RecordValve(); v != nil {
		v.SetProperty("drop", true)
	}
	b.recordingOpen.Store(false)
}

// CurrentMode returns the derived mode from the two valve states (§3: "mode
// is a derived projection", never independently stored).
func (b *BranchController) CurrentMode() PipelineMode {
	return DeriveMode(b.streamingOpen.Load(), b.recordingOpen.Load())
}

// SetMode drives the valves to match the requested mode. Never rebuilds the
// graph (INV-Mode-Switch): only valve properties change.
func (b *BranchController) SetMode(mode PipelineMode) error {
	switch mode {
	case ModeStreamingOnly:
		b.OpenStreaming()
		b.CloseRecording()
	case ModeRecordingOnly:
		b.CloseStreaming()
		return b.OpenRecording()
	case ModeBoth:
		b.OpenStreaming()
		return b.OpenRecording()
	case ModeNone:
		b.CloseStreaming()
		b.CloseRecording()
	}
	return nil
}
