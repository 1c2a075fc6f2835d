//go:build cgo

package nvr

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-gst/go-gst/gst"
	"golang.org/x/sync/errgroup"
)

// EngineConfig bundles every external knob the Engine needs, replacing the
// source's process-wide configuration singleton (§9).
type EngineConfig struct {
	RecordingRoot            string
	MinFreeGB                float64
	CleanupMaxAge            time.Duration
	CleanupTargetGB          float64
	RTSPTimeouts             RTSPTimeouts
	Reconnect                ReconnectPolicy
	RecordingRetryInterval   time.Duration
	RecordingRetryMaxAttempt int
	VideoSinkChain           []string
}

// Storage is the slice of the Storage Service (§4.8) the Engine consumes.
type Storage interface {
	FreeSpaceGB(path string) (float64, error)
	AutoCleanup(ctx context.Context, root string, maxAge time.Duration, minFreeTargetGB float64) (int, error)
}

// Engine is the pipeline engine for a single camera: it owns the graph, the
// branch controller, the rotator, the connection state machine, the event
// bus, and dispatches classified faults to their handlers (§4.5-§4.7). There
// is exactly one Engine per camera per lifecycle instance (§3).
type Engine struct {
	camera  Camera
	cfg     EngineConfig
	logger  Logger
	storage Storage

	bus    *EventBus
	conn   *ConnectionStateMachine

	mu      sync.Mutex
	graph   *Graph
	branch  *BranchController
	rotator *Rotator

	recordingState      RecordingState
	recordingRetryArmed bool
	recordingRetryStop  context.CancelFunc

	wg errgroup.Group
}

// NewEngine constructs the Engine for one camera. The graph is not built
// until Connect() is called (§3 "instantiated on first connect intent").
func NewEngine(camera Camera, cfg EngineConfig, storage Storage, logger Logger) *Engine {
	e := &Engine{
		camera:  camera,
		cfg:     cfg,
		storage: storage,
		logger:  logger,
		bus:     NewEventBus(camera.ID),
	}

	e.conn = NewConnectionStateMachine(camera.ID, camera.RTSPURL, cfg.Reconnect, ConnectionCallbacks{
		BuildAndPlay:          e.buildAndPlay,
		TeardownGraph:         e.teardownGraph,
		OnConnected:           func() { e.bus.PublishConnected(true) },
		OnDisconnected:        func() { e.bus.PublishConnected(false) },
		AutoResumeRecording:   e.autoResumeRecording,
		AsyncStopAndReconnect: e.asyncStopAndReconnect,
	}, logger)

	return e
}

// RegisterConnectionObserver / RegisterRecordingObserver / Unregister* expose
// the Event/Callback Bus (§4.7) to external collaborators.
func (e *Engine) RegisterConnectionObserver(obs ConnectionObserver) ObserverHandle {
	return e.bus.RegisterConnectionObserver(obs)
}
func (e *Engine) RegisterRecordingObserver(obs RecordingObserver) ObserverHandle {
	return e.bus.RegisterRecordingObserver(obs)
}
func (e *Engine) UnregisterConnectionObserver(h ObserverHandle) { e.bus.UnregisterConnectionObserver(h) }
func (e *Engine) UnregisterRecordingObserver(h ObserverHandle)  { e.bus.UnregisterRecordingObserver(h) }

// Connect implements the `connect` control intent (§6).
func (e *Engine) Connect(ctx context.Context) error {
	return e.conn.Connect(ctx)
}

// Disconnect implements the `disconnect` control intent: deterministic
// release of media resources, timers and callbacks (§3 Lifecycle).
func (e *Engine) Disconnect() {
	e.stopRecordingRetryLoop()
	e.conn.Disconnect()
	e.bus.RemoveAll()
}

// buildAndPlay is ConnectionCallbacks.BuildAndPlay: it probes decoder/sink,
// builds the graph, attaches the watchdog probe, and drives the pipeline to
// PLAYING.
func (e *Engine) buildAndPlay(ctx context.Context) (*Graph, error) {
	decoder, err := ProbeDecoder(CodecH264, e.camera.DecoderPreference)
	if err != nil {
		return nil, fmt.Errorf("decoder probe: %w", err)
	}
	sinkName, err := ProbeVideoSink(e.cfg.VideoSinkChain)
	if err != nil {
		return nil, fmt.Errorf("video sink probe: %w", err)
	}

	rotator := NewRotator(e.camera.ID, e.cfg.RecordingRoot, e.camera.Container, e, e.logger, nil)

	graph, err := BuildGraph(e.camera, BuildOptions{
		Codec:           CodecH264,
		Decoder:         decoder,
		VideoSink:       sinkName,
		ColorimetryShim: NeedsColorimetryShim(decoder),
		Rotator:         rotator,
		RTSPTimeouts:    e.cfg.RTSPTimeouts,
	}, e.logger)
	if err != nil {
		return nil, err
	}

	branch := NewBranchController(graph)

	if err := graph.Pipeline().SetState(gst.StatePlaying); err != nil {
		graph.Destroy()
		return nil, fmt.Errorf("setting pipeline to PLAYING: %w", err)
	}

	e.mu.Lock()
	e.graph = graph
	e.branch = branch
	e.rotator = rotator
	e.mu.Unlock()

	if decoderEl, derr := graph.pipeline.GetElementByName("decoder"); derr == nil && decoderEl != nil {
		if pad := decoderEl.GetStaticPad("src"); pad != nil {
			e.conn.AttachWatchdogProbe(pad)
		}
	}
	// Both valves start closed (branch.go), so the decoder sees nothing until
	// SetMode opens the streaming branch; keep the watchdog quiet until then.
	e.conn.SetWatchdogSuppressed(true)

	if e.camera.RecordOnStart {
		go func() {
			time.Sleep(stabilizationDelay)
			_ = e.StartRecording()
		}()
	}

	return graph, nil
}

func (e *Engine) teardownGraph(g *Graph) {
	g.Destroy()
	e.mu.Lock()
	if e.graph == g {
		e.graph = nil
		e.branch = nil
	}
	e.mu.Unlock()
}

// asyncStopAndReconnect is ConnectionCallbacks.AsyncStopAndReconnect: posted
// to a worker goroutine instead of running on the media event loop, avoiding
// the self-join deadlock §9 describes.
func (e *Engine) asyncStopAndReconnect() {
	e.wg.Go(func() error {
		e.mu.Lock()
		graph := e.graph
		wasRecording := e.recordingState == RecordingActive
		e.mu.Unlock()

		if wasRecording {
			e.conn.SetAutoResume(true)
			e.setRecordingState(RecordingIdle, ReasonStopRequested)
		}

		if graph != nil {
			e.teardownGraph(graph)
		}

		e.conn.ScheduleReconnect()
		return nil
	})
}

// autoResumeRecording is ConnectionCallbacks.AutoResumeRecording.
func (e *Engine) autoResumeRecording(ctx context.Context) {
	if err := e.StartRecording(); err != nil {
		e.startRecordingRetryLoop(ReasonStorage)
	}
}

// SetMode implements the `set_mode` control intent (§4.3, §6). It also
// suppresses the frame-flow watchdog while RECORDING_ONLY (or NONE) closes
// the streaming valve upstream of the decoder's probed pad, so a healthy
// recording-only camera doesn't see a synthetic reconnect storm (§4.6).
func (e *Engine) SetMode(mode PipelineMode) error {
	e.mu.Lock()
	branch := e.branch
	e.mu.Unlock()
	if branch == nil {
		return fmt.Errorf("camera %s: not connected", e.camera.ID)
	}
	if err := branch.SetMode(mode); err != nil {
		return err
	}
	streamingOpen := mode == ModeStreamingOnly || mode == ModeBoth
	e.conn.SetWatchdogSuppressed(!streamingOpen)
	return nil
}

// StartRecording implements the `start_recording` control intent (§4.4,
// §4.3): pre-flight validates the output directory, then opens the recording
// valve. Returns false (as an error) without touching the valve on any
// validation failure (INV-Recording-Path).
func (e *Engine) StartRecording() error {
	e.mu.Lock()
	branch := e.branch
	e.mu.Unlock()
	if branch == nil {
		return fmt.Errorf("camera %s: not connected", e.camera.ID)
	}

	dir := todaysDir(e.cfg.RecordingRoot, e.camera.ID)
	if err := PreflightValidate(dir, e.cfg.MinFreeGB, e.storage); err != nil {
		branch.SetRecordingPathReady(false)
		return err
	}
	branch.SetRecordingPathReady(true)

	e.mu.Lock()
	rotator := e.rotator
	lastSegment := ""
	if rotator != nil {
		lastSegment = rotator.LastSegment()
	}
	e.mu.Unlock()

	// Corrupted-segment policy: on re-entry to RECORDING, delete the last
	// segment iff it is zero bytes (§4.4).
	if rotator != nil && lastSegment != "" {
		if err := rotator.DeleteIfEmpty(lastSegment); err != nil && e.logger != nil {
			e.logger.Warn("corrupted-segment cleanup failed", "camera_id", e.camera.ID, "error", err)
		}
	}

	if err := branch.OpenRecording(); err != nil {
		return err
	}

	e.setRecordingState(RecordingActive, ReasonNone)
	return nil
}

// StopRecording implements the `stop_recording` control intent by closing
// the recording valve. storageError (true when called from the
// STORAGE_DISCONNECTED fault handler) only selects the reason reported to
// recording observers; neither path asks the muxer to finalize the current
// segment.
func (e *Engine) StopRecording(storageError bool) {
	e.mu.Lock()
	branch := e.branch
	e.mu.Unlock()
	if branch == nil {
		return
	}
	branch.CloseRecording()

	reason := ReasonStopRequested
	if storageError {
		reason = ReasonStorage
	}
	e.setRecordingState(RecordingIdle, reason)
}

func (e *Engine) setRecordingState(s RecordingState, reason RecordingFailureReason) {
	e.mu.Lock()
	e.recordingState = s
	e.mu.Unlock()
	e.bus.PublishRecording(s == RecordingActive, reason)
}

// todaysDir mirrors the directory component of BuildSegmentPath so
// StartRecording can pre-flight-validate the directory a segment would land
// in before the muxer ever asks the Rotator for a path.
func todaysDir(root, cameraID string) string {
	return filepath.Join(root, cameraID, time.Now().Format(segmentDateLayout))
}

// ScheduleFault implements FaultScheduler: the Rotator's naming callback
// posts STORAGE_DISCONNECTED faults here instead of handling them inline
// (§4.4 "Failure inside the callback").
func (e *Engine) ScheduleFault(be BusError) {
	e.wg.Go(func() error {
		e.HandleFault(be)
		return nil
	})
}

// HandleFault classifies a bus error and dispatches it to its per-fault
// handler (§4.5). Its caller in this package is ScheduleFault's worker; the
// pipeline bus is not watched here, so GStreamer error messages reach this
// method only if an outside caller passes them in. All real work here is
// either synchronous-and-cheap or itself posted to a worker.
func (e *Engine) HandleFault(be BusError) {
	kind := Classify(be)
	switch kind {
	case FaultRTSPNetwork:
		e.conn.NotifyFault(FaultRTSPNetwork)

	case FaultStorageDisconnected:
		e.mu.Lock()
		wasRecording := e.recordingState == RecordingActive
		e.mu.Unlock()
		e.StopRecording(true)
		if wasRecording {
			e.conn.SetAutoResume(true)
			e.startRecordingRetryLoop(ReasonStorage)
		}

	case FaultDiskFull:
		e.handleDiskFull()

	case FaultDecoder:
		if e.logger != nil {
			e.logger.Warn("decoder fault, attempting flush-seek, streaming continues", "camera_id", e.camera.ID, "message", be.Message)
		}
		e.flushSeekDecoder()

	case FaultVideoSink:
		e.mu.Lock()
		branch := e.branch
		e.mu.Unlock()
		if branch != nil {
			branch.CloseStreaming()
		}
		if e.logger != nil {
			e.logger.Error("streaming branch error", "camera_id", e.camera.ID, "message", be.Message)
		}

	default:
		if e.logger != nil {
			e.logger.Debug("unclassified fault ignored", "camera_id", e.camera.ID, "source", be.SourceElementName, "message", be.Message)
		}
	}
}

func (e *Engine) flushSeekDecoder() {
	e.mu.Lock()
	graph := e.graph
	e.mu.Unlock()
	if graph == nil {
		return
	}
	decoder, err := graph.pipeline.GetElementByName("decoder")
	if err != nil || decoder == nil {
		return
	}
	decoder.SeekSimple(gst.FormatTime, gst.SeekFlagFlush, 0)
}

// handleDiskFull implements §4.5's DISK_FULL handler: stop recording, run
// storage cleanup, re-query free space, and either schedule a recording
// retry or surface a terminal callback.
func (e *Engine) handleDiskFull() {
	e.StopRecording(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := e.storage.AutoCleanup(ctx, e.cfg.RecordingRoot, e.cfg.CleanupMaxAge, e.cfg.CleanupTargetGB)
	if err != nil && e.logger != nil {
		e.logger.Error("disk-full cleanup failed", "camera_id", e.camera.ID, "error", err)
	}

	free, err := e.storage.FreeSpaceGB(e.cfg.RecordingRoot)
	if err == nil && free >= e.cfg.CleanupTargetGB {
		e.conn.SetAutoResume(true)
		e.startRecordingRetryLoop(ReasonDiskFull)
		return
	}

	// Terminal "recording disabled" callback (§4.5, §7): fires once per
	// DISK_FULL fault whose cleanup falls short; PublishRecording always
	// delivers ReasonDisabledNoop, even right after a recording=false.
	e.bus.PublishRecording(false, ReasonDisabledNoop)
}

// startRecordingRetryLoop implements §4.6's recording retry loop: retries
// _validate_path -> start_recording every RecordingRetryInterval up to
// RecordingRetryMaxAttempt times (§8 INV-Timer-Unique: at most one per
// camera at any time).
func (e *Engine) startRecordingRetryLoop(reason RecordingFailureReason) {
	e.mu.Lock()
	if e.recordingRetryArmed {
		e.mu.Unlock()
		return
	}
	e.recordingRetryArmed = true
	ctx, cancel := context.WithCancel(context.Background())
	e.recordingRetryStop = cancel
	e.mu.Unlock()

	e.setRecordingState(RecordingRetrying, reason)

	interval := e.cfg.RecordingRetryInterval
	if interval <= 0 {
		interval = 6 * time.Second
	}
	maxAttempts := e.cfg.RecordingRetryMaxAttempt
	if maxAttempts <= 0 {
		maxAttempts = 20
	}

	e.wg.Go(func() error {
		defer func() {
			e.mu.Lock()
			e.recordingRetryArmed = false
			e.mu.Unlock()
		}()

		err := retry.Do(
			func() error { return e.StartRecording() },
			retry.Context(ctx),
			retry.Attempts(uint(maxAttempts)),
			retry.Delay(interval),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil // cancelled by disconnect/stop, not exhaustion
			}
			if e.logger != nil {
				e.logger.Error("recording retry attempts exhausted", "camera_id", e.camera.ID, "error", err)
			}
			e.bus.PublishRecording(false, ReasonDisabledNoop)
			return nil
		}
		e.conn.SetAutoResume(false)
		return nil
	})
}

func (e *Engine) stopRecordingRetryLoop() {
	e.mu.Lock()
	if e.recordingRetryStop != nil {
		e.recordingRetryStop()
		e.recordingRetryStop = nil
	}
	e.mu.Unlock()
}

// Wait blocks until every background worker this engine spawned
// (asyncStopAndReconnect, fault handling, recording retry) has returned.
// cmd/camerad calls it after Disconnect; it has no timeout of its own.
func (e *Engine) Wait() error {
	return e.wg.Wait()
}
