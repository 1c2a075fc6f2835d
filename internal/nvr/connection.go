//go:build cgo

package nvr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-gst/go-gst/gst"
	"github.com/google/uuid"
)

// ReconnectPolicy carries the backoff schedule and watchdog knobs (§4.6, §6).
type ReconnectPolicy struct {
	CeilingS             int
	MaxAttempts          int
	WatchdogCheckInterval time.Duration
	WatchdogTimeout       time.Duration
}

// delay returns the nth (1-indexed) reconnect backoff delay: 5, 10, 20, 40,
// 60, 60, ... (doubling from 5 s) capped at CeilingS (§4.6, §8 "Backoff boundaries").
func (p ReconnectPolicy) delay(attempt int) time.Duration {
	ceiling := p.CeilingS
	if ceiling <= 0 {
		ceiling = 60
	}
	d := 5
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			d = ceiling
			break
		}
	}
	if d > ceiling {
		d = ceiling
	}
	return time.Duration(d) * time.Second
}

func (p ReconnectPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 10
	}
	return p.MaxAttempts
}

// ConnectionCallbacks are the side effects the state machine needs from its
// owning camera engine, kept narrow so connection.go doesn't know about the
// rotator, branch controller or event bus directly.
type ConnectionCallbacks struct {
	// BuildAndPlay (re)builds the full graph and drives it to PLAYING.
	BuildAndPlay func(ctx context.Context) (*Graph, error)
	// TeardownGraph releases a graph built by BuildAndPlay.
	TeardownGraph func(*Graph)
	// OnConnected fires when CONNECTED is entered.
	OnConnected func()
	// OnDisconnected fires when DISCONNECTED or ERROR is entered.
	OnDisconnected func()
	// AutoResumeRecording is invoked after a stabilization delay on
	// RECONNECTING -> CONNECTED if auto-resume was requested (§4.6,
	// INV-Auto-Resume-Order: OnConnected must complete before this runs).
	AutoResumeRecording func(ctx context.Context)
	// AsyncStopAndReconnect is posted to a worker instead of run inline,
	// avoiding the self-join deadlock §9 calls out.
	AsyncStopAndReconnect func()
}

// ConnectionStateMachine implements §4.6: the camera's connect/disconnect
// lifecycle, reconnect backoff with pre-flight probe, and the frame-flow
// watchdog.
type ConnectionStateMachine struct {
	cameraID string
	policy   ReconnectPolicy
	cb       ConnectionCallbacks
	logger   Logger
	rtspURL  string

	mu               sync.Mutex
	status           ConnectionStatus
	graph            *Graph
	autoResume       atomic.Bool
	reconnectArmed   atomic.Bool
	reconnectAttempt int
	watchdogCancel   context.CancelFunc
	lastBufferAt     atomic.Int64 // unix nanos
	watchdogSuppressed atomic.Bool
	stopTimers       context.CancelFunc
}

// NewConnectionStateMachine constructs the machine for one camera.
func NewConnectionStateMachine(cameraID, rtspURL string, policy ReconnectPolicy, cb ConnectionCallbacks, logger Logger) *ConnectionStateMachine {
	return &ConnectionStateMachine{
		cameraID: cameraID,
		rtspURL:  rtspURL,
		policy:   policy,
		cb:       cb,
		logger:   logger,
		status:   StatusDisconnected,
	}
}

// Status returns the current connection status.
func (c *ConnectionStateMachine) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *ConnectionStateMachine) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Connect drives DISCONNECTED -> CONNECTING -> CONNECTED (§4.6 row 1-2).
func (c *ConnectionStateMachine) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	timerCtx, cancel := context.WithCancel(context.Background())
	c.stopTimers = cancel

	graph, err := c.cb.BuildAndPlay(ctx)
	if err != nil {
		c.transitionToReconnecting(timerCtx, "connect failed: "+err.Error())
		return err
	}

	c.mu.Lock()
	c.graph = graph
	c.status = StatusConnected
	c.mu.Unlock()

	c.reconnectAttempt = 0
	c.startWatchdog(timerCtx)

	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
	return nil
}

// Disconnect implements §4.6's "any -> disconnect() -> DISCONNECTED":
// cancels every timer for this camera, tears down the graph, clears
// auto-resume. After it returns, no timer fires and no observer is called
// for this camera (§8 "Cancellation").
func (c *ConnectionStateMachine) Disconnect() {
	c.mu.Lock()
	if c.stopTimers != nil {
		c.stopTimers()
		c.stopTimers = nil
	}
	graph := c.graph
	c.graph = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.autoResume.Store(false)
	c.reconnectArmed.Store(false)

	if graph != nil && c.cb.TeardownGraph != nil {
		c.cb.TeardownGraph(graph)
	}
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected()
	}
}

// SetAutoResume records whether recording should resume automatically after
// the next successful reconnect (§4.5 RTSP_NETWORK handler sets this).
func (c *ConnectionStateMachine) SetAutoResume(v bool) { c.autoResume.Store(v) }

// NotifyFault is how the Fault Classifier tells the state machine about an
// RTSP_NETWORK fault (§4.6 row "fault classified as RTSP_NETWORK"). The
// actual stop is posted to a worker so the media event loop is never blocked
// or self-joined (§9).
func (c *ConnectionStateMachine) NotifyFault(kind FaultKind) {
	if kind != FaultRTSPNetwork {
		return
	}
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return
	}
	c.status = StatusReconnecting
	c.mu.Unlock()

	if c.cb.AsyncStopAndReconnect != nil {
		c.cb.AsyncStopAndReconnect()
	}
}

// touchFrameClock is called from the decoder src-pad buffer probe (§4.6
// "Frame-flow watchdog") to record the last buffer arrival time.
func (c *ConnectionStateMachine) touchFrameClock() {
	c.lastBufferAt.Store(time.Now().UnixNano())
}

// SetWatchdogSuppressed pauses the frame-flow watchdog while the decoder's
// source pad is expected to see no buffers for a legitimate reason — namely
// RECORDING_ONLY mode, where the streaming valve upstream of the decoder is
// closed by design (§4.3). Re-enabling it touches the frame clock first so a
// timeout isn't measured against buffers that arrived before the suppression.
func (c *ConnectionStateMachine) SetWatchdogSuppressed(suppressed bool) {
	c.watchdogSuppressed.Store(suppressed)
	if !suppressed {
		c.touchFrameClock()
	}
}

// AttachWatchdogProbe installs the frame-flow watchdog's buffer probe on the
// decoder's source pad.
func (c *ConnectionStateMachine) AttachWatchdogProbe(decoderSrcPad *gst.Pad) {
	if decoderSrcPad == nil {
		return
	}
	c.touchFrameClock()
	decoderSrcPad.AddProbe(gst.PadProbeTypeBuffer, func(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		c.touchFrameClock()
		return gst.PadProbeOK
	})
}

func (c *ConnectionStateMachine) startWatchdog(ctx context.Context) {
	interval := c.policy.WatchdogCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := c.policy.WatchdogTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.watchdogSuppressed.Load() {
					continue
				}
				last := c.lastBufferAt.Load()
				if last == 0 {
					continue
				}
				if time.Since(time.Unix(0, last)) >= timeout {
					if c.logger != nil {
						c.logger.Warn("frame-flow watchdog timeout, raising synthetic RTSP_NETWORK fault", "camera_id", c.cameraID)
					}
					c.NotifyFault(FaultRTSPNetwork)
					return
				}
			}
		}
	}()
}

// transitionToReconnecting arms exactly one reconnect timer (§8
// INV-Timer-Unique: duplicate scheduling is a no-op).
func (c *ConnectionStateMachine) transitionToReconnecting(ctx context.Context, reason string) {
	c.mu.Lock()
	c.status = StatusReconnecting
	c.mu.Unlock()

	if !c.reconnectArmed.CompareAndSwap(false, true) {
		return // a reconnect timer is already armed for this camera
	}

	go c.reconnectLoop(ctx)
}

// ScheduleReconnect is the public entry point used after an async
// stop-and-reconnect completes (§9 worker ownership of reconnect timers).
func (c *ConnectionStateMachine) ScheduleReconnect() {
	c.mu.Lock()
	ctx := context.Background()
	if c.stopTimers != nil {
		timerCtx, cancel := context.WithCancel(context.Background())
		c.stopTimers()
		c.stopTimers = cancel
		ctx = timerCtx
	}
	c.mu.Unlock()
	c.transitionToReconnecting(ctx, "fault recovery")
}

func (c *ConnectionStateMachine) reconnectLoop(ctx context.Context) {
	defer c.reconnectArmed.Store(false)

	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			c.reconnectAttempt = attempt

			select {
			case <-ctx.Done():
				return retry.Unrecoverable(ctx.Err())
			default:
			}

			if !c.preflightProbe(ctx) {
				return fmt.Errorf("pre-flight RTSP probe failed (attempt %d)", attempt)
			}

			graph, buildErr := c.cb.BuildAndPlay(ctx)
			if buildErr != nil {
				return fmt.Errorf("graph rebuild failed: %w", buildErr)
			}

			c.mu.Lock()
			c.graph = graph
			c.status = StatusConnected
			c.mu.Unlock()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.policy.maxAttempts())),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.policy.delay(int(n) + 1)
		}),
		retry.LastErrorOnly(true),
	)

	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Error("reconnect attempts exhausted, entering ERROR", "camera_id", c.cameraID, "error", err)
		}
		if c.cb.OnDisconnected != nil {
			c.cb.OnDisconnected()
		}
		return
	}

	c.reconnectAttempt = 0
	c.startWatchdog(ctx)

	if c.cb.OnConnected != nil {
		c.cb.OnConnected() // strictly before any auto-resume, per INV-Auto-Resume-Order
	}

	if c.autoResume.Load() && c.cb.AutoResumeRecording != nil {
		time.Sleep(stabilizationDelay)
		c.cb.AutoResumeRecording(ctx)
	}
}

// stabilizationDelay is the brief pause between CONNECTED and auto-resuming
// recording, per §4.6 "after a short stabilization delay (~1 s)".
const stabilizationDelay = 1 * time.Second

// preflightProbe builds a minimal rtspsrc -> fakesink graph, drives it to
// READY (issuing the RTSP DESCRIBE), waits briefly, and tears it down. A
// cheap signal that avoids a full graph rebuild when the camera is still
// offline (§4.6).
func (c *ConnectionStateMachine) preflightProbe(ctx context.Context) bool {
	name := "preflight-" + uuid.NewString()
	pipeline, err := gst.NewPipeline(name)
	if err != nil {
		return false
	}
	defer pipeline.SetState(gst.StateNull)

	source, err := gst.NewElementWithName("rtspsrc", "probe-source")
	if err != nil {
		return false
	}
	source.SetProperty("location", c.rtspURL)

	sink, err := gst.NewElementWithName("fakesink", "probe-sink")
	if err != nil {
		return false
	}

	if err := pipeline.Add(source, sink); err != nil {
		return false
	}

	if err := pipeline.SetState(gst.StateReady); err != nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-probeCtx.Done():
			return true // READY reached and no error surfaced within the window
		default:
		}
		msg := bus.TimedPop(gst.ClockTime(200 * time.Millisecond))
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageError {
			return false
		}
	}
}
