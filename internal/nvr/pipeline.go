//go:build cgo

package nvr

import (
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
)

// Logger is the narrow logging surface every component in this package takes
// at construction instead of reaching for a global (§9, teacher's
// api/pkg/desktop/video_forwarder.go narrow-logger-interface convention).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Graph owns the single GStreamer pipeline for one camera: source, parse,
// tee, the two branches, and the two valves that gate them. It is built
// exactly once per camera lifecycle instance (§3 invariant) and mode changes
// never touch its topology (INV-Mode-Switch) — only Branch/valve state.
type Graph struct {
	camera Camera
	logger Logger

	pipeline *gst.Pipeline

	streamValve   *gst.Element
	recordValve   *gst.Element
	muxer         *gst.Element
	videoSinkName string

	rotator *Rotator

	mu sync.Mutex
}

// BuildOptions carries the build-time choices the Decoder/Utility layer (§4.1)
// already made, so graph construction is a pure wiring step.
type BuildOptions struct {
	Codec           Codec
	Decoder         DecoderChoice
	VideoSink       string
	ColorimetryShim bool
	Rotator         *Rotator
	RTSPTimeouts    RTSPTimeouts
}

// RTSPTimeouts configures the rtspsrc element.
type RTSPTimeouts struct {
	TCPTimeoutMs    int
	ConnectTimeoutS int
	LatencyMs       int
	RetryCount      int
}

// elementFailure names the element that failed to construct, so callers get
// a structured error instead of a generic one (§4.2 "Failures during
// construction").
type elementFailure struct {
	element string
	err     error
}

func (e *elementFailure) Error() string {
	return fmt.Sprintf("failed to create element %q: %v", e.element, e.err)
}

func (e *elementFailure) Unwrap() error { return e.err }

// BuildGraph constructs the unified media graph described in §4.2:
//
//	rtspsrc -> depay/parse -> tee
//	  -> [queue -> valve -> (colorimetry shim) -> decoder -> convert -> scale
//	      -> (flip) -> (overlay) -> sink]
//	  -> [queue -> valve -> parse -> splitmuxsink]
//
// Both valves are created with drop=true; the Branch Controller opens them
// after the pipeline reaches PLAYING. No partial graph is ever returned: the
// first element-creation failure tears down everything built so far.
func BuildGraph(camera Camera, opts BuildOptions, logger Logger) (*Graph, error) {
	pipeline, err := gst.NewPipeline("camera-" + camera.ID)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline for camera %s: %w", camera.ID, err)
	}

	g := &Graph{camera: camera, logger: logger, pipeline: pipeline, rotator: opts.Rotator}

	built, err := g.assemble(opts)
	if !built || err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, err
	}

	return g, nil
}

func (g *Graph) assemble(opts BuildOptions) (bool, error) {
	make_ := func(factory, name string) (*gst.Element, error) {
		el, err := gst.NewElementWithName(factory, name)
		if err != nil {
			return nil, &elementFailure{element: factory, err: err}
		}
		if err := g.pipeline.Add(el); err != nil {
			return nil, &elementFailure{element: factory, err: err}
		}
		return el, nil
	}

	source, err := make_("rtspsrc", "source")
	if err != nil {
		return false, err
	}
	source.SetProperty("location", g.camera.RTSPURL)
	source.SetProperty("protocols", "tcp")
	source.SetProperty("tcp-timeout", uint64(opts.RTSPTimeouts.TCPTimeoutMs)*1000)
	source.SetProperty("latency", uint(opts.RTSPTimeouts.LatencyMs))
	source.SetProperty("retry", uint(opts.RTSPTimeouts.RetryCount))

	depayFactory, parseFactory := depayParseElements(opts.Codec)
	depay, err := make_(depayFactory, "depay")
	if err != nil {
		return false, err
	}
	parse, err := make_(parseFactory, "parse")
	if err != nil {
		return false, err
	}

	tee, err := make_("tee", "tee")
	if err != nil {
		return false, err
	}
	tee.SetProperty("allow-not-linked", true)

	// rtspsrc exposes its source pad dynamically ("pad-added"); depay/parse/tee
	// are linked eagerly, the dynamic link is wired by the "pad-added" handler
	// connected at the end of this function.
	if err := parse.Link(tee); err != nil {
		return false, &elementFailure{element: "parse->tee", err: err}
	}
	if err := depay.Link(parse); err != nil {
		return false, &elementFailure{element: "depay->parse", err: err}
	}

	if err := g.buildStreamBranch(make_, tee, opts); err != nil {
		return false, err
	}
	if err := g.buildRecordBranch(make_, tee, opts); err != nil {
		return false, err
	}

	source.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil || sinkPad.IsLinked() {
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			if g.logger != nil {
				g.logger.Error("failed to link rtspsrc pad to depay", "camera_id", g.camera.ID, "result", ret)
			}
		}
	})

	return true, nil
}

func depayParseElements(codec Codec) (depay, parse string) {
	if codec == CodecH265 {
		return "rtph265depay", "h265parse"
	}
	return "rtph264depay", "h264parse"
}

type elementMaker func(factory, name string) (*gst.Element, error)

// buildStreamBranch wires: queue -> valve -> (colorimetry shim) -> decoder ->
// convert -> scale -> (flip) -> (overlay) -> sink. The valve starts closed.
func (g *Graph) buildStreamBranch(make_ elementMaker, tee *gst.Element, opts BuildOptions) error {
	queue, err := make_("queue", "stream-queue")
	if err != nil {
		return err
	}
	queue.SetProperty("leaky", 2) // leaky downstream: drop old buffers under backpressure
	queue.SetProperty("max-size-time", uint64(2*1e9))
	queue.SetProperty("max-size-bytes", uint(8*1024*1024))

	valve, err := make_("valve", "stream-valve")
	if err != nil {
		return err
	}
	valve.SetProperty("drop", true)
	g.streamValve = valve

	chain := []*gst.Element{queue, valve}

	if opts.ColorimetryShim {
		shim, err := make_("capsfilter", "colorimetry-shim")
		if err != nil {
			return err
		}
		caps := gst.NewCapsFromString(ColorimetryCapsFilter)
		shim.SetProperty("caps", caps)
		chain = append(chain, shim)
	}

	decoder, err := make_(opts.Decoder.ElementName, "decoder")
	if err != nil {
		return err
	}
	chain = append(chain, decoder)

	convert, err := make_("videoconvert", "convert")
	if err != nil {
		return err
	}
	scale, err := make_("videoscale", "scale")
	if err != nil {
		return err
	}
	chain = append(chain, convert, scale)

	if !g.camera.Transform.IsZero() {
		flip, err := newFlipElement(make_, g.camera.Transform)
		if err != nil {
			if g.logger != nil {
				g.logger.Warn("video transform requested but flip element unavailable, continuing without transform", "camera_id", g.camera.ID, "error", err)
			}
		} else {
			chain = append(chain, flip)
		}
	}

	if g.camera.OSD.Enabled {
		overlay, err := make_("timeoverlay", "overlay")
		if err != nil {
			return err
		}
		if err := configureOverlay(overlay, g.camera.OSD); err != nil {
			return err
		}
		chain = append(chain, overlay)
	}

	sink, err := make_(opts.VideoSink, "sink")
	if err != nil {
		return err
	}
	g.videoSinkName = opts.VideoSink
	chain = append(chain, sink)

	return linkChainFromTee(tee, chain)
}

// buildRecordBranch wires: queue -> valve -> parse -> splitmuxsink. The
// valve starts closed; the muxer's format-location callback is wired to the
// Rotator's naming contract (§4.4).
func (g *Graph) buildRecordBranch(make_ elementMaker, tee *gst.Element, opts BuildOptions) error {
	queue, err := make_("queue", "record-queue")
	if err != nil {
		return err
	}
	queue.SetProperty("leaky", 0) // never drop recorded data; backpressure instead
	queue.SetProperty("max-size-time", uint64(5*1e9))
	queue.SetProperty("max-size-bytes", uint(32*1024*1024))

	valve, err := make_("valve", "record-valve")
	if err != nil {
		return err
	}
	valve.SetProperty("drop", true)
	g.recordValve = valve

	_, parseFactory := depayParseElements(opts.Codec)
	parse, err := make_(parseFactory, "record-parse")
	if err != nil {
		return err
	}

	muxer, err := make_("splitmuxsink", "muxer")
	if err != nil {
		return err
	}
	muxer.SetProperty("max-size-time", uint64(g.camera.RotationMinutes)*60*1e9)

	if g.camera.Container == ContainerMKV {
		muxer.SetProperty("muxer-factory", muxerFactory(g.camera.Container))
	} else {
		// §6 / SPEC_FULL §C: a fragmented moov-at-head layout so a recording
		// terminated mid-segment is still partially playable, not just the
		// last completed one (rotator.go's corrupted-segment policy assumes
		// this). splitmuxsink's muxer-factory alone produces a plain,
		// moov-at-tail mp4mux; building the muxer ourselves and handing it
		// over via the "muxer" property is the only way to set its
		// fragment-duration/faststart properties.
		fragMuxer, err := make_("mp4mux", "record-fragment-muxer")
		if err != nil {
			return err
		}
		fragMuxer.SetProperty("fragment-duration", uint32(1000))
		fragMuxer.SetProperty("faststart", true)
		muxer.SetProperty("muxer", fragMuxer)
	}
	g.muxer = muxer

	if g.rotator != nil {
		muxer.Connect("format-location", func(_ *gst.Element, fragmentID uint) string {
			return g.rotator.NextSegmentPath()
		})
	}

	return linkChainFromTee(tee, []*gst.Element{queue, valve, parse, muxer})
}

func muxerFactory(c ContainerFormat) string {
	if c == ContainerMKV {
		return "matroskamux"
	}
	return "mp4mux"
}

func linkChainFromTee(tee *gst.Element, chain []*gst.Element) error {
	teePad := tee.GetRequestPad("src_%u")
	if teePad == nil {
		return &elementFailure{element: "tee", err: fmt.Errorf("could not request a src pad")}
	}
	firstSink := chain[0].GetStaticPad("sink")
	if firstSink == nil {
		return &elementFailure{element: "tee", err: fmt.Errorf("branch head has no sink pad")}
	}
	if ret := teePad.Link(firstSink); ret != gst.PadLinkOK {
		return &elementFailure{element: "tee", err: fmt.Errorf("linking tee request pad: %v", ret)}
	}
	for i := 0; i+1 < len(chain); i++ {
		if err := chain[i].Link(chain[i+1]); err != nil {
			return &elementFailure{element: chain[i].GetName() + "->" + chain[i+1].GetName(), err: err}
		}
	}
	return nil
}

func newFlipElement(make_ elementMaker, t VideoTransform) (*gst.Element, error) {
	flip, err := make_("videoflip", "flip")
	if err != nil {
		return nil, err
	}
	flip.SetProperty("method", flipMethod(t))
	return flip, nil
}

// flipMethod maps the flip/rotation combination onto videoflip's single
// "method" enum property (§4.2 "flip and rotation map to a single flip-element method").
func flipMethod(t VideoTransform) string {
	switch {
	case t.RotationDeg == 90 && !t.FlipHorizontal && !t.FlipVertical:
		return "clockwise"
	case t.RotationDeg == 180 && !t.FlipHorizontal && !t.FlipVertical:
		return "rotate-180"
	case t.RotationDeg == 270 && !t.FlipHorizontal && !t.FlipVertical:
		return "counterclockwise"
	case t.FlipHorizontal && !t.FlipVertical && t.RotationDeg == 0:
		return "horizontal-flip"
	case t.FlipVertical && !t.FlipHorizontal && t.RotationDeg == 0:
		return "vertical-flip"
	case t.FlipHorizontal && t.FlipVertical:
		return "rotate-180"
	default:
		return "identity"
	}
}

func configureOverlay(overlay *gst.Element, osd OSDConfig) error {
	overlay.SetProperty("time-format", osd.Format)
	overlay.SetProperty("halignment", overlayHAlign(osd.Position))
	overlay.SetProperty("valignment", overlayVAlign(osd.Position))
	overlay.SetProperty("font-desc", fmt.Sprintf("Sans %d", osd.FontSize))

	argb, err := validateARGB(osd.ColorRGB)
	if err != nil {
		return err
	}
	overlay.SetProperty("color", argb)
	return nil
}

// validateARGB converts a configured RGB value into an opaque ARGB (0xFF
// alpha) and rejects anything that doesn't fit 24 bits, per §4.2's "must be
// validated before being passed to the element".
func validateARGB(rgb uint32) (uint32, error) {
	if rgb > 0xFFFFFF {
		return 0, fmt.Errorf("osd color 0x%X exceeds 24-bit RGB range", rgb)
	}
	return 0xFF000000 | rgb, nil
}

func overlayHAlign(position string) string {
	switch position {
	case "top-left", "bottom-left":
		return "left"
	case "top-right", "bottom-right":
		return "right"
	default:
		return "center"
	}
}

func overlayVAlign(position string) string {
	switch position {
	case "top-left", "top-right":
		return "top"
	default:
		return "bottom"
	}
}

// Pipeline exposes the underlying *gst.Pipeline for the Engine to drive
// (SetState to PLAYING in buildAndPlay).
func (g *Graph) Pipeline() *gst.Pipeline { return g.pipeline }

// StreamValve and RecordValve are used by the Branch Controller (§4.3).
func (g *Graph) StreamValve() *gst.Element { return g.streamValve }
func (g *Graph) RecordValve() *gst.Element { return g.recordValve }

// AttachWindowHandle hands the stream-branch sink a native window handle, the
// GUI collaborator's sole write into this package (§1 Non-goals, §4.1
// "exposes a method to attach an opaque native window handle after graph
// creation"). Safe to call any time after BuildGraph returns.
func (g *Graph) AttachWindowHandle(handle uintptr) {
	sink, err := g.pipeline.GetElementByName("sink")
	if err != nil || sink == nil {
		return
	}
	sink.SetProperty("window-handle", uint64(handle))
}

// Destroy releases the pipeline's media resources deterministically (§3 Lifecycle).
func (g *Graph) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pipeline != nil {
		g.pipeline.SetState(gst.StateNull)
	}
}
