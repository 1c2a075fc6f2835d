//go:build !cgo

// Package nvr's pipeline construction requires the go-gst CGO bindings to
// GStreamer. This build-tag pairing lets a !cgo build of this package and of
// internal/config still compile (e.g. for unit tests of the non-media
// components on a host without GStreamer dev headers), but it cannot
// construct or run a real graph. Engine exists only in the cgo build, so
// cmd/camerad itself needs CGO.
package nvr

import (
	"errors"
	"time"
)

// ErrCGORequired is returned by BuildGraph when compiled without CGO.
var ErrCGORequired = errors.New("camera pipeline requires CGO (GStreamer bindings)")

// Logger is the narrow logging surface every component in this package takes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Graph is a non-functional stand-in when CGO is disabled.
type Graph struct{}

// BuildOptions mirrors the cgo build's options shape.
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

// ReconnectPolicy mirrors the cgo build's field shape so internal/config (no
// media dependency of its own) compiles under CGO_ENABLED=0 too.
type ReconnectPolicy struct {
	CeilingS              int
	MaxAttempts           int
	WatchdogCheckInterval time.Duration
	WatchdogTimeout       time.Duration
}

// BuildGraph always fails without CGO.
func BuildGraph(camera Camera, opts BuildOptions, logger Logger) (*Graph, error) {
	return nil, ErrCGORequired
}

func (g *Graph) Pipeline() any             { return nil }
func (g *Graph) StreamValve() any          { return nil }
func (g *Graph) RecordValve() any          { return nil }
func (g *Graph) AttachWindowHandle(uintptr) {}
func (g *Graph) Destroy()                  {}
