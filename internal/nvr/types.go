// Package nvr implements the per-camera pipeline engine: graph construction,
// branch control, recording rotation, fault classification and the
// connection state machine that ties them together.
package nvr

import "fmt"

// VideoTransform describes an optional flip/rotation applied on the
// streaming branch only (the recording branch is never transformed, per the
// original's "recordings stay canonical" behavior).
type VideoTransform struct {
	FlipHorizontal bool
	FlipVertical   bool
	RotationDeg    int // one of 0, 90, 180, 270
}

// IsZero reports whether the transform is a no-op.
func (t VideoTransform) IsZero() bool {
	return !t.FlipHorizontal && !t.FlipVertical && t.RotationDeg == 0
}

// OSDConfig configures the optional time overlay drawn on the streaming branch.
type OSDConfig struct {
	Enabled  bool
	Format   string // strftime-style format string
	Position string // e.g. "top-left", "bottom-right"
	ColorRGB uint32 // 0xRRGGBB; converted to opaque ARGB before use
	FontSize int
}

// ContainerFormat selects the recording container and its extension.
type ContainerFormat string

const (
	ContainerMP4 ContainerFormat = "mp4"
	ContainerMKV ContainerFormat = "mkv"
)

// Extension returns the file extension for the container format.
func (c ContainerFormat) Extension() string {
	switch c {
	case ContainerMKV:
		return "mkv"
	default:
		return "mp4"
	}
}

// Camera is the immutable-per-lifecycle description of a single camera.
// It is constructed once from the configuration store and handed to the
// pipeline engine; none of its fields change after the engine starts.
type Camera struct {
	ID                string
	DisplayName       string
	RTSPURL           string
	Enabled           bool
	RecordOnStart     bool
	Transform         VideoTransform
	OSD               OSDConfig
	DecoderPreference []string // empty means use the global default list
	RotationMinutes   int
	Container         ContainerFormat
}

// PipelineMode is a derived projection of the two valve states; it is never
// stored as independent state, only computed from StreamingOpen/RecordingOpen.
type PipelineMode int

const (
	ModeNone PipelineMode = iota
	ModeStreamingOnly
	ModeRecordingOnly
	ModeBoth
)

func (m PipelineMode) String() string {
	switch m {
	case ModeStreamingOnly:
		return "STREAMING_ONLY"
	case ModeRecordingOnly:
		return "RECORDING_ONLY"
	case ModeBoth:
		return "BOTH"
	default:
		return "NONE"
	}
}

// DeriveMode computes the mode from the two valve states.
func DeriveMode(streamingOpen, recordingOpen bool) PipelineMode {
	switch {
	case streamingOpen && recordingOpen:
		return ModeBoth
	case streamingOpen:
		return ModeStreamingOnly
	case recordingOpen:
		return ModeRecordingOnly
	default:
		return ModeNone
	}
}

// ConnectionStatus is the camera's RTSP connection lifecycle state.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusError:
		return "ERROR"
	default:
		return "DISCONNECTED"
	}
}

// RecordingState is the camera's recording lifecycle state.
type RecordingState int

const (
	RecordingIdle RecordingState = iota
	RecordingActive
	RecordingRetrying
)

func (s RecordingState) String() string {
	switch s {
	case RecordingActive:
		return "RECORDING"
	case RecordingRetrying:
		return "RETRYING"
	default:
		return "IDLE"
	}
}

// FaultKind classifies a bus error into one of the recovery buckets §4.5 defines.
type FaultKind int

const (
	FaultUnknown FaultKind = iota
	FaultRTSPNetwork
	FaultStorageDisconnected
	FaultDiskFull
	FaultDecoder
	FaultVideoSink
	FaultRecordingBranch
	FaultStreamingBranch
)

func (k FaultKind) String() string {
	switch k {
	case FaultRTSPNetwork:
		return "RTSP_NETWORK"
	case FaultStorageDisconnected:
		return "STORAGE_DISCONNECTED"
	case FaultDiskFull:
		return "DISK_FULL"
	case FaultDecoder:
		return "DECODER"
	case FaultVideoSink:
		return "VIDEO_SINK"
	case FaultRecordingBranch:
		return "RECORDING_BRANCH"
	case FaultStreamingBranch:
		return "STREAMING_BRANCH"
	default:
		return "UNKNOWN"
	}
}

// BusError is the raw shape a fault is classified from (§4.5).
type BusError struct {
	SourceElementName string
	Domain            string
	Code              int
	Message           string
	Debug             string
}

// RecordingFailureReason annotates a recording=false transition for observers.
type RecordingFailureReason string

const (
	ReasonNone             RecordingFailureReason = ""
	ReasonStorage          RecordingFailureReason = "storage"
	ReasonDiskFull         RecordingFailureReason = "disk_full"
	ReasonDisabledNoop     RecordingFailureReason = "disabled"
	ReasonStopRequested    RecordingFailureReason = "stopped"
)

// PreflightError describes why a path failed pre-flight validation (§4.4).
type PreflightError struct {
	Path   string
	Reason string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight validation failed for %q: %s", e.Path, e.Reason)
}
