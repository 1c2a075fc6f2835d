//go:build !cgo

package nvr

// Codec identifies the depayed/parsed video codec carried by the RTSP stream.
type Codec int

const (
	CodecH264 Codec = iota
	CodecH265
)

func (c Codec) String() string {
	if c == CodecH265 {
		return "h265"
	}
	return "h264"
}

// DecoderChoice is the result of probing for an available decoder element.
type DecoderChoice struct {
	ElementName         string
	HardwareAccelerated bool
}

// ProbeDecoder always fails without CGO: there is no GStreamer registry to query.
func ProbeDecoder(codec Codec, preference []string) (DecoderChoice, error) {
	return DecoderChoice{}, ErrCGORequired
}

// ProbeVideoSink always fails without CGO.
func ProbeVideoSink(chain []string) (string, error) {
	return "", ErrCGORequired
}

// NeedsColorimetryShim mirrors the cgo build's signature for callers that
// only need the decision logic, not the registry probe.
func NeedsColorimetryShim(choice DecoderChoice) bool {
	return choice.HardwareAccelerated && choice.ElementName == "v4l2h264dec"
}

// ColorimetryCapsFilter returns the caps string the shim capsfilter should be
// configured with.
const ColorimetryCapsFilter = "video/x-raw,colorimetry=bt709"
