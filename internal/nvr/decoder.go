//go:build cgo

package nvr

import (
	"fmt"
	"strings"

	"github.com/go-gst/go-gst/gst"
)

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

// defaultDecoderPreference mirrors the embedded-host bias §4.1 calls for:
// hardware decoders tried first, the software decoder always last as the
// universal fallback. SPEC_FULL.md §C concretizes the element names the
// distilled spec left as "configurable".
var defaultDecoderPreference = map[Codec][]string{
	CodecH264: {"v4l2h264dec", "nvh264dec", "vaapih264dec", "avdec_h264"},
	CodecH265: {"v4l2h265dec", "nvh265dec", "vaapih265dec", "avdec_h265"},
}

// defaultSinkPreference is the platform-ordered video-sink fallback chain.
var defaultSinkPreference = []string{"glimagesink", "xvimagesink", "ximagesink", "autovideosink"}

// DecoderChoice is the result of probing for an available decoder element.
type DecoderChoice struct {
	ElementName string
	HardwareAccelerated bool
}

// isHardwareElement reports whether a decoder factory name refers to a
// hardware-backed decoder, by the naming convention GStreamer decoder plugins
// follow (the software fallback is always the avdec_* family).
func isHardwareElement(name string) bool {
	return !strings.HasPrefix(name, "avdec")
}

// ProbeDecoder iterates preference (falling back to the codec's default list
// if preference is empty) and returns the first element factory installed on
// this host. Pure: performs no pipeline construction, only a factory lookup.
func ProbeDecoder(codec Codec, preference []string) (DecoderChoice, error) {
	candidates := preference
	if len(candidates) == 0 {
		candidates = defaultDecoderPreference[codec]
	}

	for _, name := range candidates {
		if gst.Find(name) != nil {
			return DecoderChoice{ElementName: name, HardwareAccelerated: isHardwareElement(name)}, nil
		}
	}
	return DecoderChoice{}, fmt.Errorf("no available decoder for codec %s among candidates %v", codec, candidates)
}

// ProbeVideoSink returns the first available sink element name in the
// platform fallback chain. chain may be nil to use the built-in default.
func ProbeVideoSink(chain []string) (string, error) {
	candidates := chain
	if len(candidates) == 0 {
		candidates = defaultSinkPreference
	}
	for _, name := range candidates {
		if gst.Find(name) != nil {
			return name, nil
		}
	}
	return "", fmt.Errorf("no available video sink among candidates %v", candidates)
}

// NeedsColorimetryShim reports whether the chosen decoder needs the
// bt709-forcing capsfilter inserted between parse and decode on the
// streaming branch only (§4.1, §9 "legacy runtime compatibility"). It
// returns true for the hardware v4l2h264dec decoder and false for every
// other decoder; it does not query the runtime or driver version.
func NeedsColorimetryShim(choice DecoderChoice) bool {
	return choice.HardwareAccelerated && choice.ElementName == "v4l2h264dec"
}

// ColorimetryCapsFilter returns the caps string the shim capsfilter should be
// configured with.
const ColorimetryCapsFilter = "video/x-raw,colorimetry=bt709"
