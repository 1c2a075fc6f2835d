package nvr

import "strings"

// Classify implements the three-tier fault classification rule set §4.5
// defines, tried in order until one tier produces a verdict.
func Classify(e BusError) FaultKind {
	if k, ok := classifyByDomainAndCode(e); ok {
		return k
	}
	if k, ok := classifyBySourceNameAndCode(e); ok {
		return k
	}
	if k, ok := classifyByMessage(e); ok {
		return k
	}
	if e.SourceElementName == "source" {
		return FaultRTSPNetwork
	}
	return FaultUnknown
}

// resourceLikeCodes are the domain+code combinations §4.5 tier 1 treats as
// generic resource errors, disambiguated by which element raised them.
var resourceLikeCodes = map[string]bool{
	"open-read":   true,
	"open-write":  true,
	"read":        true,
	"write":       true,
	"not-found":   true,
	"settings":    true,
	"busy":        true,
	"failed":      true,
}

func isSinkLikeName(name string) bool {
	return strings.Contains(name, "sink") || strings.Contains(name, "mux") || strings.Contains(name, "filesink")
}

func classifyByDomainAndCode(e BusError) (FaultKind, bool) {
	switch e.Domain {
	case "resource":
		if e.Code == codeNoSpace {
			return FaultDiskFull, true
		}
		// The Rotator's naming-callback failures (rotator.go) are storage faults.
		if e.SourceElementName == "rotator" {
			return FaultStorageDisconnected, true
		}
		if resourceLikeCodes[e.Message] || resourceLikeCodes[normalizedCode(e.Code)] {
			if isSinkLikeName(e.SourceElementName) || e.SourceElementName == "muxer" || e.SourceElementName == "segmenter" {
				return FaultStorageDisconnected, true
			}
			if e.SourceElementName == "source" {
				return FaultRTSPNetwork, true
			}
		}
	case "state-change":
		if isSinkLikeName(e.SourceElementName) {
			return FaultStorageDisconnected, true
		}
	}
	return FaultUnknown, false
}

// GStreamer's GST_RESOURCE_ERROR_NO_SPACE_LEFT numeric code.
const codeNoSpace = 14

func normalizedCode(code int) string {
	switch code {
	case 5: // GST_RESOURCE_ERROR_OPEN_READ
		return "open-read"
	case 6: // GST_RESOURCE_ERROR_OPEN_WRITE
		return "open-write"
	case 9: // GST_RESOURCE_ERROR_READ
		return "read"
	case 10: // GST_RESOURCE_ERROR_WRITE
		return "write"
	default:
		return ""
	}
}

func classifyBySourceNameAndCode(e BusError) (FaultKind, bool) {
	if e.SourceElementName == "source" {
		switch e.Message {
		case "internal-stream-error", "open-failure", "read-failure", "write-failure":
			return FaultRTSPNetwork, true
		}
	}
	if isSinkLikeName(e.SourceElementName) {
		switch e.Message {
		case "open-failure", "write-failure", "no-space-left", "failed":
			return FaultStorageDisconnected, true
		}
	}
	return FaultUnknown, false
}

func classifyByMessage(e BusError) (FaultKind, bool) {
	msg := strings.ToLower(e.Message + " " + e.Debug)
	switch {
	case strings.Contains(msg, "no space"):
		return FaultDiskFull, true
	case strings.Contains(msg, "decode") && looksLikeDecoderSource(e.SourceElementName):
		return FaultDecoder, true
	case strings.Contains(msg, "output window"):
		return FaultVideoSink, true
	}
	return FaultUnknown, false
}

func looksLikeDecoderSource(name string) bool {
	return strings.Contains(name, "dec") || strings.Contains(name, "decoder")
}
