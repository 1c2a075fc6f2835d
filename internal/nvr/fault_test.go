package nvr

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   BusError
		want FaultKind
	}{
		{
			name: "resource no-space is disk full regardless of source",
			in:   BusError{SourceElementName: "muxer", Domain: "resource", Code: codeNoSpace},
			want: FaultDiskFull,
		},
		{
			name: "resource open-read from source is rtsp network",
			in:   BusError{SourceElementName: "source", Domain: "resource", Code: 5},
			want: FaultRTSPNetwork,
		},
		{
			name: "resource write from sink is storage disconnected",
			in:   BusError{SourceElementName: "filesink", Domain: "resource", Code: 10},
			want: FaultStorageDisconnected,
		},
		{
			name: "state-change on sink is storage disconnected",
			in:   BusError{SourceElementName: "muxer", Domain: "state-change"},
			want: FaultStorageDisconnected,
		},
		{
			name: "source name with internal-stream-error message",
			in:   BusError{SourceElementName: "source", Domain: "other", Message: "internal-stream-error"},
			want: FaultRTSPNetwork,
		},
		{
			name: "sink name with no-space-left message",
			in:   BusError{SourceElementName: "record-sink", Domain: "other", Message: "no-space-left"},
			want: FaultStorageDisconnected,
		},
		{
			name: "message substring no space",
			in:   BusError{SourceElementName: "muxer", Message: "", Debug: "no space left on device"},
			want: FaultDiskFull,
		},
		{
			name: "message substring decode from decoder-like source",
			in:   BusError{SourceElementName: "decoder", Message: "could not decode frame"},
			want: FaultDecoder,
		},
		{
			name: "decode message from non-decoder source does not classify as decoder",
			in:   BusError{SourceElementName: "muxer", Message: "could not decode frame"},
			want: FaultUnknown,
		},
		{
			name: "message substring output window",
			in:   BusError{SourceElementName: "sink", Message: "could not create output window"},
			want: FaultVideoSink,
		},
		{
			name: "unknown source name defaults to unknown",
			in:   BusError{SourceElementName: "convert", Message: "something unexpected"},
			want: FaultUnknown,
		},
		{
			name: "unclassified error from the source element falls back to rtsp network",
			in:   BusError{SourceElementName: "source", Message: "something unexpected"},
			want: FaultRTSPNetwork,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.in); got != tc.want {
				t.Errorf("Classify(%+v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}
