//go:build cgo

package nvr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlipMethod(t *testing.T) {
	cases := []struct {
		t    VideoTransform
		want string
	}{
		{VideoTransform{RotationDeg: 90}, "clockwise"},
		{VideoTransform{RotationDeg: 180}, "rotate-180"},
		{VideoTransform{RotationDeg: 270}, "counterclockwise"},
		{VideoTransform{FlipHorizontal: true}, "horizontal-flip"},
		{VideoTransform{FlipVertical: true}, "vertical-flip"},
		{VideoTransform{FlipHorizontal: true, FlipVertical: true}, "rotate-180"},
		{VideoTransform{}, "identity"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, flipMethod(tc.t))
	}
}

func TestMuxerFactory(t *testing.T) {
	assert.Equal(t, "matroskamux", muxerFactory(ContainerMKV))
	assert.Equal(t, "mp4mux", muxerFactory(ContainerMP4))
	assert.Equal(t, "mp4mux", muxerFactory(ContainerFormat("")))
}

func TestValidateARGB(t *testing.T) {
	v, err := validateARGB(0x112233)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xFF112233), v)

	_, err = validateARGB(0xFF000000)
	assert.Error(t, err)
}

func TestOverlayAlignment(t *testing.T) {
	assert.Equal(t, "left", overlayHAlign("top-left"))
	assert.Equal(t, "right", overlayHAlign("bottom-right"))
	assert.Equal(t, "center", overlayHAlign("unknown"))

	assert.Equal(t, "top", overlayVAlign("top-left"))
	assert.Equal(t, "bottom", overlayVAlign("bottom-right"))
}
