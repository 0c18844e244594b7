package frame

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// planarFrame builds a 3-plane frame whose luma samples are row*width+col,
// U samples are 0x40+k and V samples are 0xA0+k (k is the chroma index).
// rowPad adds unused bytes at the end of every row.
func planarFrame(width, height, rowPad int) *RawFrame {
	yStride := width + rowPad
	y := make([]byte, yStride*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			y[row*yStride+col] = byte(row*width + col)
		}
	}

	cw, ch := width/2, height/2
	cStride := cw + rowPad
	u := make([]byte, cStride*ch)
	v := make([]byte, cStride*ch)
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			k := row*cw + col
			u[row*cStride+col] = byte(0x40 + k)
			v[row*cStride+col] = byte(0xA0 + k)
		}
	}

	return &RawFrame{
		Width:  width,
		Height: height,
		Format: FormatYUV420888,
		Planes: []Plane{
			{Data: y, RowStride: yStride, PixelStride: 1},
			{Data: u, RowStride: cStride, PixelStride: 1},
			{Data: v, RowStride: cStride, PixelStride: 1},
		},
	}
}

// semiPlanarFrame builds the same samples as planarFrame but stores chroma
// interleaved U,V in one buffer, exposed as two views with pixel stride 2.
func semiPlanarFrame(width, height, rowPad int) (*RawFrame, []byte) {
	ref := planarFrame(width, height, 0)
	cw, ch := width/2, height/2
	cStride := width + rowPad
	uv := make([]byte, cStride*ch)
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			k := row*cw + col
			uv[row*cStride+2*col] = ref.Planes[1].Data[k]
			uv[row*cStride+2*col+1] = ref.Planes[2].Data[k]
		}
	}

	f := &RawFrame{
		Width:  width,
		Height: height,
		Format: FormatYUV420888,
		Planes: []Plane{
			ref.Planes[0],
			{Data: uv, RowStride: cStride, PixelStride: 2},
			{Data: uv[1:], RowStride: cStride, PixelStride: 2},
		},
	}
	return f, uv
}

func expectedNV21(width, height int) NV21 {
	ref := planarFrame(width, height, 0)
	out := make(NV21, 0, NV21Size(width, height))
	out = append(out, ref.Planes[0].Data...)
	for k := range ref.Planes[1].Data {
		out = append(out, ref.Planes[2].Data[k], ref.Planes[1].Data[k])
	}
	return out
}

func TestRepackLength(t *testing.T) {
	sizes := []struct {
		width, height int
	}{
		{2, 2},
		{4, 2},
		{16, 8},
		{640, 480},
		{7, 5},
	}
	for _, sz := range sizes {
		sz := sz
		t.Run(fmt.Sprintf("%dx%d", sz.width, sz.height), func(t *testing.T) {
			out, err := Repack(planarFrame(sz.width, sz.height, 3))
			require.NoError(t, err)
			ySize := sz.width * sz.height
			assert.Len(t, out, ySize+ySize/2)
		})
	}
}

func TestRepackLayouts(t *testing.T) {
	const (
		width  = 8
		height = 4
	)
	expected := expectedNV21(width, height)

	semi, uv := semiPlanarFrame(width, height, 4)
	nv12 := &RawFrame{
		Width: width, Height: height, Format: FormatNV12,
		Planes: []Plane{semi.Planes[0], {Data: uv, RowStride: width + 4, PixelStride: 2}},
	}

	vu := make([]byte, len(uv))
	for i := 0; i+1 < len(uv); i += 2 {
		vu[i], vu[i+1] = uv[i+1], uv[i]
	}
	nv21 := &RawFrame{
		Width: width, Height: height, Format: FormatNV21,
		Planes: []Plane{semi.Planes[0], {Data: vu, RowStride: width + 4, PixelStride: 2}},
	}

	ref := planarFrame(width, height, 0)
	contiguous := append(append(append([]byte{}, ref.Planes[0].Data...), ref.Planes[1].Data...), ref.Planes[2].Data...)
	i420 := &RawFrame{
		Width: width, Height: height, Format: FormatI420,
		Planes: []Plane{{Data: contiguous, RowStride: width, PixelStride: 1}},
	}

	cases := map[string]*RawFrame{
		"Planar":         planarFrame(width, height, 0),
		"PlanarPadded":   planarFrame(width, height, 5),
		"SemiPlanarView": semi,
		"NV12":           nv12,
		"NV21":           nv21,
		"I420Contiguous": i420,
	}
	for name, f := range cases {
		f := f
		t.Run(name, func(t *testing.T) {
			out, err := Repack(f)
			require.NoError(t, err)
			assert.Equal(t, expected, out)
		})
	}
}

func TestRepackChromaOrder(t *testing.T) {
	const (
		width  = 6
		height = 4
	)
	f := planarFrame(width, height, 2)
	out, err := Repack(f)
	require.NoError(t, err)

	ySize := width * height
	for k := 0; k < ySize/4; k++ {
		if out[ySize+2*k] != byte(0xA0+k) {
			t.Errorf("byte %d: expected V sample %#x, got %#x", ySize+2*k, 0xA0+k, out[ySize+2*k])
		}
		if out[ySize+2*k+1] != byte(0x40+k) {
			t.Errorf("byte %d: expected U sample %#x, got %#x", ySize+2*k+1, 0x40+k, out[ySize+2*k+1])
		}
	}
}

func TestRepackPackedViews(t *testing.T) {
	// YUYV 4:2:2 exposed as 4:2:0 views: chroma is taken from every other line.
	const (
		width  = 4
		height = 2
	)
	line := width * 2
	buf := []byte{
		// Y    U     Y     V     Y     U     Y     V
		0x01, 0x41, 0x02, 0xA1, 0x03, 0x42, 0x04, 0xA2,
		0x05, 0x43, 0x06, 0xA3, 0x07, 0x44, 0x08, 0xA4,
	}
	f := &RawFrame{
		Width:  width,
		Height: height,
		Format: FormatYUV420888,
		Planes: []Plane{
			{Data: buf, RowStride: line, PixelStride: 2},
			{Data: buf[1:], RowStride: 2 * line, PixelStride: 4},
			{Data: buf[3:], RowStride: 2 * line, PixelStride: 4},
		},
	}

	out, err := Repack(f)
	require.NoError(t, err)
	assert.Equal(t, NV21{
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08,
		0xA1, 0x41, 0xA2, 0x42,
	}, out)
}

func TestRepackTruncatedPlanes(t *testing.T) {
	const (
		width  = 8
		height = 4
	)
	f := planarFrame(width, height, 0)
	// Drop the last chroma row of V and half of the luma.
	f.Planes[2].Data = f.Planes[2].Data[:width/2]
	f.Planes[0].Data = f.Planes[0].Data[:width*height/2]

	out, err := Repack(f)
	require.NoError(t, err)
	require.Len(t, out, NV21Size(width, height))

	ySize := width * height
	assert.Equal(t, make([]byte, ySize/2), []byte(out[ySize/2:ySize]), "missing luma rows must stay zero")
	for k := 0; k < ySize/4; k++ {
		if k < width/2 {
			assert.Equal(t, byte(0xA0+k), out[ySize+2*k])
		} else {
			assert.Zero(t, out[ySize+2*k], "V sample %d should be skipped", k)
		}
		assert.Equal(t, byte(0x40+k), out[ySize+2*k+1])
	}
}

func TestRepackErrors(t *testing.T) {
	cases := map[string]struct {
		frame *RawFrame
		err   error
	}{
		"MJPEG": {
			frame: &RawFrame{Width: 2, Height: 2, Format: FormatMJPEG, Planes: []Plane{{Data: []byte{0xff, 0xd8}}}},
			err:   ErrUnsupportedFormat,
		},
		"YUYVPacked": {
			frame: &RawFrame{Width: 2, Height: 2, Format: FormatYUYV, Planes: []Plane{{Data: make([]byte, 8)}}},
			err:   ErrUnsupportedFormat,
		},
		"MissingPlanes": {
			frame: &RawFrame{Width: 2, Height: 2, Format: FormatYUV420888, Planes: []Plane{{Data: make([]byte, 4)}}},
			err:   ErrUnsupportedFormat,
		},
		"ZeroSize": {
			frame: &RawFrame{Width: 0, Height: 2, Format: FormatI420},
			err:   ErrInvalidDimensions,
		},
	}
	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			_, err := Repack(c.frame)
			if !errors.Is(err, c.err) {
				t.Fatalf("expected %v, got %v", c.err, err)
			}
		})
	}
}

func BenchmarkRepack(b *testing.B) {
	sizes := []struct {
		width, height int
	}{
		{640, 480},
		{1920, 1080},
	}
	for _, sz := range sizes {
		sz := sz
		b.Run(fmt.Sprintf("%dx%d", sz.width, sz.height), func(b *testing.B) {
			f, _ := semiPlanarFrame(sz.width, sz.height, 32)
			for i := 0; i < b.N; i++ {
				if _, err := Repack(f); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
