package frame

import (
	"image"
	"reflect"
	"testing"
)

func TestNV21YCbCr(t *testing.T) {
	const (
		width  = 4
		height = 2
	)
	input := NV21{
		0x01, 0x02, 0x03, 0x04,
		0x05, 0x06, 0x07, 0x08,
		// V    U     V     U
		0xA1, 0x41, 0xA2, 0x42,
	}
	expected := &image.YCbCr{
		Y:              []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		YStride:        width,
		Cb:             []byte{0x41, 0x42},
		Cr:             []byte{0xA1, 0xA2},
		CStride:        width / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}

	img, err := input.YCbCr(width, height)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(expected, img) {
		t.Errorf("Wrong decode result,\nexpected:\n%+v\ngot:\n%+v", expected, img)
	}
}

func TestNV21YCbCrShortBuffer(t *testing.T) {
	if _, err := NV21(make([]byte, 5)).YCbCr(2, 2); err == nil {
		t.Fatal("expected an error for a short buffer")
	}
}

func TestNV21YCbCrOddSize(t *testing.T) {
	const (
		width  = 3
		height = 3
	)
	img, err := make(NV21, NV21Size(width, height)).YCbCr(width, height)
	if err != nil {
		t.Fatal(err)
	}
	// Every pixel must be addressable, including the last column and row.
	_ = img.YCbCrAt(width-1, height-1)
	if got := len(img.Cb); got != 4 {
		t.Errorf("expected 4 chroma samples, got %d", got)
	}
	if img.Cb[3] != 128 || img.Cr[3] != 128 {
		t.Errorf("uncovered chroma should be neutral, got Cb=%d Cr=%d", img.Cb[3], img.Cr[3])
	}
}
