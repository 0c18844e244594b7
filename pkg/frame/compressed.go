package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

const (
	markerDHT = 0xc4
	markerSOS = 0xda
)

// Decode returns MJPEG frames decoded by DecodeMJPEG, with the size of the
// decoded image, and any other frame as is.
func Decode(f *RawFrame) (*RawFrame, error) {
	if f.Format != FormatMJPEG {
		return f, nil
	}
	if len(f.Planes) == 0 {
		return nil, fmt.Errorf("%w: MJPEG without data", ErrUnsupportedFormat)
	}
	return DecodeMJPEG(f.Planes[0].Data)
}

// DecodeMJPEG decodes one MJPEG frame into a planar RawFrame that Repack
// accepts. Webcams commonly leave the Huffman tables out of MJPEG frames; the
// standard tables are inserted for those. Data that doesn't decode is reported
// as ErrUnsupportedFormat.
func DecodeMJPEG(b []byte) (*RawFrame, error) {
	img, err := jpeg.Decode(bytes.NewReader(addMotionDht(b)))
	if err != nil {
		return nil, fmt.Errorf("%w: MJPEG: %v", ErrUnsupportedFormat, err)
	}

	size := img.Bounds().Size()
	f := &RawFrame{Width: size.X, Height: size.Y, Format: FormatYUV420888}
	switch img := img.(type) {
	case *image.YCbCr:
		// Pick the chroma samples of every second pixel and line, whatever
		// the subsampling.
		rowStride, pixelStride := img.CStride, 1
		switch img.SubsampleRatio {
		case image.YCbCrSubsampleRatio420:
		case image.YCbCrSubsampleRatio422:
			rowStride = 2 * img.CStride
		case image.YCbCrSubsampleRatio440:
			pixelStride = 2
		case image.YCbCrSubsampleRatio444:
			rowStride, pixelStride = 2*img.CStride, 2
		default:
			return nil, fmt.Errorf("%w: MJPEG with %s chroma", ErrUnsupportedFormat, img.SubsampleRatio)
		}
		f.Planes = []Plane{
			{Data: img.Y, RowStride: img.YStride, PixelStride: 1},
			{Data: img.Cb, RowStride: rowStride, PixelStride: pixelStride},
			{Data: img.Cr, RowStride: rowStride, PixelStride: pixelStride},
		}
	case *image.Gray:
		gray := make([]byte, (size.X/2)*(size.Y/2))
		for i := range gray {
			gray[i] = 128
		}
		f.Planes = []Plane{
			{Data: img.Pix, RowStride: img.Stride, PixelStride: 1},
			{Data: gray, RowStride: size.X / 2, PixelStride: 1},
			{Data: gray, RowStride: size.X / 2, PixelStride: 1},
		}
	default:
		return nil, fmt.Errorf("%w: MJPEG decoded to %T", ErrUnsupportedFormat, img)
	}
	return f, nil
}

// addMotionDht returns frame with the standard Huffman tables inserted in
// front of the scan when it has none of its own. Frames that don't parse are
// returned as they are.
func addMotionDht(frame []byte) []byte {
	if len(frame) < 4 || frame[0] != 0xff || frame[1] != 0xd8 {
		return frame
	}
	for i := 2; i+4 <= len(frame); {
		if frame[i] != 0xff {
			return frame
		}
		switch frame[i+1] {
		case markerDHT:
			return frame
		case markerSOS:
			out := make([]byte, 0, len(frame)+len(motionDHT))
			out = append(out, frame[:i]...)
			out = append(out, motionDHT...)
			return append(out, frame[i:]...)
		}
		i += 2 + (int(frame[i+2])<<8 | int(frame[i+3]))
	}
	return frame
}

// motionDHT is a DHT segment carrying the tables of ITU T.81 Annex K.3.
var motionDHT = func() []byte {
	tables := []struct {
		class  byte
		counts [16]byte
		values []byte
	}{
		{0x00, [16]byte{0, 1, 5, 1, 1, 1, 1, 1, 1}, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{0x10, [16]byte{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125}, []byte{
			0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
			0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
			0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
			0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
			0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
			0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
			0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
			0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
			0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
			0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
			0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
			0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
			0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
			0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
			0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
			0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
			0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
			0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
			0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
			0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		}},
		{0x01, [16]byte{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1}, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{0x11, [16]byte{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119}, []byte{
			0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
			0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
			0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
			0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
			0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
			0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
			0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
			0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
			0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
			0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
			0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
			0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
			0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
			0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
			0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
			0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
			0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
			0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
			0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
			0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		}},
	}

	length := 2
	for _, t := range tables {
		length += 1 + len(t.counts) + len(t.values)
	}
	seg := []byte{0xff, markerDHT, byte(length >> 8), byte(length)}
	for _, t := range tables {
		seg = append(seg, t.class)
		seg = append(seg, t.counts[:]...)
		seg = append(seg, t.values...)
	}
	return seg
}()
