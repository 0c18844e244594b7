package frame

import "fmt"

// Repack converts a 4:2:0 frame into a freshly allocated NV21 buffer.
//
// Chroma is copied sample by sample through row*RowStride+col*PixelStride,
// independently for U and V, since camera pipelines hand out chroma planes
// with strides that are not reliably block-compatible. Samples that fall
// outside a truncated plane are left as zero.
//
// MJPEG frames are passed through Decode first.
func Repack(f *RawFrame) (NV21, error) {
	f, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, f.Width, f.Height)
	}

	y, u, v, err := splitPlanes(f)
	if err != nil {
		return nil, err
	}

	width, height := f.Width, f.Height
	ySize := width * height
	out := make(NV21, NV21Size(width, height))

	y = normalize(y, width)
	for row := 0; row < height; row++ {
		dst := out[row*width : (row+1)*width]
		start := row * y.RowStride
		if start >= len(y.Data) {
			break
		}
		if y.PixelStride == 1 {
			copy(dst, y.Data[start:min(start+width, len(y.Data))])
			continue
		}
		for col := range dst {
			i := start + col*y.PixelStride
			if i >= len(y.Data) {
				break
			}
			dst[col] = y.Data[i]
		}
	}

	cw, ch := width/2, height/2
	u = normalize(u, cw)
	v = normalize(v, cw)
	pos := ySize
	for row := 0; row < ch; row++ {
		for col := 0; col < cw; col++ {
			// NV21: V first, then U
			if i := row*v.RowStride + col*v.PixelStride; i < len(v.Data) {
				out[pos] = v.Data[i]
			}
			if i := row*u.RowStride + col*u.PixelStride; i < len(u.Data) {
				out[pos+1] = u.Data[i]
			}
			pos += 2
		}
	}

	return out, nil
}

// splitPlanes resolves the luma, Cb (U) and Cr (V) planes of f.
func splitPlanes(f *RawFrame) (y, u, v Plane, err error) {
	n := len(f.Planes)
	switch f.Format {
	case FormatYUV420888:
		if n == 3 {
			return f.Planes[0], f.Planes[1], f.Planes[2], nil
		}
	case FormatI420:
		switch n {
		case 3:
			return f.Planes[0], f.Planes[1], f.Planes[2], nil
		case 1:
			p := f.Planes[0]
			stride := p.RowStride
			if stride <= 0 {
				stride = f.Width
			}
			cStride := stride / 2
			ySize := stride * f.Height
			cSize := cStride * (f.Height / 2)
			y = Plane{Data: p.Data, RowStride: stride, PixelStride: 1}
			u = Plane{Data: tail(p.Data, ySize), RowStride: cStride, PixelStride: 1}
			v = Plane{Data: tail(p.Data, ySize+cSize), RowStride: cStride, PixelStride: 1}
			return y, u, v, nil
		}
	case FormatNV12, FormatNV21:
		switch n {
		case 3:
			return f.Planes[0], f.Planes[1], f.Planes[2], nil
		case 2:
			c := f.Planes[1]
			ps := c.PixelStride
			if ps <= 0 {
				ps = 2
			}
			first := Plane{Data: c.Data, RowStride: c.RowStride, PixelStride: ps}
			second := Plane{Data: tail(c.Data, 1), RowStride: c.RowStride, PixelStride: ps}
			if f.Format == FormatNV12 {
				return f.Planes[0], first, second, nil
			}
			return f.Planes[0], second, first, nil
		}
	default:
		return y, u, v, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}

	return y, u, v, fmt.Errorf("%w: %s with %d planes", ErrUnsupportedFormat, f.Format, n)
}

// normalize fills in missing strides, assuming a tightly packed plane with
// samplesPerRow samples per row.
func normalize(p Plane, samplesPerRow int) Plane {
	if p.PixelStride <= 0 {
		p.PixelStride = 1
	}
	if p.RowStride <= 0 {
		p.RowStride = samplesPerRow * p.PixelStride
	}
	return p
}

func tail(b []byte, off int) []byte {
	if off >= len(b) {
		return nil
	}
	return b[off:]
}
