package frame

// FrameSizeMap returns the number of bytes a tightly packed frame occupies in
// the given format.
var FrameSizeMap = map[Format]frameSizeFunc{
	FormatI420: frameSizeI420,
	FormatNV21: frameSizeNV21,
	FormatNV12: frameSizeNV21, // NV12 and NV21 have the same frame size
	FormatYUY2: frameSizeYUY2,
	FormatUYVY: frameSizeYUY2,
}

type frameSizeFunc func(width, height int) uint

func frameSizeYUY2(width, height int) uint {
	return uint(2 * width * height)
}

func frameSizeI420(width, height int) uint {
	yi := width * height
	cbi := yi + width*height/4
	cri := cbi + width*height/4
	return uint(cri)
}

func frameSizeNV21(width, height int) uint {
	return uint(NV21Size(width, height))
}
