/*
Package camera provides a V4L2 video camera source.

# Device Label Generation Rules

The device label will be in the format of:

	pci-0000:00:00.0-usb-0:0:0.0-video-index0;video0

If /dev/v4l/by-path/* is not available (for example in a docker container without
bindings in /dev/v4l/by-path/), it will be:

	video0;video0
*/
package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/webdro/pocketcam/pkg/frame"
)

// Name is the kind the source is registered under.
const Name = "camera"

// LabelSeparator is used to separate labels for a device that
// is found from multiple locations on a host.
const LabelSeparator = ";"

// V4L2 pixel formats, see linux/videodev2.h.
const (
	pixFmtYUYV = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	pixFmtNV12 = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	pixFmtNV21 = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	pixFmtYU12 = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	pixFmtUYVY = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24
	pixFmtMJPG = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24
)

// preferredFormats in order. All but MJPEG repack without conversion; MJPEG
// is decoded first and is only used when the camera offers nothing else.
var preferredFormats = []uint32{pixFmtNV12, pixFmtNV21, pixFmtYU12, pixFmtYUYV, pixFmtUYVY, pixFmtMJPG}

var formats = map[uint32]frame.Format{
	pixFmtYU12: frame.FormatI420,
	pixFmtNV12: frame.FormatNV12,
	pixFmtNV21: frame.FormatNV21,
	pixFmtYUYV: frame.FormatYUY2,
	pixFmtUYVY: frame.FormatUYVY,
	pixFmtMJPG: frame.FormatMJPEG,
}

// V4L2 control IDs.
const (
	cidFocusAuto      = 0x009a090c
	cidZoomAbsolute   = 0x009a090d
	cidAutoFocusStart = 0x009a091c
	cidFlashLEDMode   = 0x009c0901

	flashLEDModeNone  = 0
	flashLEDModeTorch = 2
)

// Device is a discovered capture device.
type Device struct {
	Path  string
	Label string
}

// Discover lists devices matching the globs, de-duplicated by their resolved
// path. Earlier globs give the better labels, so pass /dev/v4l/by-path/* first.
func Discover(globs ...string) []Device {
	seen := make(map[string]struct{})
	var devices []Device

	for _, glob := range globs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			real, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			if _, ok := seen[real]; ok {
				continue
			}
			seen[real] = struct{}{}

			devices = append(devices, Device{
				Path:  path,
				Label: filepath.Base(path) + LabelSeparator + filepath.Base(real),
			})
		}
	}
	return devices
}

// DefaultDevices discovers the V4L2 devices of this host.
func DefaultDevices() []Device {
	return Discover("/dev/v4l/by-path/*", "/dev/video*")
}

// planes exposes one captured buffer of the given V4L2 format as a RawFrame.
// stride is the luma bytes per line as reported by the driver.
func planes(pixFmt uint32, b []byte, width, height, stride int) (*frame.RawFrame, error) {
	format, ok := formats[pixFmt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", frame.ErrUnsupportedFormat, fourcc(pixFmt))
	}
	return frame.FromPacked(format, b, width, height, stride)
}

func fourcc(f uint32) string {
	return strings.TrimRight(string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}), "\x00")
}

func devicePath(device string) string {
	if device == "" {
		if devices := DefaultDevices(); len(devices) > 0 {
			return devices[0].Path
		}
		return "/dev/video0"
	}
	if _, err := os.Stat(device); err != nil && !strings.HasPrefix(device, "/") {
		return "/dev/" + device
	}
	return device
}
