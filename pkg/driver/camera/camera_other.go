//go:build !linux

package camera

import (
	"fmt"
	"runtime"

	"github.com/webdro/pocketcam/pkg/driver"
)

func init() {
	driver.Manager.Register(Name, driver.Camera, func(string, driver.Property) (driver.Source, error) {
		return nil, fmt.Errorf("camera: V4L2 capture is not available on %s", runtime.GOOS)
	})
}
