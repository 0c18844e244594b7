package driver

// DeviceType represents human readable device type. DeviceType
// can be useful to filter the drivers too.
type DeviceType string

const (
	// Camera represents camera devices
	Camera DeviceType = "camera"
	// Screen represents screen devices
	Screen DeviceType = "screen"
	// Synthetic represents generated test patterns
	Synthetic DeviceType = "synthetic"
	// Command represents external commands writing raw frames
	Command DeviceType = "command"
)
