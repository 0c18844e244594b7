// Package cmdsource turns any command that writes raw frames to its stdout into
// a video source, e.g.
//
//	ffmpeg -f v4l2 -i /dev/video0 -f rawvideo -pix_fmt yuv420p -
//
// The command gets the capture property as POCKETCAM_* environment variables.
package cmdsource

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/shlex"

	ilogging "github.com/webdro/pocketcam/internal/logging"
	"github.com/webdro/pocketcam/pkg/driver"
)

var (
	errReadTimeout       = errors.New("cmdsource: read timeout")
	errInvalidCommand    = errors.New("cmdsource: invalid command")
	errUnsupportedFormat = errors.New("cmdsource: unsupported frame format, no frame size function found")
	errNotOpened         = errors.New("cmdsource: not opened")
	errBusy              = errors.New("cmdsource: command already running")
)

const stopTimeout = 3 * time.Second

var logger = ilogging.NewLogger("driver/cmdsource")

type cmdSource struct {
	cmdArgs     []string
	readTimeout time.Duration

	mu      sync.Mutex
	opened  bool
	execCmd *exec.Cmd
}

func newCmdSource(command string, readTimeout time.Duration) (cmdSource, error) {
	cmdArgs, err := shlex.Split(command) // split command string on whitespace, respecting quotes & comments
	if err != nil {
		return cmdSource{}, fmt.Errorf("%w: %v", errInvalidCommand, err)
	}
	if len(cmdArgs) == 0 || cmdArgs[0] == "" {
		return cmdSource{}, errInvalidCommand
	}
	return cmdSource{
		cmdArgs:     cmdArgs,
		readTimeout: readTimeout,
	}, nil
}

func (c *cmdSource) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opened = true
	return nil
}

func (c *cmdSource) Close() error {
	c.mu.Lock()
	cmd := c.execCmd
	c.execCmd = nil
	c.opened = false
	c.mu.Unlock()

	return stop(cmd)
}

// command creates the process for one capture run.
func (c *cmdSource) command(env ...string) (*exec.Cmd, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil, errNotOpened
	}
	if c.execCmd != nil {
		return nil, errBusy
	}
	cmd := exec.Command(c.cmdArgs[0], c.cmdArgs[1:]...)
	cmd.Env = append(os.Environ(), env...) // inherit environment variables
	c.execCmd = cmd
	return cmd, nil
}

// release stops cmd unless Close already took it.
func (c *cmdSource) release(cmd *exec.Cmd) error {
	c.mu.Lock()
	if c.execCmd != cmd {
		c.mu.Unlock()
		return nil
	}
	c.execCmd = nil
	c.mu.Unlock()

	return stop(cmd)
}

func stop(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt) // send SIGINT to process to stop it
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Interrupted commands rarely exit cleanly.
			return nil
		}
		return err
	case <-time.After(stopTimeout):
		return cmd.Process.Kill() // command timed out, kill it
	}
}

func propertyEnv(p driver.Property, format string) []string {
	return []string{
		fmt.Sprintf("POCKETCAM_WIDTH=%d", p.Width),
		fmt.Sprintf("POCKETCAM_HEIGHT=%d", p.Height),
		fmt.Sprintf("POCKETCAM_FRAMERATE=%v", p.FrameRate),
		"POCKETCAM_FORMAT=" + format,
	}
}
