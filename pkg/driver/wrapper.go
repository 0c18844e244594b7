package driver

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

func wrapSource(s Source) Driver {
	return &sourceWrapper{
		Source: s,
		id:     uuid.NewString(),
		state:  StateClosed,
	}
}

// sourceWrapper enforces the closed -> opened -> running lifecycle around a
// Source.
type sourceWrapper struct {
	Source
	id string

	mu    sync.Mutex
	state State
}

func (w *sourceWrapper) ID() string {
	return w.id
}

func (w *sourceWrapper) Status() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *sourceWrapper) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.state.Update(StateOpened, w.Source.Open)
}

func (w *sourceWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateClosed {
		return nil
	}
	return w.state.Update(StateClosed, w.Source.Close)
}

func (w *sourceWrapper) Capture(ctx context.Context, onFrame FrameFunc) error {
	w.mu.Lock()
	err := w.state.Update(StateRunning, func() error { return nil })
	w.mu.Unlock()
	if err != nil {
		return err
	}

	err = w.Source.Capture(ctx, onFrame)

	w.mu.Lock()
	if w.state == StateRunning {
		w.state = StateOpened
	}
	w.mu.Unlock()
	return err
}

// Controller returns the camera controls of the wrapped source, if any.
func (w *sourceWrapper) Controller() (Controller, bool) {
	c, ok := w.Source.(Controller)
	return c, ok
}

// ControllerOf returns the camera controls of s, looking through the wrapper
// the Manager puts around every source.
func ControllerOf(s Source) (Controller, bool) {
	if w, ok := s.(interface{ Controller() (Controller, bool) }); ok {
		return w.Controller()
	}
	c, ok := s.(Controller)
	return c, ok
}
