package videostream

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a Pipeline.
type State int32

const (
	// Idle has no encoder and no listener.
	Idle State = iota
	// Configuring is building the encoder and opening the listener.
	Configuring
	// WaitingForClient is encoding and listening, no client yet.
	WaitingForClient
	// Streaming is writing access units to the one connected client.
	Streaming
	// Closed has lost its client. Stop returns it to Idle.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case WaitingForClient:
		return "waiting"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrNotIdle is returned by Start unless the pipeline is Idle.
var ErrNotIdle = errors.New("videostream: pipeline is not idle")

// ConfigurationError reports a failure to bring a session up. The pipeline
// stays Idle.
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return "videostream: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
