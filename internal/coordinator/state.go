// ABOUTME: Per-request provisioning states and the errors that end a request early
// ABOUTME: Terminal states are Rejected, BuildFailed, ConnectionFaulted, TimedOut and Reported

package coordinator

import (
	"errors"
	"fmt"
)

// State is a step in a provisioning request's life.
type State int

const (
	Received State = iota
	Authorized
	Rejected
	Built
	BuildFailed
	Executed
	ConnectionFaulted
	TimedOut
	Reported
)

var stateNames = [...]string{
	Received:          "received",
	Authorized:        "authorized",
	Rejected:          "rejected",
	Built:             "built",
	BuildFailed:       "build_failed",
	Executed:          "executed",
	ConnectionFaulted: "connection_faulted",
	TimedOut:          "timed_out",
	Reported:          "reported",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case Rejected, BuildFailed, ConnectionFaulted, TimedOut, Reported:
		return true
	default:
		return false
	}
}

// ErrInternal replaces a panic raised by a collaborator.
var ErrInternal = errors.New("internal error")

// RemoteCommandError reports that the remote command ran and failed: it exited
// non-zero or wrote to stderr.
type RemoteCommandError struct {
	ExitStatus int
	Stderr     string
}

func (e *RemoteCommandError) Error() string {
	if e.ExitStatus == 0 {
		return "remote command reported errors on stderr"
	}
	return fmt.Sprintf("remote command exited with status %d", e.ExitStatus)
}
