package mission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

var (
	ErrCancelled = errors.New("mission cancelled by operator")
	ErrLinkLost  = errors.New("vehicle link lost")
)

// LinkError means the link could not be established or was lost.
type LinkError struct {
	Address string
	Err     error
}

func (e *LinkError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("link: %v", e.Err)
	}
	return fmt.Sprintf("link %s: %v", e.Address, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// CommandError means the vehicle rejected (or never acknowledged) a command.
type CommandError struct {
	Command  string
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed after %d attempt(s): %v", e.Command, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Temporary reports whether the vehicle asked for the command to be retried
// later.
func (e *CommandError) Temporary() bool {
	var t interface{ Temporary() bool }
	return errors.As(e.Err, &t) && t.Temporary()
}

// TimeoutError means an exit condition did not hold within its budget. Last
// is the most recent sample seen while waiting, valid when Observed is set.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	Last      vehicle.State
	Observed  bool
}

func (e *TimeoutError) Error() string {
	if !e.Observed {
		return fmt.Sprintf("timed out after %v waiting for %s: no telemetry received", e.Timeout, e.Condition)
	}
	return fmt.Sprintf("timed out after %v waiting for %s (last sample %v)", e.Timeout, e.Condition, e.Last)
}

// ConfigError lists every invalid mission parameter.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid mission config: " + strings.Join(e.Problems, "; ")
}

type FailureKind string

const (
	FailureLink      FailureKind = "link"
	FailureCommand   FailureKind = "command"
	FailureTimeout   FailureKind = "timeout"
	FailureCancelled FailureKind = "cancelled"
	FailureConfig    FailureKind = "config"
)

func classify(err error) FailureKind {
	var (
		commandErr *CommandError
		timeoutErr *TimeoutError
		configErr  *ConfigError
	)
	switch {
	case errors.As(err, &commandErr):
		return FailureCommand
	case errors.As(err, &timeoutErr):
		return FailureTimeout
	case errors.As(err, &configErr):
		return FailureConfig
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return FailureCancelled
	}
	// *LinkError and anything the vehicle layer returned unclassified
	return FailureLink
}

// Failure records why a mission ended in Failed.
type Failure struct {
	Phase Phase       `json:"phase"`
	Kind  FailureKind `json:"kind"`
	Err   error       `json:"-"`
	Cause string      `json:"cause"`

	SafetyLand    bool   `json:"safety_land_attempted"`
	SafetyLandErr error  `json:"-"`
	SafetyCause   string `json:"safety_land_error,omitempty"`
}

func newFailure(phase Phase, err error) *Failure {
	return &Failure{Phase: phase, Kind: classify(err), Err: err, Cause: err.Error()}
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("mission failed in %s (%s): %v", f.Phase, f.Kind, f.Err)
	if f.SafetyLand {
		if f.SafetyLandErr != nil {
			msg += fmt.Sprintf("; safety land failed: %v", f.SafetyLandErr)
		} else {
			msg += "; safety land issued"
		}
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }
