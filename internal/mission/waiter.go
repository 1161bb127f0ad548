package mission

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/common"
	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

// Predicate is an exit condition over one telemetry sample.
type Predicate func(s vehicle.State) bool

type WaitOptions struct {
	// Condition names the predicate in errors and events.
	Condition    string
	Timeout      time.Duration
	PollInterval time.Duration
	// After discards samples with a lower sequence number.
	After uint64
	// RequireConnected fails the wait with a *LinkError as soon as a sample
	// reports the link down.
	RequireConnected bool
	// OnSample is called with every sample evaluated, before the predicate.
	OnSample func(s vehicle.State)
}

// WaitUntil blocks until pred holds for a sample of src, the timeout expires
// or ctx is cancelled. Samples are evaluated in publication order and the
// first one satisfying pred is returned. It subscribes before looking at the
// latest sample, so a sample published while the wait is being set up is
// never missed, and it re-reads the latest sample on every poll tick once the
// queued samples are consumed.
func WaitUntil(ctx context.Context, src vehicle.Source, pred Predicate, opts WaitOptions) (vehicle.State, error) {
	if opts.Timeout <= 0 {
		return vehicle.State{}, errors.Errorf("wait for %s: timeout must be positive", opts.Condition)
	}

	samples, unsubscribe := src.Subscribe()
	defer unsubscribe()

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()

	var poll <-chan time.Time
	if opts.PollInterval > 0 {
		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	var (
		last     vehicle.State
		observed bool
	)
	evaluate := func(s vehicle.State) (bool, error) {
		if s.Seq < opts.After || (observed && s.Seq <= last.Seq) {
			return false, nil
		}
		last, observed = s, true
		if opts.OnSample != nil {
			opts.OnSample(s)
		}
		if opts.RequireConnected && !s.Connected {
			return false, &LinkError{Err: errors.WithMessagef(ErrLinkLost, "while waiting for %s", opts.Condition)}
		}
		return pred(s), nil
	}

	linkClosed := func() error {
		return &LinkError{Err: errors.WithMessagef(errs.ErrLinkClosed, "while waiting for %s", opts.Condition)}
	}

	// catchUp evaluates the queued samples oldest first, then the latest one.
	// The latest is read before draining: anything published up to it is
	// already queued, so it can never be evaluated ahead of an older sample.
	catchUp := func() (vehicle.State, bool, error) {
		latest, published := src.Latest()
	queued:
		for {
			select {
			case s, ok := <-samples:
				if !ok {
					return last, true, linkClosed()
				}
				if done, err := evaluate(s); err != nil || done {
					return s, true, err
				}
			default:
				break queued
			}
		}
		if published {
			if done, err := evaluate(latest); err != nil || done {
				return latest, true, err
			}
		}
		return last, false, nil
	}

	if s, done, err := catchUp(); done {
		return s, err
	}

	for {
		select {
		case <-ctx.Done():
			return last, errors.WithMessagef(ErrCancelled, "while waiting for %s: %v", opts.Condition, ctx.Err())
		case <-deadline.C:
			return last, &TimeoutError{Condition: opts.Condition, Timeout: opts.Timeout, Last: last, Observed: observed}
		case s, ok := <-samples:
			if !ok {
				return last, linkClosed()
			}
			if done, err := evaluate(s); err != nil || done {
				return s, err
			}
		case <-poll:
			if s, done, err := catchUp(); done {
				return s, err
			}
		}
	}
}

func IsConnected(s vehicle.State) bool { return s.Connected }

func IsArmed(s vehicle.State) bool { return s.Armed }

func IsDisarmed(s vehicle.State) bool { return !s.Armed }

func OnGround(s vehicle.State) bool { return !s.InAir }

// Healthy requires gyro and accelerometer calibration and, when
// requirePosition is set, global and home position estimates.
func Healthy(requirePosition bool) Predicate {
	return func(s vehicle.State) bool {
		if !s.GyroCalibrationOK || !s.AccelCalibrationOK {
			return false
		}
		return !requirePosition || (s.GlobalPositionOK && s.HomePositionOK)
	}
}

// AltitudeReached holds once the relative altitude is within tolerance of
// target or above it. Overshoot is not an error here.
func AltitudeReached(target, tolerance float64) Predicate {
	return func(s vehicle.State) bool {
		return common.WithinTolerance(s.RelativeAltitude, target, tolerance) ||
			common.AtLeast(s.RelativeAltitude, target, tolerance)
	}
}
