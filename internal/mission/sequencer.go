package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

// Sequencer drives one vehicle through one mission. Each phase has an
// optional entry command and an exit condition awaited on telemetry; command
// acceptance alone never completes a phase.
type Sequencer struct {
	cfg  Config
	link vehicle.Link
	obs  Observer
	id   string

	mu    sync.Mutex
	phase Phase
	ran   bool

	vehicle      vehicle.Vehicle
	lastSeq      uint64
	transitions  []Transition
	cancelled    bool
	lastProgress time.Time
}

// NewSequencer validates cfg before anything touches the vehicle.
func NewSequencer(cfg Config, link vehicle.Link, obs Observer) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if link == nil {
		return nil, errors.New("mission: nil vehicle link")
	}
	if obs == nil {
		obs = Observers{}
	}

	return &Sequencer{
		cfg:   cfg,
		link:  link,
		obs:   obs,
		id:    uuid.New().String(),
		phase: Connecting,
	}, nil
}

func (s *Sequencer) ID() string {
	return s.id
}

func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Run executes the mission until Landed or Failed. Cancelling ctx aborts the
// mission; while airborne the abort lands the vehicle instead of abandoning it.
func (s *Sequencer) Run(ctx context.Context) Result {
	result := Result{MissionID: s.id, Started: time.Now().UTC()}

	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		err := errors.New("mission: sequencer already ran")
		result.Phase = Failed
		result.Failure = &Failure{Phase: s.Phase(), Kind: FailureConfig, Err: err, Cause: err.Error()}
		result.Finished = result.Started
		return result
	}
	s.ran = true
	s.mu.Unlock()

	failure := s.run(ctx)

	if s.vehicle != nil {
		if err := s.vehicle.Close(); err != nil {
			ev := newEvent(s.id, EventError, s.Phase())
			ev.Message = "closing vehicle link"
			ev.Err = err.Error()
			s.obs.Observe(ev)
		}
	}

	result.Phase = s.Phase()
	result.Failure = failure
	result.Cancelled = s.cancelled || (failure != nil && failure.Kind == FailureCancelled)
	result.Finished = time.Now().UTC()
	result.Transitions = append([]Transition(nil), s.transitions...)

	ev := newEvent(s.id, EventResult, result.Phase)
	ev.Result = &result
	if failure != nil {
		ev.Err = failure.Error()
	}
	s.obs.Observe(ev)

	return result
}

func (s *Sequencer) run(ctx context.Context) *Failure {
	for {
		phase := s.Phase()
		if phase.Terminal() {
			return nil
		}

		if phase != Holding && ctx.Err() != nil {
			return s.fail(ctx, phase, errors.WithMessagef(ErrCancelled, "before %s: %v", phase, ctx.Err()))
		}

		var (
			sample vehicle.State
			err    error
		)
		switch phase {
		case Connecting:
			sample, err = s.connect(ctx)
		case HealthCheck:
			sample, err = s.await(ctx, phase, "sensor calibration", Healthy(s.cfg.RequirePositionOK))
		case ArmableCheck:
			sample, err = s.await(ctx, phase, "vehicle disarmed", IsDisarmed)
		case Arming:
			if err = s.command(ctx, phase, "arm", s.vehicle.Arm); err == nil {
				sample, err = s.await(ctx, phase, "vehicle armed", IsArmed)
			}
		case TakingOff:
			target := s.cfg.TargetAltitudeMeters
			takeoff := func(ctx context.Context) error { return s.vehicle.Takeoff(ctx, target) }
			if err = s.command(ctx, phase, "takeoff", takeoff); err == nil {
				sample, err = s.await(ctx, phase, fmt.Sprintf("altitude %.2fm", target),
					AltitudeReached(target, s.cfg.AltitudeToleranceMeters))
			}
		case Holding:
			var aborted bool
			sample, aborted, err = s.hold(ctx)
			if aborted {
				// land normally; the operator abort must not cancel the landing itself
				s.cancelled = true
				ctx = context.WithoutCancel(ctx)
			}
		case Landing:
			if err = s.command(ctx, phase, "land", s.vehicle.Land); err == nil {
				sample, err = s.await(ctx, phase, "touchdown", OnGround)
			}
		}

		if err != nil {
			return s.fail(ctx, phase, err)
		}
		s.transition(phase.next(), &sample)
	}
}

func (s *Sequencer) connect(ctx context.Context) (vehicle.State, error) {
	ev := newEvent(s.id, EventCommand, Connecting)
	ev.Command = "connect"
	ev.Message = s.cfg.ConnectionTarget
	s.obs.Observe(ev)

	v, err := s.link.Open(ctx, s.cfg.ConnectionTarget)
	if err != nil {
		if ctx.Err() != nil {
			return vehicle.State{}, errors.WithMessagef(ErrCancelled, "opening link: %v", ctx.Err())
		}
		return vehicle.State{}, &LinkError{Address: s.cfg.ConnectionTarget, Err: err}
	}
	s.vehicle = v

	return s.await(ctx, Connecting, "connection", IsConnected)
}

func (s *Sequencer) await(ctx context.Context, phase Phase, condition string, pred Predicate) (vehicle.State, error) {
	return WaitUntil(ctx, s.vehicle.Telemetry(), pred, WaitOptions{
		Condition:        condition,
		Timeout:          s.cfg.Timeout(phase),
		PollInterval:     s.cfg.PollInterval(),
		After:            s.lastSeq,
		RequireConnected: phase != Connecting,
		OnSample:         s.progress(phase, condition, pred),
	})
}

// progress reports unsatisfied samples, at most once per poll interval.
func (s *Sequencer) progress(phase Phase, condition string, pred Predicate) func(vehicle.State) {
	return func(sample vehicle.State) {
		if pred(sample) || time.Since(s.lastProgress) < s.cfg.PollInterval() {
			return
		}
		s.lastProgress = time.Now()

		ev := newEvent(s.id, EventProgress, phase)
		ev.Message = "waiting for " + condition
		if phase == ArmableCheck && sample.Armed {
			ev.Message = "vehicle already armed, waiting for disarm"
		}
		ev.Sample = &sample
		s.obs.Observe(ev)
	}
}

// command issues an entry action. A rejection is retried only when the
// vehicle flagged it as temporary and the retry budget allows it.
func (s *Sequencer) command(ctx context.Context, phase Phase, name string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		ev := newEvent(s.id, EventCommand, phase)
		ev.Command = name
		ev.Attempt = attempt
		ev.Message = "requested"
		s.obs.Observe(ev)

		err := fn(ctx)
		if err == nil {
			ev := newEvent(s.id, EventCommand, phase)
			ev.Command = name
			ev.Attempt = attempt
			ev.Message = "accepted"
			s.obs.Observe(ev)
			return nil
		}
		if ctx.Err() != nil {
			return errors.WithMessagef(ErrCancelled, "%s command: %v", name, ctx.Err())
		}

		cmdErr := &CommandError{Command: name, Attempts: attempt, Err: err}
		if !cmdErr.Temporary() || attempt > s.cfg.CommandRetries {
			return cmdErr
		}

		retry := newEvent(s.id, EventError, phase)
		retry.Command = name
		retry.Attempt = attempt
		retry.Message = "temporarily rejected, retrying"
		retry.Err = err.Error()
		s.obs.Observe(retry)

		select {
		case <-ctx.Done():
			return errors.WithMessagef(ErrCancelled, "%s command retry: %v", name, ctx.Err())
		case <-time.After(s.cfg.PollInterval()):
		}
	}
}

// hold waits out the hold duration. An operator abort ends the hold early
// and is reported through aborted rather than as an error.
func (s *Sequencer) hold(ctx context.Context) (sample vehicle.State, aborted bool, err error) {
	telemetry := s.vehicle.Telemetry()
	samples, unsubscribe := telemetry.Subscribe()
	defer unsubscribe()

	timer := time.NewTimer(s.cfg.HoldDuration())
	defer timer.Stop()

	ev := newEvent(s.id, EventProgress, Holding)
	ev.Message = fmt.Sprintf("holding position for %v", s.cfg.HoldDuration())
	s.obs.Observe(ev)

	latest := func() vehicle.State {
		l, _ := telemetry.Latest()
		return l
	}

	for {
		select {
		case <-timer.C:
			return latest(), false, nil
		case <-ctx.Done():
			ev := newEvent(s.id, EventProgress, Holding)
			ev.Message = "hold cut short by operator, landing"
			s.obs.Observe(ev)
			return latest(), true, nil
		case sm, ok := <-samples:
			if !ok {
				return sample, false, &LinkError{Err: errors.WithMessage(errs.ErrLinkClosed, "while holding")}
			}
			if sm.Seq >= s.lastSeq && !sm.Connected {
				return sm, false, &LinkError{Err: errors.WithMessage(ErrLinkLost, "while holding")}
			}
			sample = sm
			s.holdProgress(sm)
		}
	}
}

// holdProgress reports the altitude held, at most once per poll interval.
func (s *Sequencer) holdProgress(sample vehicle.State) {
	if time.Since(s.lastProgress) < s.cfg.PollInterval() {
		return
	}
	s.lastProgress = time.Now()

	ev := newEvent(s.id, EventProgress, Holding)
	ev.Message = fmt.Sprintf("holding at %.2f m", sample.RelativeAltitude)
	ev.Sample = &sample
	s.obs.Observe(ev)
}

func (s *Sequencer) fail(ctx context.Context, phase Phase, err error) *Failure {
	f := newFailure(phase, err)

	ev := newEvent(s.id, EventError, phase)
	ev.Message = string(f.Kind)
	ev.Err = err.Error()
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.Observed {
		last := timeoutErr.Last
		ev.Sample = &last
	}
	s.obs.Observe(ev)

	if phase.Airborne() {
		s.safetyLand(ctx, f)
	}

	s.transition(Failed, nil)
	return f
}

// safetyLand is the best-effort recovery for a failure while airborne. It
// runs on a context detached from the mission's so an operator abort cannot
// cancel it. A Landing timeout lands again here on purpose: the vehicle is
// still airborne and a second land request is the only recovery left.
func (s *Sequencer) safetyLand(ctx context.Context, f *Failure) {
	if s.vehicle == nil {
		return
	}
	landCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SafetyLandTimeout())
	defer cancel()

	f.SafetyLand = true
	ev := newEvent(s.id, EventSafety, f.Phase)
	ev.Command = "land"
	ev.Message = "safety landing after " + string(f.Kind) + " failure"
	s.obs.Observe(ev)

	if err := s.vehicle.Land(landCtx); err != nil {
		f.SafetyLandErr = err
		f.SafetyCause = err.Error()

		ev := newEvent(s.id, EventError, f.Phase)
		ev.Command = "land"
		ev.Message = "safety landing failed"
		ev.Err = err.Error()
		s.obs.Observe(ev)
	}
}

func (s *Sequencer) transition(to Phase, sample *vehicle.State) {
	s.mu.Lock()
	from := s.phase
	if from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.phase = to
	s.mu.Unlock()

	t := Transition{From: from, To: to, Time: time.Now().UTC()}
	if sample != nil {
		t.Seq = sample.Seq
		if sample.Seq > s.lastSeq {
			s.lastSeq = sample.Seq
		}
	}
	s.transitions = append(s.transitions, t)

	ev := newEvent(s.id, EventTransition, to)
	ev.Time = t.Time
	ev.From, ev.To = &from, &to
	ev.Sample = sample
	s.obs.Observe(ev)
}
