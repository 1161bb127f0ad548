// Package sim is an in-process vehicle for dry runs: a point mass that
// connects, calibrates, arms, climbs and descends at fixed rates, with knobs
// to inject the failures a real vehicle produces.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/utils"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

const autopilotPeriod = 25 * time.Millisecond // how often the model advances

// Scenario describes the simulated vehicle and the faults it injects.
type Scenario struct {
	ConnectDelay     time.Duration `yaml:"connect_delay"`
	CalibrationDelay time.Duration `yaml:"calibration_delay"`
	ClimbRate        float64       `yaml:"climb_rate"`   // m/s
	DescentRate      float64       `yaml:"descent_rate"` // m/s
	Period           time.Duration `yaml:"period"`

	NeverCalibrate bool `yaml:"never_calibrate"`
	StartArmed     bool `yaml:"start_armed"`
	RejectArm      bool `yaml:"reject_arm"`
	// TemporaryArmRejections is how many arm requests are refused as
	// temporarily rejected before one is accepted.
	TemporaryArmRejections int `yaml:"temporary_arm_rejections"`
	// AltitudeCeiling caps the climb, in meters. Zero means no cap.
	AltitudeCeiling float64 `yaml:"altitude_ceiling"`
	IgnoreLand      bool    `yaml:"ignore_land"`
	// LinkLossAltitude drops the link for good once the vehicle climbs
	// through it. Zero disables it.
	LinkLossAltitude float64 `yaml:"link_loss_altitude"`
}

func DefaultScenario() Scenario {
	return Scenario{
		ConnectDelay:     200 * time.Millisecond,
		CalibrationDelay: 500 * time.Millisecond,
		ClimbRate:        1.0,
		DescentRate:      0.7,
		Period:           autopilotPeriod,
	}
}

// LoadScenario reads a YAML scenario on top of DefaultScenario.
func LoadScenario(path string) (Scenario, error) {
	scn, err := utils.LoadYAML(path, DefaultScenario())
	if err != nil {
		return Scenario{}, err
	}
	return *scn, nil
}

// CommandRejectedError is the simulated vehicle refusing a command.
type CommandRejectedError struct {
	Command string
	Reason  string
	Retry   bool
}

func (e *CommandRejectedError) Error() string {
	return e.Command + " rejected: " + e.Reason
}

func (e *CommandRejectedError) Temporary() bool {
	return e.Retry
}

type Link struct {
	Scenario Scenario
	Log      *logrus.Entry
}

func (l *Link) Open(ctx context.Context, address string) (vehicle.Vehicle, error) {
	addr, err := vehicle.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := l.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	scn := l.Scenario
	if scn.Period <= 0 {
		scn.Period = autopilotPeriod
	}

	v := &Vehicle{
		scn:   scn,
		log:   log.WithFields(logrus.Fields{"component": "sim", "address": addr.String()}),
		feed:  vehicle.NewFeed(),
		armed: scn.StartArmed,
		done:  make(chan struct{}),
	}
	v.wg.Add(1)
	go v.run()

	return v, nil
}

type Vehicle struct {
	scn  Scenario
	log  *logrus.Entry
	feed *vehicle.Feed
	done chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	connected  bool
	linkLost   bool
	calibrated bool
	armed      bool
	altitude   float64
	target     float64
	landing    bool
	rejections int
	closeOnce  sync.Once
}

func (v *Vehicle) Telemetry() vehicle.Source {
	return v.feed
}

func (v *Vehicle) Arm(ctx context.Context) error {
	if err := v.check(ctx, "arm"); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.scn.RejectArm:
		return &CommandRejectedError{Command: "arm", Reason: "pre-arm checks failed"}
	case v.rejections < v.scn.TemporaryArmRejections:
		v.rejections++
		return &CommandRejectedError{Command: "arm", Reason: "vehicle busy", Retry: true}
	}
	v.armed = true
	v.log.Info("Armed")
	return nil
}

func (v *Vehicle) Takeoff(ctx context.Context, altitude float64) error {
	if err := v.check(ctx, "takeoff"); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.armed {
		return &CommandRejectedError{Command: "takeoff", Reason: "vehicle not armed"}
	}
	v.target, v.landing = altitude, false
	v.log.Infof("Taking off to %.2fm", altitude)
	return nil
}

func (v *Vehicle) Land(ctx context.Context) error {
	if err := v.check(ctx, "land"); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.scn.IgnoreLand {
		v.log.Warn("Land accepted but ignored")
		return nil
	}
	v.target, v.landing = 0, true
	v.log.Info("Landing")
	return nil
}

func (v *Vehicle) Close() error {
	v.closeOnce.Do(func() {
		close(v.done)
		v.wg.Wait()
		v.feed.Close()
	})
	return nil
}

// check refuses commands the way an unreachable vehicle would: they never
// get an answer.
func (v *Vehicle) check(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	connected := v.connected && !v.linkLost
	v.mu.Unlock()
	if !connected {
		return errors.Wrapf(errs.ErrNotConnected, "command %s", command)
	}
	return nil
}

func (v *Vehicle) run() {
	defer v.wg.Done()
	ticker := time.NewTicker(v.scn.Period)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-v.done:
			return
		case now := <-ticker.C:
			v.step(now.Sub(start), v.scn.Period.Seconds())
		}
	}
}

// step advances the model by dt seconds and publishes the resulting sample.
func (v *Vehicle) step(elapsed time.Duration, dt float64) {
	v.mu.Lock()
	if !v.connected && elapsed >= v.scn.ConnectDelay {
		v.connected = true
		v.log.Info("Vehicle connected")
	}
	if v.connected && !v.calibrated && !v.scn.NeverCalibrate && elapsed >= v.scn.ConnectDelay+v.scn.CalibrationDelay {
		v.calibrated = true
		v.log.Info("Sensors calibrated")
	}

	switch {
	case v.altitude < v.target:
		v.altitude = min(v.altitude+v.scn.ClimbRate*dt, v.target)
		if v.scn.AltitudeCeiling > 0 {
			v.altitude = min(v.altitude, v.scn.AltitudeCeiling)
		}
	case v.altitude > v.target:
		v.altitude = max(v.altitude-v.scn.DescentRate*dt, v.target)
	}
	if v.landing && v.altitude == 0 && v.armed {
		v.armed = false
		v.log.Info("Touchdown, disarmed")
	}
	if v.scn.LinkLossAltitude > 0 && v.altitude >= v.scn.LinkLossAltitude && !v.linkLost {
		v.linkLost = true
		v.log.Warn("Link lost")
	}

	if !v.connected {
		v.mu.Unlock()
		return
	}
	next := vehicle.State{
		Connected:          !v.linkLost,
		Armed:              v.armed,
		InAir:              v.altitude > 0,
		RelativeAltitude:   v.altitude,
		GyroCalibrationOK:  v.calibrated,
		AccelCalibrationOK: v.calibrated,
		GlobalPositionOK:   v.calibrated,
		HomePositionOK:     v.calibrated,
	}
	v.mu.Unlock()

	v.feed.Update(func(s *vehicle.State) { *s = next })
}
