// Package drone drives a MAVLink vehicle: it turns the autopilot's messages
// into telemetry samples and sends COMMAND_LONG requests with acknowledgement.
package drone

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

type Options struct {
	Autopilot        Autopilot
	AckTimeout       time.Duration
	CommandAttempts  int
	HeartbeatTimeout time.Duration
	StreamRate       float64
	Log              *logrus.Entry
}

type Drone struct {
	node *gomavlib.Node
	opts Options
	log  *logrus.Entry
	feed *vehicle.Feed

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards the link state; cmdMu serialises commands
	mu              sync.Mutex
	targetSystem    byte
	targetComponent byte
	lastHeartbeat   time.Time
	extendedState   bool
	homePoint       *WayPoint
	currentPosition *WayPoint

	cmdMu   sync.Mutex
	ackMu   sync.Mutex
	pending *pendingCommand

	closeOnce sync.Once
}

type pendingCommand struct {
	command common.MAV_CMD
	acks    chan *common.MessageCommandAck
}

// CommandRejectedError is a COMMAND_ACK with a result other than ACCEPTED.
type CommandRejectedError struct {
	Command common.MAV_CMD
	Result  common.MAV_RESULT
}

func (e *CommandRejectedError) Error() string {
	return "command " + e.Command.String() + " rejected: " + e.Result.String()
}

// Temporary reports whether the autopilot asked to try again later.
func (e *CommandRejectedError) Temporary() bool {
	return e.Result == common.MAV_RESULT_TEMPORARILY_REJECTED
}

// NewDrone takes ownership of node and starts reading its events.
func NewDrone(node *gomavlib.Node, opts Options) *Drone {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())

	drone := &Drone{
		node:   node,
		opts:   opts,
		log:    opts.Log,
		feed:   vehicle.NewFeed(),
		cancel: cancel,
	}

	drone.wg.Add(2)
	go drone.monitorEventLog(ctx)
	go drone.watchHeartbeat(ctx)

	return drone
}

func (d *Drone) Telemetry() vehicle.Source {
	return d.feed
}

// Arm arms the motors. On ArduPilot the vehicle is switched to GUIDED first,
// since it refuses a guided takeoff in any other mode.
func (d *Drone) Arm(ctx context.Context) error {
	if d.opts.Autopilot == ArduPilot {
		if err := d.ChangeMode(ctx, GUIDED); err != nil {
			return err
		}
	}

	return d.sendCommand(ctx, &common.MessageCommandLong{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Param1:  1, // 1 to arm, 0 to disarm
	})
}

// Takeoff requests a climb to altitude meters above home.
func (d *Drone) Takeoff(ctx context.Context, altitude float64) error {
	lat, lon := float32(math.NaN()), float32(math.NaN())
	target := altitude

	if d.opts.Autopilot == PX4 {
		home := d.HomePoint()
		if home == nil {
			return errors.New("takeoff: home altitude unknown")
		}
		lat, lon = float32(home.Latitude()), float32(home.Longitude())
		target = home.Altitude() + altitude
	}

	return d.sendCommand(ctx, &common.MessageCommandLong{
		Command: common.MAV_CMD_NAV_TAKEOFF,
		Param4:  float32(math.NaN()), // keep yaw
		Param5:  lat,
		Param6:  lon,
		Param7:  float32(target),
	})
}

func (d *Drone) Land(ctx context.Context) error {
	return d.sendCommand(ctx, &common.MessageCommandLong{
		Command: common.MAV_CMD_NAV_LAND,
		Param2:  float32(common.PRECISION_LAND_MODE_DISABLED),
		Param4:  float32(math.NaN()),
		Param5:  float32(math.NaN()),
		Param6:  float32(math.NaN()),
	})
}

func (d *Drone) ChangeMode(ctx context.Context, mode FlightMode) error {
	d.log.WithField("mode", mode).Info("Changing flight mode")
	return d.sendCommand(ctx, &common.MessageCommandLong{
		Command: common.MAV_CMD_DO_SET_MODE,
		Param1:  float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		Param2:  mode.float32(),
	})
}

// HomePoint is the home position, or the ground level under the vehicle
// until the autopilot reports one.
func (d *Drone) HomePoint() *WayPoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.homePoint != nil {
		return d.homePoint
	}
	return d.currentPosition
}

func (d *Drone) Close() error {
	d.closeOnce.Do(func() {
		// the node is closed first so its event channel keeps draining
		d.node.Close()
		d.cancel()
		d.wg.Wait()
		d.feed.Close()
	})
	return nil
}

// sendCommand writes cmd and waits for its COMMAND_ACK. A missing ack is
// retransmitted with an incremented confirmation; an explicit rejection is
// returned as *CommandRejectedError without retransmitting.
func (d *Drone) sendCommand(ctx context.Context, cmd *common.MessageCommandLong) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	sys, comp := d.targetSystem, d.targetComponent
	d.mu.Unlock()
	if sys == 0 {
		return errors.Wrapf(errs.ErrNotConnected, "command %s", cmd.Command)
	}
	cmd.TargetSystem, cmd.TargetComponent = sys, comp

	pending := &pendingCommand{command: cmd.Command, acks: make(chan *common.MessageCommandAck, 4)}
	d.ackMu.Lock()
	d.pending = pending
	d.ackMu.Unlock()
	defer func() {
		d.ackMu.Lock()
		d.pending = nil
		d.ackMu.Unlock()
	}()

	checkAck := func() (*common.MessageCommandAck, error) {
		exceeded := time.NewTimer(d.opts.AckTimeout)
		defer exceeded.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case ack := <-pending.acks:
				if ack.Result == common.MAV_RESULT_IN_PROGRESS {
					continue
				}
				return ack, nil
			case <-exceeded.C:
				return nil, nil
			}
		}
	}

	for i := 0; i < d.opts.CommandAttempts; i++ {
		cmd.Confirmation = uint8(i)
		if err := d.node.WriteMessageAll(cmd); err != nil {
			return errors.Wrapf(err, "command %s", cmd.Command)
		}
		d.log.Debugf("Command %s sent, attempt %d", cmd.Command, i+1)

		ack, err := checkAck()
		if err != nil {
			return err
		}
		if ack == nil {
			d.log.Warnf("Exceeded timer waiting for ack %s", cmd.Command)
			continue
		}
		if ack.Result != common.MAV_RESULT_ACCEPTED {
			d.log.WithField("result", ack.Result).Warnf("Command %s rejected", cmd.Command)
			return &CommandRejectedError{Command: cmd.Command, Result: ack.Result}
		}
		d.log.Infof("Command %s accepted", cmd.Command)
		return nil
	}

	return errors.Wrapf(errs.ErrNoAck, "command %s after %d attempts", cmd.Command, d.opts.CommandAttempts)
}

func (d *Drone) routeAck(ack *common.MessageCommandAck) {
	d.ackMu.Lock()
	defer d.ackMu.Unlock()
	if d.pending == nil || d.pending.command != ack.Command {
		return
	}
	select {
	case d.pending.acks <- ack:
	default:
	}
}

func (d *Drone) monitorEventLog(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.node.Events():
			if !ok {
				return
			}
			switch evt := evt.(type) {
			case *gomavlib.EventFrame:
				d.handleFrame(ctx, evt)
			case *gomavlib.EventChannelOpen:
				d.log.WithField("channel", evt.Channel).Info("Channel opened")
			case *gomavlib.EventChannelClose:
				d.log.WithField("channel", evt.Channel).Warn("Channel closed")
			}
		}
	}
}

// watchHeartbeat reports the vehicle disconnected once its heartbeat has been
// silent for HeartbeatTimeout.
func (d *Drone) watchHeartbeat(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.HeartbeatTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.mu.Lock()
			last := d.lastHeartbeat
			d.mu.Unlock()
			if last.IsZero() || now.Sub(last) < d.opts.HeartbeatTimeout {
				continue
			}
			if s, ok := d.feed.Latest(); ok && s.Connected {
				d.log.Warnf("No heartbeat for %v, vehicle disconnected", now.Sub(last).Round(time.Millisecond))
				d.feed.Update(func(s *vehicle.State) { s.Connected = false })
			}
		}
	}
}
