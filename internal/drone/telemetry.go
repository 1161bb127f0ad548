package drone

import (
	"context"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/sirupsen/logrus"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

// inAirFallbackAltitude decides InAir for autopilots that never send
// EXTENDED_SYS_STATE.
const inAirFallbackAltitude = 0.3

// streamedMessages are requested at StreamRate once the vehicle shows up.
var streamedMessages = []message.Message{
	&common.MessageSysStatus{},
	&common.MessageGlobalPositionInt{},
	&common.MessageExtendedSysState{},
	&common.MessageHomePosition{},
}

func (d *Drone) handleFrame(ctx context.Context, evt *gomavlib.EventFrame) {
	if hb, ok := evt.Message().(*common.MessageHeartbeat); ok {
		d.handleHeartbeat(ctx, evt, hb)
		return
	}

	d.mu.Lock()
	target := d.targetSystem
	d.mu.Unlock()
	if target == 0 || evt.SystemID() != target {
		return
	}

	switch msg := evt.Message().(type) {
	case *common.MessageSysStatus:
		health := msg.OnboardControlSensorsHealth
		d.feed.Update(func(s *vehicle.State) {
			s.GyroCalibrationOK = health&common.MAV_SYS_STATUS_SENSOR_3D_GYRO != 0
			s.AccelCalibrationOK = health&common.MAV_SYS_STATUS_SENSOR_3D_ACCEL != 0
			s.GlobalPositionOK = health&common.MAV_SYS_STATUS_SENSOR_GPS != 0
		})
	case *common.MessageGlobalPositionInt:
		ground := wayPointFromInt(msg.Lat, msg.Lon, msg.Alt-msg.RelativeAlt)
		d.mu.Lock()
		d.currentPosition = ground
		extended := d.extendedState
		d.mu.Unlock()

		alt := float64(msg.RelativeAlt) / 1000
		d.feed.Update(func(s *vehicle.State) {
			s.RelativeAltitude = alt
			if !extended {
				s.InAir = s.Armed && alt > inAirFallbackAltitude
			}
		})
	case *common.MessageHomePosition:
		home := wayPointFromInt(msg.Latitude, msg.Longitude, msg.Altitude)
		d.mu.Lock()
		first := d.homePoint == nil
		d.homePoint = home
		d.mu.Unlock()
		if first {
			d.log.WithField("home", home.String()).Info("Home position set")
		}
		d.feed.Update(func(s *vehicle.State) { s.HomePositionOK = true })
	case *common.MessageExtendedSysState:
		if msg.LandedState == common.MAV_LANDED_STATE_UNDEFINED {
			return
		}
		d.mu.Lock()
		d.extendedState = true
		d.mu.Unlock()
		inAir := msg.LandedState != common.MAV_LANDED_STATE_ON_GROUND
		d.feed.Update(func(s *vehicle.State) { s.InAir = inAir })
	case *common.MessageCommandAck:
		d.routeAck(msg)
	}
}

// handleHeartbeat locks onto the first autopilot heartbeat and tracks the
// armed flag and link liveness from then on.
func (d *Drone) handleHeartbeat(ctx context.Context, evt *gomavlib.EventFrame, hb *common.MessageHeartbeat) {
	if hb.Type == common.MAV_TYPE_GCS || hb.Autopilot == common.MAV_AUTOPILOT_INVALID {
		return
	}

	d.mu.Lock()
	first := d.targetSystem == 0
	if first {
		d.targetSystem, d.targetComponent = evt.SystemID(), evt.ComponentID()
	}
	if evt.SystemID() != d.targetSystem {
		d.mu.Unlock()
		return
	}
	d.lastHeartbeat = time.Now()
	d.mu.Unlock()

	if first {
		d.log.WithFields(logrus.Fields{
			"system":    evt.SystemID(),
			"component": evt.ComponentID(),
			"autopilot": hb.Autopilot,
		}).Info("Vehicle found")
		go d.requestStreams(ctx, evt.SystemID(), evt.ComponentID())
	}

	armed := hb.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	if s, ok := d.feed.Latest(); ok && s.Connected && s.Armed == armed {
		return
	}
	if s, ok := d.feed.Latest(); !ok || !s.Connected {
		d.log.Info("Vehicle connected")
	}
	d.feed.Update(func(s *vehicle.State) {
		s.Connected = true
		s.Armed = armed
	})
}

// requestStreams asks the vehicle for the telemetry the mission reads. The
// requests are not acknowledged individually; a vehicle that already streams
// these messages simply keeps doing so.
func (d *Drone) requestStreams(ctx context.Context, sys, comp byte) {
	interval := float32(float64(time.Second/time.Microsecond) / d.opts.StreamRate)
	for _, msg := range streamedMessages {
		if ctx.Err() != nil {
			return
		}
		err := d.node.WriteMessageAll(&common.MessageCommandLong{
			TargetSystem:    sys,
			TargetComponent: comp,
			Command:         common.MAV_CMD_SET_MESSAGE_INTERVAL,
			Param1:          float32(msg.GetID()),
			Param2:          interval,
		})
		if err != nil {
			d.log.WithError(err).Warn("Failed to request telemetry stream")
			return
		}
	}
}
