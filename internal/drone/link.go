package drone

import (
	"context"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

const (
	defaultSystemID         = 255
	defaultAckTimeout       = 5 * time.Second
	defaultCommandAttempts  = 5
	defaultHeartbeatTimeout = 3 * time.Second
	defaultStreamRate       = 4
)

// Link opens MAVLink vehicles. The zero value talks to a PX4 autopilot with
// the usual ground station defaults.
type Link struct {
	Autopilot Autopilot
	// SystemID is our own MAVLink system id.
	SystemID byte
	// AckTimeout bounds the wait for a COMMAND_ACK before the command is
	// retransmitted, CommandAttempts bounds the retransmissions.
	AckTimeout      time.Duration
	CommandAttempts int
	// HeartbeatTimeout is the heartbeat silence after which the vehicle is
	// reported disconnected.
	HeartbeatTimeout time.Duration
	// StreamRate is the telemetry rate in Hz requested from the vehicle.
	StreamRate float64
	Log        *logrus.Entry
}

func (l *Link) Open(ctx context.Context, address string) (vehicle.Vehicle, error) {
	addr, err := vehicle.ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	autopilot := l.Autopilot
	if autopilot == "" {
		autopilot = PX4
	}
	if autopilot != PX4 && autopilot != ArduPilot {
		return nil, errors.Wrapf(errs.ErrUnsupportedAutopilot, "%q", autopilot)
	}

	sysID := l.SystemID
	if sysID == 0 {
		sysID = defaultSystemID
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{endpointFor(addr)},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: sysID,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", addr)
	}

	log := l.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return NewDrone(node, Options{
		Autopilot:        autopilot,
		AckTimeout:       orDuration(l.AckTimeout, defaultAckTimeout),
		CommandAttempts:  orInt(l.CommandAttempts, defaultCommandAttempts),
		HeartbeatTimeout: orDuration(l.HeartbeatTimeout, defaultHeartbeatTimeout),
		StreamRate:       orFloat(l.StreamRate, defaultStreamRate),
		Log:              log.WithFields(logrus.Fields{"component": "drone", "address": addr.String()}),
	}), nil
}

// endpointFor maps a connection target to a gomavlib endpoint. "in" schemes
// listen for the vehicle, "out" schemes dial it.
func endpointFor(addr vehicle.Address) gomavlib.EndpointConf {
	switch addr.Scheme {
	case vehicle.SchemeUDPOut:
		return gomavlib.EndpointUDPClient{Address: addr.HostPort()}
	case vehicle.SchemeTCPIn:
		return gomavlib.EndpointTCPServer{Address: addr.HostPort()}
	case vehicle.SchemeTCPOut:
		return gomavlib.EndpointTCPClient{Address: addr.HostPort()}
	case vehicle.SchemeSerial:
		return gomavlib.EndpointSerial{Device: addr.Device, Baud: addr.Baud}
	}
	return gomavlib.EndpointUDPServer{Address: addr.HostPort()}
}

func orDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
