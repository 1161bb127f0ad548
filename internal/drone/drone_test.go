package drone

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/mission"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

const homeAltitudeMM = 488000

// fakeAutopilot is a minimal MAVLink autopilot: it streams heartbeat and
// telemetry, acknowledges commands and flies straight up and down.
type fakeAutopilot struct {
	node *gomavlib.Node
	done chan struct{}

	mu       sync.Mutex
	beating  bool
	armed    bool
	relAlt   int32
	target   int32
	commands []common.MessageCommandLong
	respond  func(cmd *common.MessageCommandLong) (common.MAV_RESULT, bool)
}

func startAutopilot(t *testing.T, address string) *fakeAutopilot {
	t.Helper()
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        []gomavlib.EndpointConf{gomavlib.EndpointUDPClient{Address: address}},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      1,
		HeartbeatDisable: true,
	})
	if err != nil {
		t.Fatalf("autopilot node: %v", err)
	}

	ap := &fakeAutopilot{node: node, done: make(chan struct{}), beating: true}
	go ap.run()
	t.Cleanup(func() {
		node.Close()
		close(ap.done)
	})
	return ap
}

func (ap *fakeAutopilot) run() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ap.done:
			return
		case <-ticker.C:
			ap.tick()
		case evt, ok := <-ap.node.Events():
			if !ok {
				return
			}
			if frm, ok := evt.(*gomavlib.EventFrame); ok {
				if cmd, ok := frm.Message().(*common.MessageCommandLong); ok {
					ap.handleCommand(cmd)
				}
			}
		}
	}
}

func (ap *fakeAutopilot) tick() {
	ap.mu.Lock()
	if ap.relAlt < ap.target {
		ap.relAlt = min(ap.relAlt+250, ap.target)
	} else if ap.relAlt > ap.target {
		ap.relAlt = max(ap.relAlt-250, ap.target)
		if ap.relAlt == 0 {
			ap.armed = false
		}
	}
	beating, armed, relAlt := ap.beating, ap.armed, ap.relAlt
	ap.mu.Unlock()

	if !beating {
		return
	}

	var baseMode common.MAV_MODE_FLAG
	if armed {
		baseMode |= common.MAV_MODE_FLAG_SAFETY_ARMED
	}
	landed := common.MAV_LANDED_STATE_ON_GROUND
	if relAlt > 0 {
		landed = common.MAV_LANDED_STATE_IN_AIR
	}
	sensors := common.MAV_SYS_STATUS_SENSOR_3D_GYRO | common.MAV_SYS_STATUS_SENSOR_3D_ACCEL | common.MAV_SYS_STATUS_SENSOR_GPS

	for _, msg := range []message.Message{
		&common.MessageHeartbeat{
			Type:           common.MAV_TYPE_QUADROTOR,
			Autopilot:      common.MAV_AUTOPILOT_PX4,
			BaseMode:       baseMode,
			SystemStatus:   common.MAV_STATE_STANDBY,
			MavlinkVersion: 3,
		},
		&common.MessageSysStatus{
			OnboardControlSensorsPresent: sensors,
			OnboardControlSensorsEnabled: sensors,
			OnboardControlSensorsHealth:  sensors,
		},
		&common.MessageGlobalPositionInt{
			Lat:         473977418,
			Lon:         85455939,
			Alt:         homeAltitudeMM + relAlt,
			RelativeAlt: relAlt,
		},
		&common.MessageHomePosition{
			Latitude:  473977418,
			Longitude: 85455939,
			Altitude:  homeAltitudeMM,
		},
		&common.MessageExtendedSysState{LandedState: landed},
	} {
		ap.node.WriteMessageAll(msg)
	}
}

func (ap *fakeAutopilot) handleCommand(cmd *common.MessageCommandLong) {
	if cmd.Command == common.MAV_CMD_SET_MESSAGE_INTERVAL {
		return
	}

	ap.mu.Lock()
	ap.commands = append(ap.commands, *cmd)
	respond := ap.respond
	ap.mu.Unlock()

	result, send := common.MAV_RESULT_ACCEPTED, true
	if respond != nil {
		result, send = respond(cmd)
	}
	if !send {
		return
	}

	if result == common.MAV_RESULT_ACCEPTED {
		ap.mu.Lock()
		switch cmd.Command {
		case common.MAV_CMD_COMPONENT_ARM_DISARM:
			ap.armed = cmd.Param1 == 1
		case common.MAV_CMD_NAV_TAKEOFF:
			ap.target = int32(cmd.Param7*1000) - homeAltitudeMM
		case common.MAV_CMD_NAV_LAND:
			ap.target = 0
		}
		ap.mu.Unlock()
	}

	ap.node.WriteMessageAll(&common.MessageCommandAck{Command: cmd.Command, Result: result})
}

func (ap *fakeAutopilot) setRespond(fn func(cmd *common.MessageCommandLong) (common.MAV_RESULT, bool)) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.respond = fn
}

func (ap *fakeAutopilot) setBeating(b bool) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	ap.beating = b
}

func (ap *fakeAutopilot) received() []common.MessageCommandLong {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	return append([]common.MessageCommandLong(nil), ap.commands...)
}

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// openPair opens a drone listening on a free port and an autopilot dialing it.
func openPair(t *testing.T, link *Link) (*Drone, *fakeAutopilot) {
	t.Helper()
	port := freePort(t)
	link.Log = quietLog()
	if link.AckTimeout == 0 {
		link.AckTimeout = 200 * time.Millisecond
	}

	v, err := link.Open(context.Background(), fmt.Sprintf("udpin://127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { v.Close() })

	ap := startAutopilot(t, fmt.Sprintf("127.0.0.1:%d", port))
	d := v.(*Drone)
	waitFor(t, d.Telemetry(), "connected", func(s vehicle.State) bool { return s.Connected })
	return d, ap
}

func waitFor(t *testing.T, src vehicle.Source, what string, pred func(vehicle.State) bool) vehicle.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := src.Latest(); ok && pred(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	s, _ := src.Latest()
	t.Fatalf("timed out waiting for %s, last sample %v", what, s)
	return s
}

func TestDroneTelemetryMapping(t *testing.T) {
	d, _ := openPair(t, &Link{})

	s := waitFor(t, d.Telemetry(), "health", func(s vehicle.State) bool {
		return s.GyroCalibrationOK && s.AccelCalibrationOK && s.GlobalPositionOK && s.HomePositionOK
	})
	if s.Armed || s.InAir || s.RelativeAltitude != 0 {
		t.Fatalf("vehicle on the ground reported as %v", s)
	}

	home := d.HomePoint()
	if home == nil || home.Altitude() != 488 {
		t.Fatalf("home position not tracked: %v", home)
	}
}

func TestDroneArmAndTakeoffPX4(t *testing.T) {
	d, ap := openPair(t, &Link{})
	waitFor(t, d.Telemetry(), "home", func(s vehicle.State) bool { return s.HomePositionOK })

	if err := d.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}
	waitFor(t, d.Telemetry(), "armed", func(s vehicle.State) bool { return s.Armed })

	if err := d.Takeoff(context.Background(), 2); err != nil {
		t.Fatalf("takeoff: %v", err)
	}

	cmds := ap.received()
	if len(cmds) != 2 {
		t.Fatalf("want arm and takeoff, got %d commands", len(cmds))
	}
	if cmds[0].Command != common.MAV_CMD_COMPONENT_ARM_DISARM || cmds[0].Param1 != 1 || cmds[0].TargetSystem != 1 {
		t.Fatalf("bad arm command %+v", cmds[0])
	}
	if cmds[1].Command != common.MAV_CMD_NAV_TAKEOFF || math.Abs(float64(cmds[1].Param7)-490) > 0.01 {
		t.Fatalf("takeoff altitude must be AMSL on px4, got %+v", cmds[1])
	}

	waitFor(t, d.Telemetry(), "climb", func(s vehicle.State) bool { return s.InAir && s.RelativeAltitude >= 2 })
}

func TestDroneArduPilotSwitchesToGuided(t *testing.T) {
	d, ap := openPair(t, &Link{Autopilot: ArduPilot})

	if err := d.Arm(context.Background()); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := d.Takeoff(context.Background(), 2); err != nil {
		t.Fatalf("takeoff: %v", err)
	}

	cmds := ap.received()
	if len(cmds) != 3 {
		t.Fatalf("want mode, arm and takeoff, got %d commands", len(cmds))
	}
	if cmds[0].Command != common.MAV_CMD_DO_SET_MODE || cmds[0].Param2 != float32(GUIDED) {
		t.Fatalf("bad mode command %+v", cmds[0])
	}
	if cmds[2].Param7 != 2 {
		t.Fatalf("takeoff altitude must be relative on ardupilot, got %v", cmds[2].Param7)
	}
}

func TestDroneCommandRejected(t *testing.T) {
	tests := []struct {
		result    common.MAV_RESULT
		temporary bool
	}{
		{common.MAV_RESULT_DENIED, false},
		{common.MAV_RESULT_FAILED, false},
		{common.MAV_RESULT_TEMPORARILY_REJECTED, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.result.String(), func(t *testing.T) {
			d, ap := openPair(t, &Link{})
			ap.setRespond(func(*common.MessageCommandLong) (common.MAV_RESULT, bool) { return tc.result, true })

			err := d.Arm(context.Background())

			var rejected *CommandRejectedError
			if !errors.As(err, &rejected) || rejected.Result != tc.result {
				t.Fatalf("want rejection with %s, got %v", tc.result, err)
			}
			if rejected.Temporary() != tc.temporary {
				t.Fatalf("temporary = %v", rejected.Temporary())
			}
			if n := len(ap.received()); n != 1 {
				t.Fatalf("rejected command retransmitted: %d sends", n)
			}
		})
	}
}

func TestDroneRetransmitsWithoutAck(t *testing.T) {
	d, ap := openPair(t, &Link{AckTimeout: 50 * time.Millisecond, CommandAttempts: 3})
	ap.setRespond(func(*common.MessageCommandLong) (common.MAV_RESULT, bool) { return 0, false })

	err := d.Land(context.Background())
	if !errors.Is(err, errs.ErrNoAck) {
		t.Fatalf("want ErrNoAck, got %v", err)
	}

	cmds := ap.received()
	if len(cmds) != 3 {
		t.Fatalf("want 3 transmissions, got %d", len(cmds))
	}
	for i, c := range cmds {
		if c.Confirmation != uint8(i) {
			t.Fatalf("transmission %d has confirmation %d", i, c.Confirmation)
		}
	}
}

func TestDroneCommandCancelled(t *testing.T) {
	d, ap := openPair(t, &Link{AckTimeout: time.Second})
	ap.setRespond(func(*common.MessageCommandLong) (common.MAV_RESULT, bool) { return 0, false })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := d.Arm(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context error, got %v", err)
	}
}

func TestDroneHeartbeatLoss(t *testing.T) {
	d, ap := openPair(t, &Link{HeartbeatTimeout: 150 * time.Millisecond})

	ap.setBeating(false)
	waitFor(t, d.Telemetry(), "disconnect", func(s vehicle.State) bool { return !s.Connected })

	ap.setBeating(true)
	waitFor(t, d.Telemetry(), "reconnect", func(s vehicle.State) bool { return s.Connected })
}

func TestDroneCommandBeforeHeartbeat(t *testing.T) {
	link := &Link{Log: quietLog()}
	v, err := link.Open(context.Background(), fmt.Sprintf("udpin://127.0.0.1:%d", freePort(t)))
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if err := v.Arm(context.Background()); !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

// dialedLink starts the autopilot once the drone side is listening.
type dialedLink struct {
	*Link
	dial func()
}

func (l dialedLink) Open(ctx context.Context, address string) (vehicle.Vehicle, error) {
	v, err := l.Link.Open(ctx, address)
	if err == nil {
		l.dial()
	}
	return v, err
}

func TestMissionOverMAVLink(t *testing.T) {
	address := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	cfg := mission.DefaultConfig()
	cfg.ConnectionTarget = "udpin://" + address
	cfg.HoldDurationSeconds = 0.1
	cfg.PollIntervalSeconds = 0.05

	link := dialedLink{
		Link: &Link{Log: quietLog(), AckTimeout: 200 * time.Millisecond},
		dial: func() { startAutopilot(t, address) },
	}
	seq, err := mission.NewSequencer(cfg, link, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	result := seq.Run(ctx)

	if !result.Succeeded() {
		t.Fatalf("mission over mavlink failed: %v", result.Failure)
	}
}

func TestEndpointFor(t *testing.T) {
	tests := []struct {
		raw  string
		want gomavlib.EndpointConf
	}{
		{"udp://:14540", gomavlib.EndpointUDPServer{Address: ":14540"}},
		{"udpout://10.0.0.2:14550", gomavlib.EndpointUDPClient{Address: "10.0.0.2:14550"}},
		{"tcp://127.0.0.1:5760", gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"}},
		{"tcpin://:5760", gomavlib.EndpointTCPServer{Address: ":5760"}},
		{"serial:///dev/ttyACM0:57600", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: 57600}},
	}

	for _, tc := range tests {
		addr, err := vehicle.ParseAddress(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got := endpointFor(addr); got != tc.want {
			t.Errorf("%s: got %#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestLinkOpenErrors(t *testing.T) {
	link := &Link{Log: quietLog()}
	if _, err := link.Open(context.Background(), "bluetooth://drone"); !errors.Is(err, errs.ErrUnsupportedAddress) {
		t.Fatalf("want ErrUnsupportedAddress, got %v", err)
	}

	link.Autopilot = "betaflight"
	if _, err := link.Open(context.Background(), "udp://:14540"); !errors.Is(err, errs.ErrUnsupportedAutopilot) {
		t.Fatalf("want ErrUnsupportedAutopilot, got %v", err)
	}
}

func TestParseAutopilot(t *testing.T) {
	for in, want := range map[string]Autopilot{"": PX4, "PX4": PX4, " ardupilot ": ArduPilot} {
		if got, err := ParseAutopilot(in); err != nil || got != want {
			t.Errorf("%q: got %q, %v", in, got, err)
		}
	}
	if _, err := ParseAutopilot("inav"); !errors.Is(err, errs.ErrUnsupportedAutopilot) {
		t.Fatalf("want ErrUnsupportedAutopilot, got %v", err)
	}
}

func TestFlightModeString(t *testing.T) {
	if GUIDED.String() != "GUIDED" || FlightMode(99).String() != "MODE_99" {
		t.Fatal("unexpected flight mode names")
	}
}
