package sim

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/mission"
)

func fastScenario() Scenario {
	return Scenario{
		ConnectDelay:     10 * time.Millisecond,
		CalibrationDelay: 20 * time.Millisecond,
		ClimbRate:        20,
		DescentRate:      20,
		Period:           5 * time.Millisecond,
	}
}

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func missionConfig() mission.Config {
	cfg := mission.DefaultConfig()
	cfg.ConnectionTarget = "udp://:14540"
	cfg.HoldDurationSeconds = 0.05
	cfg.PollIntervalSeconds = 0.01
	cfg.PhaseTimeoutSeconds = mission.Timeouts{
		Connecting:   1,
		HealthCheck:  1,
		ArmableCheck: 1,
		Arming:       1,
		TakingOff:    1,
		Landing:      1,
	}
	return cfg
}

func TestSimulatedMissions(t *testing.T) {
	tests := []struct {
		name       string
		scenario   func(s *Scenario)
		config     func(c *mission.Config)
		wantPhase  mission.Phase
		failedIn   mission.Phase
		kind       mission.FailureKind
		safetyLand bool
	}{
		{
			name:      "nominal",
			wantPhase: mission.Landed,
		},
		{
			name:      "sensors never calibrate",
			scenario:  func(s *Scenario) { s.NeverCalibrate = true },
			config:    func(c *mission.Config) { c.PhaseTimeoutSeconds.HealthCheck = 0.2 },
			wantPhase: mission.Failed,
			failedIn:  mission.HealthCheck,
			kind:      mission.FailureTimeout,
		},
		{
			name:      "already armed",
			scenario:  func(s *Scenario) { s.StartArmed = true },
			config:    func(c *mission.Config) { c.PhaseTimeoutSeconds.ArmableCheck = 0.2 },
			wantPhase: mission.Failed,
			failedIn:  mission.ArmableCheck,
			kind:      mission.FailureTimeout,
		},
		{
			name:      "arm rejected",
			scenario:  func(s *Scenario) { s.RejectArm = true },
			wantPhase: mission.Failed,
			failedIn:  mission.Arming,
			kind:      mission.FailureCommand,
		},
		{
			name:      "arm busy then accepted",
			scenario:  func(s *Scenario) { s.TemporaryArmRejections = 2 },
			config:    func(c *mission.Config) { c.CommandRetries = 2 },
			wantPhase: mission.Landed,
		},
		{
			name:       "climb capped below target",
			scenario:   func(s *Scenario) { s.AltitudeCeiling = 1 },
			config:     func(c *mission.Config) { c.PhaseTimeoutSeconds.TakingOff = 0.3 },
			wantPhase:  mission.Failed,
			failedIn:   mission.TakingOff,
			kind:       mission.FailureTimeout,
			safetyLand: true,
		},
		{
			name:       "land ignored",
			scenario:   func(s *Scenario) { s.IgnoreLand = true },
			config:     func(c *mission.Config) { c.PhaseTimeoutSeconds.Landing = 0.3 },
			wantPhase:  mission.Failed,
			failedIn:   mission.Landing,
			kind:       mission.FailureTimeout,
			safetyLand: true,
		},
		{
			name:       "link lost during climb",
			scenario:   func(s *Scenario) { s.LinkLossAltitude = 1 },
			wantPhase:  mission.Failed,
			failedIn:   mission.TakingOff,
			kind:       mission.FailureLink,
			safetyLand: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			scn := fastScenario()
			if tc.scenario != nil {
				tc.scenario(&scn)
			}
			cfg := missionConfig()
			if tc.config != nil {
				tc.config(&cfg)
			}

			seq, err := mission.NewSequencer(cfg, &Link{Scenario: scn, Log: quietLog()}, nil)
			if err != nil {
				t.Fatal(err)
			}
			result := seq.Run(context.Background())

			if result.Phase != tc.wantPhase {
				t.Fatalf("ended in %s, want %s (failure %v)", result.Phase, tc.wantPhase, result.Failure)
			}
			if tc.wantPhase != mission.Failed {
				return
			}
			f := result.Failure
			if f.Phase != tc.failedIn || f.Kind != tc.kind {
				t.Fatalf("failed in %s/%s, want %s/%s: %v", f.Phase, f.Kind, tc.failedIn, tc.kind, f.Err)
			}
			if f.SafetyLand != tc.safetyLand {
				t.Fatalf("safety land = %v, want %v", f.SafetyLand, tc.safetyLand)
			}
		})
	}
}

func TestSimCommandsNeedConnection(t *testing.T) {
	scn := fastScenario()
	scn.ConnectDelay = time.Hour

	v, err := (&Link{Scenario: scn, Log: quietLog()}).Open(context.Background(), "udp://:14540")
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if err := v.Arm(context.Background()); !errors.Is(err, errs.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestSimTakeoffRequiresArming(t *testing.T) {
	v, err := (&Link{Scenario: fastScenario(), Log: quietLog()}).Open(context.Background(), "udp://:14540")
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	time.Sleep(50 * time.Millisecond)
	err = v.Takeoff(context.Background(), 2)

	var rejected *CommandRejectedError
	if !errors.As(err, &rejected) || rejected.Temporary() {
		t.Fatalf("want permanent rejection, got %v", err)
	}
}

func TestSimOpenRejectsBadAddress(t *testing.T) {
	if _, err := (&Link{}).Open(context.Background(), "nowhere"); !errors.Is(err, errs.ErrUnsupportedAddress) {
		t.Fatalf("want ErrUnsupportedAddress, got %v", err)
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	content := "connect_delay: 1s\nclimb_rate: 2.5\nreject_arm: true\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	scn, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scn.ConnectDelay != time.Second || scn.ClimbRate != 2.5 || !scn.RejectArm {
		t.Fatalf("scenario not loaded: %+v", scn)
	}
	if scn.DescentRate != DefaultScenario().DescentRate {
		t.Fatalf("default descent rate lost: %v", scn.DescentRate)
	}
}
