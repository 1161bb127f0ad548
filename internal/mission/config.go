package mission

import (
	"fmt"
	"math"
	"time"

	"github.com/AeroSaraVJ23/Drone-Automation/internal/utils"
	"github.com/AeroSaraVJ23/Drone-Automation/internal/vehicle"
)

// Timeouts holds the exit-condition budget, in seconds, of every phase that
// waits on telemetry.
type Timeouts struct {
	Connecting   float64 `yaml:"connecting"`
	HealthCheck  float64 `yaml:"health_check"`
	ArmableCheck float64 `yaml:"armable_check"`
	Arming       float64 `yaml:"arming"`
	TakingOff    float64 `yaml:"taking_off"`
	Landing      float64 `yaml:"landing"`
}

// Config is supplied once at mission start and never modified afterwards.
type Config struct {
	ConnectionTarget        string   `yaml:"connection_target"`
	TargetAltitudeMeters    float64  `yaml:"target_altitude_meters"`
	AltitudeToleranceMeters float64  `yaml:"altitude_tolerance_meters"`
	HoldDurationSeconds     float64  `yaml:"hold_duration_seconds"`
	PollIntervalSeconds     float64  `yaml:"poll_interval_seconds"`
	PhaseTimeoutSeconds     Timeouts `yaml:"phase_timeouts"`

	// CommandRetries bounds re-issuing a command after the vehicle explicitly
	// and temporarily rejected it. Zero means every rejection is final.
	CommandRetries           int     `yaml:"command_retries"`
	SafetyLandTimeoutSeconds float64 `yaml:"safety_land_timeout_seconds"`
	// RequirePositionOK additionally gates HealthCheck on global and home
	// position estimates.
	RequirePositionOK bool `yaml:"require_position_ok"`
}

func DefaultConfig() Config {
	return Config{
		ConnectionTarget:        "serial:///dev/ttyACM0:57600",
		TargetAltitudeMeters:    2.0,
		AltitudeToleranceMeters: 0.2,
		HoldDurationSeconds:     10,
		PollIntervalSeconds:     1,
		PhaseTimeoutSeconds: Timeouts{
			Connecting:   60,
			HealthCheck:  30,
			ArmableCheck: 10,
			Arming:       10,
			TakingOff:    30,
			Landing:      60,
		},
		CommandRetries:           0,
		SafetyLandTimeoutSeconds: 10,
	}
}

// LoadConfig reads a YAML mission file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg, err := utils.LoadYAML(path, DefaultConfig())
	if err != nil {
		return Config{}, err
	}
	return *cfg, nil
}

// Validate reports every invalid parameter at once as a *ConfigError.
func (c Config) Validate() error {
	var problems []string
	bad := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := vehicle.ParseAddress(c.ConnectionTarget); err != nil {
		bad("connection_target: %v", err)
	}
	if !positive(c.TargetAltitudeMeters) {
		bad("target_altitude_meters must be > 0, got %v", c.TargetAltitudeMeters)
	}
	if !nonNegative(c.AltitudeToleranceMeters) {
		bad("altitude_tolerance_meters must be >= 0, got %v", c.AltitudeToleranceMeters)
	}
	if !nonNegative(c.HoldDurationSeconds) {
		bad("hold_duration_seconds must be >= 0, got %v", c.HoldDurationSeconds)
	}
	if !positive(c.PollIntervalSeconds) {
		bad("poll_interval_seconds must be > 0, got %v", c.PollIntervalSeconds)
	}
	if c.CommandRetries < 0 {
		bad("command_retries must be >= 0, got %d", c.CommandRetries)
	}
	if !positive(c.SafetyLandTimeoutSeconds) {
		bad("safety_land_timeout_seconds must be > 0, got %v", c.SafetyLandTimeoutSeconds)
	}

	t := c.PhaseTimeoutSeconds
	for _, pt := range []struct {
		name  string
		value float64
	}{
		{"connecting", t.Connecting},
		{"health_check", t.HealthCheck},
		{"armable_check", t.ArmableCheck},
		{"arming", t.Arming},
		{"taking_off", t.TakingOff},
		{"landing", t.Landing},
	} {
		if !positive(pt.value) {
			bad("phase_timeouts.%s must be > 0, got %v", pt.name, pt.value)
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// Timeout returns the exit-condition budget of p, or zero for phases that do
// not wait on telemetry.
func (c Config) Timeout(p Phase) time.Duration {
	t := c.PhaseTimeoutSeconds
	switch p {
	case Connecting:
		return seconds(t.Connecting)
	case HealthCheck:
		return seconds(t.HealthCheck)
	case ArmableCheck:
		return seconds(t.ArmableCheck)
	case Arming:
		return seconds(t.Arming)
	case TakingOff:
		return seconds(t.TakingOff)
	case Landing:
		return seconds(t.Landing)
	}
	return 0
}

func (c Config) PollInterval() time.Duration {
	return seconds(c.PollIntervalSeconds)
}

func (c Config) HoldDuration() time.Duration {
	return seconds(c.HoldDurationSeconds)
}

func (c Config) SafetyLandTimeout() time.Duration {
	return seconds(c.SafetyLandTimeoutSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
