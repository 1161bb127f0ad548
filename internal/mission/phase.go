package mission

import (
	"strings"

	"github.com/pkg/errors"
)

// Phase is one step of the mission. Phases before Landed are visited in
// declaration order; Failed is absorbing and reachable from any phase.
type Phase int

const (
	Connecting Phase = iota
	HealthCheck
	ArmableCheck
	Arming
	TakingOff
	Holding
	Landing
	Landed
	Failed
)

var phaseNames = [...]string{
	Connecting:   "connecting",
	HealthCheck:  "health_check",
	ArmableCheck: "armable_check",
	Arming:       "arming",
	TakingOff:    "taking_off",
	Holding:      "holding",
	Landing:      "landing",
	Landed:       "landed",
	Failed:       "failed",
}

func (p Phase) String() string {
	if p < Connecting || p > Failed {
		return "unknown"
	}
	return phaseNames[p]
}

// Airborne reports whether the vehicle may be off the ground in this phase.
func (p Phase) Airborne() bool {
	return p == TakingOff || p == Holding || p == Landing
}

func (p Phase) Terminal() bool {
	return p == Landed || p == Failed
}

// next is the successor on a successful exit condition.
func (p Phase) next() Phase {
	if p >= Landed {
		return p
	}
	return p + 1
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for i, n := range phaseNames {
		if n == name {
			*p = Phase(i)
			return nil
		}
	}
	return errors.Errorf("unknown mission phase %q", text)
}
