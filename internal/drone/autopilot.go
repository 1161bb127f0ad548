package drone

import (
	"strings"

	"github.com/pkg/errors"

	errs "github.com/AeroSaraVJ23/Drone-Automation/internal/errors"
)

// Autopilot selects the dialect quirks of the flight stack on the other end.
type Autopilot string

const (
	// PX4 expects the takeoff altitude above mean sea level.
	PX4 Autopilot = "px4"
	// ArduPilot takes a relative takeoff altitude and only accepts it in GUIDED.
	ArduPilot Autopilot = "ardupilot"
)

func ParseAutopilot(s string) (Autopilot, error) {
	switch a := Autopilot(strings.ToLower(strings.TrimSpace(s))); a {
	case PX4, ArduPilot:
		return a, nil
	case "":
		return PX4, nil
	}
	return "", errors.Wrapf(errs.ErrUnsupportedAutopilot, "%q", s)
}
