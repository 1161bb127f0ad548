package drone

import "fmt"

// FlightMode is an ArduCopter custom mode number, sent in DO_SET_MODE.
type FlightMode uint32

const (
	STABILIZE FlightMode = 0
	ACRO      FlightMode = 1
	ALT_HOLD  FlightMode = 2
	AUTO      FlightMode = 3
	GUIDED    FlightMode = 4
	LOITER    FlightMode = 5
	RTL       FlightMode = 6
	CIRCLE    FlightMode = 7
	LAND      FlightMode = 9
	DRIFT     FlightMode = 11
	SPORT     FlightMode = 13
	FLIP      FlightMode = 14
	AUTOTUNE  FlightMode = 15
	POSHOLD   FlightMode = 16
	BRAKE     FlightMode = 17
)

var modeNames = map[FlightMode]string{
	STABILIZE: "STABILIZE",
	ACRO:      "ACRO",
	ALT_HOLD:  "ALT_HOLD",
	AUTO:      "AUTO",
	GUIDED:    "GUIDED",
	LOITER:    "LOITER",
	RTL:       "RTL",
	CIRCLE:    "CIRCLE",
	LAND:      "LAND",
	DRIFT:     "DRIFT",
	SPORT:     "SPORT",
	FLIP:      "FLIP",
	AUTOTUNE:  "AUTOTUNE",
	POSHOLD:   "POSHOLD",
	BRAKE:     "BRAKE",
}

func (m FlightMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MODE_%d", uint32(m))
}

func (m FlightMode) float32() float32 {
	return float32(m)
}
