package vehicle

import (
	"fmt"
	"time"
)

// State is one merged telemetry snapshot. Samples are published by value and
// never modified after publication.
type State struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`

	Connected        bool    `json:"connected"`
	Armed            bool    `json:"armed"`
	InAir            bool    `json:"in_air"`
	RelativeAltitude float64 `json:"relative_altitude_m"`

	GyroCalibrationOK  bool `json:"gyro_calibration_ok"`
	AccelCalibrationOK bool `json:"accel_calibration_ok"`
	GlobalPositionOK   bool `json:"global_position_ok"`
	HomePositionOK     bool `json:"home_position_ok"`
}

func (s State) String() string {
	return fmt.Sprintf("#%d connected=%v armed=%v in_air=%v alt=%.2fm gyro=%v accel=%v gpos=%v home=%v",
		s.Seq, s.Connected, s.Armed, s.InAir, s.RelativeAltitude,
		s.GyroCalibrationOK, s.AccelCalibrationOK, s.GlobalPositionOK, s.HomePositionOK)
}
