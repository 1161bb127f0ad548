package drone

import "fmt"

// SCALE_FACTOR converts MAVLink degE7 coordinates to degrees.
const SCALE_FACTOR = 1e7

// WayPoint is a global position: degrees and meters above mean sea level.
type WayPoint struct {
	lat float64
	lon float64
	alt float64
}

func NewWayPoint(lat, lon, alt float64) *WayPoint {
	return &WayPoint{lat, lon, alt}
}

// wayPointFromInt builds a WayPoint from degE7 coordinates and an altitude in mm.
func wayPointFromInt(lat, lon, altMM int32) *WayPoint {
	return NewWayPoint(float64(lat)/SCALE_FACTOR, float64(lon)/SCALE_FACTOR, float64(altMM)/1000)
}

func (p *WayPoint) Latitude() float64 {
	return p.lat
}

func (p *WayPoint) Longitude() float64 {
	return p.lon
}

func (p *WayPoint) Altitude() float64 {
	return p.alt
}

func (p *WayPoint) String() string {
	return fmt.Sprintf("(%.7f, %.7f, %.2fm)", p.lat, p.lon, p.alt)
}
