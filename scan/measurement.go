package scan

import (
	"math"

	"github.com/stwirth/pointcloud-to-laserscan/spatialmath"
)

// Measurements is a series of scan returns, sortable by bearing.
type Measurements []*Measurement

func (ms Measurements) Len() int {
	return len(ms)
}

func (ms Measurements) Swap(i, j int) {
	ms[i], ms[j] = ms[j], ms[i]
}

func (ms Measurements) Less(i, j int) bool {
	if ms[i].angle < ms[j].angle {
		return true
	}
	if ms[i].angle == ms[j].angle {
		return ms[i].distance < ms[j].distance
	}
	return false
}

// Measurement is a single scan return: a bearing and a distance, with the
// cartesian projection precomputed.
type Measurement struct {
	angle    float64
	angleDeg float64
	distance float64
	x        float64
	y        float64
}

// NewMeasurement returns a measurement at the given bearing (radians,
// counterclockwise about the vertical axis, zero along the sensor's forward
// x-axis) and distance.
func NewMeasurement(angle, distance float64) *Measurement {
	return &Measurement{
		angle:    angle,
		angleDeg: spatialmath.RadToDeg(angle),
		distance: distance,
		x:        distance * math.Cos(angle),
		y:        distance * math.Sin(angle),
	}
}

// Angle returns the bearing in radians.
func (m *Measurement) Angle() float64 {
	return m.angle
}

// AngleDeg returns the bearing in degrees.
func (m *Measurement) AngleDeg() float64 {
	return m.angleDeg
}

// Distance returns the measured range.
func (m *Measurement) Distance() float64 {
	return m.distance
}

// Coords returns the measurement projected onto the scan plane.
func (m *Measurement) Coords() (float64, float64) {
	return m.x, m.y
}
