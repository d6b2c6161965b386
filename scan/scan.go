// Package scan defines a planar range scan, the output of projecting a point
// cloud onto the horizontal plane of a virtual rangefinder.
package scan

import (
	"math"
	"time"
)

// Scan is a single sweep from a (possibly virtual) planar rangefinder. Ranges
// holds one entry per angular bin, ordered from AngleMin to AngleMax; bins
// with no return hold the sentinel value (see Sentinel).
type Scan struct {
	// FrameID names the frame the scan is expressed in.
	FrameID string
	// Stamp is the capture time of the cloud the scan was built from.
	Stamp time.Time

	AngleMin       float64
	AngleMax       float64
	AngleIncrement float64
	// TimeIncrement is the time between consecutive bins. A scan projected
	// from a cloud has no per-ray acquisition delay, so this is always zero.
	TimeIncrement float64
	ScanTime      float64
	RangeMin      float64
	RangeMax      float64

	Ranges []float64
}

// BinCount returns the number of angular bins covering the window, the width
// of the window divided by the increment, rounded up. Degenerate windows
// (inverted bounds, non-positive increment) yield zero bins.
func BinCount(angleMin, angleMax, angleIncrement float64) int {
	if angleIncrement <= 0 || angleMax <= angleMin {
		return 0
	}
	return int(math.Ceil((angleMax - angleMin) / angleIncrement))
}

// New returns a Scan with its ranges pre-filled to the sentinel value.
func New(frameID string, stamp time.Time, angleMin, angleMax, angleIncrement, scanTime, rangeMin, rangeMax float64) *Scan {
	s := &Scan{
		FrameID:        frameID,
		Stamp:          stamp,
		AngleMin:       angleMin,
		AngleMax:       angleMax,
		AngleIncrement: angleIncrement,
		TimeIncrement:  0,
		ScanTime:       scanTime,
		RangeMin:       rangeMin,
		RangeMax:       rangeMax,
		Ranges:         make([]float64, BinCount(angleMin, angleMax, angleIncrement)),
	}
	for i := range s.Ranges {
		s.Ranges[i] = s.Sentinel()
	}
	return s
}

// Sentinel returns the value stored in bins with no return. It is strictly
// greater than RangeMax so consumers can tell "no return" apart from a return
// at maximum range.
func (s *Scan) Sentinel() float64 {
	return s.RangeMax + 1.0
}

// Measurements converts the bins that hold a return into measurements. Bins at
// the sentinel are skipped.
func (s *Scan) Measurements() Measurements {
	ms := make(Measurements, 0, len(s.Ranges))
	for i, r := range s.Ranges {
		if r >= s.Sentinel() {
			continue
		}
		angle := s.AngleMin + float64(i)*s.AngleIncrement
		ms = append(ms, NewMeasurement(angle, r))
	}
	return ms
}
