package scan

import (
	"math"
	"sort"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestBinCount(t *testing.T) {
	test.That(t, BinCount(-math.Pi/2, math.Pi/2, math.Pi/360), test.ShouldEqual, 360)
	test.That(t, BinCount(0, 1, 0.3), test.ShouldEqual, 4) // rounds up
	test.That(t, BinCount(0, 1, 1), test.ShouldEqual, 1)

	// degenerate windows produce no bins instead of panicking downstream
	test.That(t, BinCount(1, 0, 0.1), test.ShouldEqual, 0)
	test.That(t, BinCount(0, 1, 0), test.ShouldEqual, 0)
	test.That(t, BinCount(0, 1, -0.5), test.ShouldEqual, 0)
	test.That(t, BinCount(0, 0, 0.1), test.ShouldEqual, 0)
}

func TestNewScanPrefilled(t *testing.T) {
	stamp := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("laser", stamp, -math.Pi/2, math.Pi/2, math.Pi/360, 1.0/30.0, 0.45, 10.0)

	test.That(t, s.FrameID, test.ShouldEqual, "laser")
	test.That(t, s.Stamp, test.ShouldEqual, stamp)
	test.That(t, s.TimeIncrement, test.ShouldEqual, 0)
	test.That(t, s.ScanTime, test.ShouldAlmostEqual, 1.0/30.0)
	test.That(t, len(s.Ranges), test.ShouldEqual, 360)
	test.That(t, s.Sentinel(), test.ShouldEqual, 11.0)
	for _, r := range s.Ranges {
		test.That(t, r, test.ShouldEqual, 11.0)
	}
}

func TestMeasurements(t *testing.T) {
	s := New("laser", time.Now(), -math.Pi/2, math.Pi/2, math.Pi/2, 1.0/30.0, 0.45, 10.0)
	test.That(t, len(s.Ranges), test.ShouldEqual, 2)
	test.That(t, s.Measurements(), test.ShouldHaveLength, 0)

	s.Ranges[1] = 2 // bin starting at angle 0
	ms := s.Measurements()
	test.That(t, ms, test.ShouldHaveLength, 1)
	test.That(t, ms[0].Angle(), test.ShouldAlmostEqual, 0)
	test.That(t, ms[0].AngleDeg(), test.ShouldAlmostEqual, 0)
	test.That(t, ms[0].Distance(), test.ShouldEqual, 2)
	x, y := ms[0].Coords()
	test.That(t, x, test.ShouldAlmostEqual, 2)
	test.That(t, y, test.ShouldAlmostEqual, 0)
}

func TestMeasurementsSort(t *testing.T) {
	ms := Measurements{
		NewMeasurement(0.5, 3),
		NewMeasurement(-0.5, 1),
		NewMeasurement(0.5, 2),
		NewMeasurement(0, 4),
	}
	sort.Sort(ms)
	test.That(t, ms[0].Angle(), test.ShouldEqual, -0.5)
	test.That(t, ms[1].Angle(), test.ShouldEqual, 0)
	test.That(t, ms[2].Angle(), test.ShouldEqual, 0.5)
	test.That(t, ms[2].Distance(), test.ShouldEqual, 2)
	test.That(t, ms[3].Distance(), test.ShouldEqual, 3)
}

func TestMeasurementCoords(t *testing.T) {
	m := NewMeasurement(math.Pi/2, 1.5)
	x, y := m.Coords()
	test.That(t, x, test.ShouldAlmostEqual, 0)
	test.That(t, y, test.ShouldAlmostEqual, 1.5)
	test.That(t, m.AngleDeg(), test.ShouldAlmostEqual, 90)
}
