package converter

import (
	"math"

	"github.com/pkg/errors"

	"github.com/stwirth/pointcloud-to-laserscan/scan"
)

// Default frame names; both are overridable in the config.
const (
	// DefaultOutputFrameID is the mount frame the virtual scan is published in.
	DefaultOutputFrameID = "kinect_depth_frame"
	// DefaultRefFrameID is the body frame the virtual sensor pose is expressed in.
	DefaultRefFrameID = "kinect_link"
)

// Config is the full parameter set of the converter. Heights and ranges are
// meters, angles radians, scan time seconds.
type Config struct {
	MinHeight      float64 `json:"min_height"`
	MaxHeight      float64 `json:"max_height"`
	AngleMin       float64 `json:"angle_min"`
	AngleMax       float64 `json:"angle_max"`
	AngleIncrement float64 `json:"angle_increment"`
	ScanTime       float64 `json:"scan_time"`
	RangeMin       float64 `json:"range_min"`
	RangeMax       float64 `json:"range_max"`
	OutputFrameID  string  `json:"output_frame_id"`
	RefFrameID     string  `json:"ref_frame_id"`
}

// DefaultConfig returns the documented defaults: a 5 cm height band just
// above the floor, a forward-facing half circle at half-degree resolution,
// and a 30 Hz cadence.
func DefaultConfig() Config {
	return Config{
		MinHeight:      0.10,
		MaxHeight:      0.15,
		AngleMin:       -math.Pi / 2,
		AngleMax:       math.Pi / 2,
		AngleIncrement: math.Pi / 360,
		ScanTime:       1.0 / 30.0,
		RangeMin:       0.45,
		RangeMax:       10.0,
		OutputFrameID:  DefaultOutputFrameID,
		RefFrameID:     DefaultRefFrameID,
	}
}

// Validate reports problems an operator probably wants to know about. The
// converter itself accepts any config (a degenerate one just produces empty
// scans), so callers treat these as warnings, not failures.
func (c Config) Validate(path string) []error {
	var warnings []error
	if c.MinHeight > c.MaxHeight {
		warnings = append(warnings, errors.Errorf("%s: min_height %f above max_height %f; every point will be rejected", path, c.MinHeight, c.MaxHeight))
	}
	if c.AngleMin > c.AngleMax {
		warnings = append(warnings, errors.Errorf("%s: angle_min %f above angle_max %f; scans will have no bins", path, c.AngleMin, c.AngleMax))
	}
	if c.AngleIncrement <= 0 {
		warnings = append(warnings, errors.Errorf("%s: angle_increment %f is not positive; scans will have no bins", path, c.AngleIncrement))
	}
	if c.RangeMin > c.RangeMax {
		warnings = append(warnings, errors.Errorf("%s: range_min %f above range_max %f", path, c.RangeMin, c.RangeMax))
	}
	if c.OutputFrameID == "" {
		warnings = append(warnings, errors.Errorf("%s: output_frame_id is empty", path))
	}
	if c.RefFrameID == "" {
		warnings = append(warnings, errors.Errorf("%s: ref_frame_id is empty", path))
	}
	return warnings
}

// params is one immutable snapshot of the configuration plus the values
// derived from it. Conversions read a single snapshot for their whole run so
// they never see a half-applied update.
type params struct {
	Config
	rangeMinSq float64
	binCount   int
}

func newParams(cfg Config) *params {
	return &params{
		Config:     cfg,
		rangeMinSq: cfg.RangeMin * cfg.RangeMin,
		binCount:   scan.BinCount(cfg.AngleMin, cfg.AngleMax, cfg.AngleIncrement),
	}
}
