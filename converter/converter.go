// Package converter projects 3-D point cloud frames into 2-D range scans, as
// seen by a virtual planar rangefinder riding at a configured height band and
// facing wherever the camera points, projected onto the horizontal plane.
package converter

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/stwirth/pointcloud-to-laserscan/frame"
	"github.com/stwirth/pointcloud-to-laserscan/pointcloud"
	"github.com/stwirth/pointcloud-to-laserscan/scan"
	"github.com/stwirth/pointcloud-to-laserscan/spatialmath"
)

// parallelFactor controls how many reduction workers a conversion may use.
var parallelFactor = runtime.GOMAXPROCS(0)

// parallelThreshold is the cloud size below which splitting the reduction
// costs more than it saves.
const parallelThreshold = 2048

// Converter turns one point cloud frame into one range scan. It is safe to
// reconfigure concurrently with an in-flight conversion; each conversion
// observes exactly one full parameter set.
type Converter struct {
	logger    golog.Logger
	lookup    frame.Lookuper
	broadcast frame.Broadcaster

	lookupTimeout time.Duration
	params        atomic.Value // *params
}

// New returns a Converter using the given collaborators, configured with cfg.
func New(cfg Config, lookup frame.Lookuper, broadcast frame.Broadcaster, logger golog.Logger) *Converter {
	c := &Converter{
		logger:        logger,
		lookup:        lookup,
		broadcast:     broadcast,
		lookupTimeout: frame.DefaultLookupTimeout,
	}
	c.ApplyConfig(cfg)
	return c
}

// ApplyConfig replaces the whole parameter set atomically and recomputes the
// cached squared minimum range and bin count. It never rejects a config;
// degenerate values produce degenerate (empty) scans.
func (c *Converter) ApplyConfig(cfg Config) {
	c.params.Store(newParams(cfg))
}

// Config returns the currently applied parameter set.
func (c *Converter) Config() Config {
	return c.params.Load().(*params).Config
}

// Convert projects one cloud into one scan.
//
// The camera pose is looked up in the reference frame at the cloud's capture
// time, the virtual sensor pose is derived from it and broadcast, and every
// point is transformed, filtered, and reduced into the angular bin array with
// minimum-range-wins semantics. If the camera transform cannot be resolved
// within the bounded wait, the frame is skipped: an error is returned and no
// scan is produced. Per-point rejections are never errors.
func (c *Converter) Convert(ctx context.Context, cloud *pointcloud.PointCloud) (*scan.Scan, error) {
	p := c.params.Load().(*params)

	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	cloudToRef, err := c.lookup.LookupTransform(lookupCtx, p.RefFrameID, cloud.FrameID, cloud.Stamp)
	if err != nil {
		c.logger.Errorw("skipping cloud, camera transform unavailable",
			"cloud_frame", cloud.FrameID, "ref_frame", p.RefFrameID, "error", err)
		return nil, errors.Wrapf(err, "cannot convert cloud in frame %q", cloud.FrameID)
	}

	refToVirtual := virtualSensorPose(cloudToRef, p.MinHeight, p.MaxHeight)
	if err := c.broadcast.SendTransform(frame.StampedPose{
		Parent: p.RefFrameID,
		Child:  p.OutputFrameID,
		Stamp:  cloud.Stamp,
		Pose:   refToVirtual,
	}); err != nil {
		return nil, errors.Wrap(err, "cannot broadcast virtual sensor pose")
	}

	// Flatten the projection onto the virtual sensor's horizontal plane:
	// same yaw, same x/y, but height zero, so point z becomes height above
	// the floor rather than distance from the scan plane.
	flatOrigin := refToVirtual.Point()
	flatOrigin.Z = 0
	flattened := spatialmath.NewPose(flatOrigin, refToVirtual.Rotation())
	cloudToVirtual := spatialmath.Compose(spatialmath.Invert(flattened), cloudToRef)

	out := scan.New(p.OutputFrameID, cloud.Stamp,
		p.AngleMin, p.AngleMax, p.AngleIncrement, p.ScanTime, p.RangeMin, p.RangeMax)

	if cloud.Size() < parallelThreshold || parallelFactor < 2 {
		c.reduce(cloud, cloudToVirtual, p, 0, 0, out.Ranges)
		return out, nil
	}

	// The reduction is a pure per-bin minimum, so batches can run
	// independently and merge afterwards.
	partials := make([][]float64, parallelFactor)
	var wait sync.WaitGroup
	wait.Add(parallelFactor)
	for batch := 0; batch < parallelFactor; batch++ {
		batchCopy := batch
		goutils.PanicCapturingGo(func() {
			defer wait.Done()
			ranges := make([]float64, len(out.Ranges))
			for i := range ranges {
				ranges[i] = out.Sentinel()
			}
			c.reduce(cloud, cloudToVirtual, p, parallelFactor, batchCopy, ranges)
			partials[batchCopy] = ranges
		})
	}
	wait.Wait()
	for _, ranges := range partials {
		for i, r := range ranges {
			if r < out.Ranges[i] {
				out.Ranges[i] = r
			}
		}
	}
	return out, nil
}

// virtualSensorPose derives the virtual rangefinder's pose in the reference
// frame from the camera's pose: the camera's horizontal position at the
// midpoint of the height band, yawed toward the camera's heading. The heading
// is where the camera's up axis lands after rotation, projected onto the
// horizontal plane; a depth camera's optical z looks out of the lens, so its
// "up" in optical coordinates is the viewing direction.
func virtualSensorPose(cloudToRef *spatialmath.Pose, minHeight, maxHeight float64) *spatialmath.Pose {
	rotatedUp := spatialmath.RotateVector(cloudToRef.Rotation(), r3.Vector{Z: 1})
	// When the camera points straight up or down there is no horizontal
	// heading; atan2(0,0) is 0 and the scan faces the reference x-axis.
	alpha := math.Atan2(rotatedUp.Y, rotatedUp.X)

	origin := cloudToRef.Point()
	origin.Z = (minHeight + maxHeight) * 0.5
	return spatialmath.NewPoseFromAxisAngle(origin, &spatialmath.R4AA{Theta: alpha, RZ: 1})
}

// reduce runs the filter chain over one batch of the cloud, folding surviving
// points into ranges with minimum-range-wins semantics. ranges must be
// pre-filled with a value greater than any real return.
func (c *Converter) reduce(
	cloud *pointcloud.PointCloud,
	cloudToVirtual *spatialmath.Pose,
	p *params,
	numBatches, myBatch int,
	ranges []float64,
) {
	if len(ranges) == 0 {
		// degenerate angular window; nothing can land anywhere
		return
	}
	cloud.Iterate(numBatches, myBatch, func(pt r3.Vector) bool {
		v := cloudToVirtual.TransformPoint(pt)
		x, y, z := v.X, v.Y, v.Z

		if math.IsNaN(x) || math.IsNaN(y) || math.IsNaN(z) {
			c.logger.Debugf("rejected for nan in point (%f, %f, %f)", x, y, z)
			return true
		}
		if z > p.MaxHeight || z < p.MinHeight {
			c.logger.Debugf("rejected for height %f not in range (%f, %f)", z, p.MinHeight, p.MaxHeight)
			return true
		}
		rangeSq := y*y + x*x
		if rangeSq < p.rangeMinSq {
			c.logger.Debugf("rejected for range %f below minimum %f", rangeSq, p.rangeMinSq)
			return true
		}
		// Bearing convention carried over from the reference implementation;
		// equivalent to atan2(y, x).
		angle := -math.Atan2(-y, x)
		if angle < p.AngleMin || angle > p.AngleMax {
			c.logger.Debugf("rejected for angle %f not in range (%f, %f)", angle, p.AngleMin, p.AngleMax)
			return true
		}

		index := int((angle - p.AngleMin) / p.AngleIncrement)
		// The angle check bounds the index, except that a point exactly at
		// angle_max computes binCount; clamp it into the last bin.
		if index >= p.binCount {
			index = p.binCount - 1
		}
		if index < 0 {
			index = 0
		}

		if ranges[index]*ranges[index] > rangeSq {
			ranges[index] = math.Sqrt(rangeSq)
		}
		return true
	})
}
