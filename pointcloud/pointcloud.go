// Package pointcloud defines a point cloud frame and provides an implementation
// for one.
//
// A frame is an ordered sequence of 3-D points tagged with the sensor frame it
// was captured in and the capture time. Points with NaN coordinates are kept;
// depth cameras emit them for pixels with no depth return and consumers are
// expected to skip them.
package pointcloud

import (
	"time"

	"github.com/golang/geo/r3"
)

// NewVector is a convenience method for creating a point.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// PointCloud is an ordered container of points captured in a single sensor
// cycle. It is read-only to consumers; nothing mutates a cloud after its
// producer hands it off.
type PointCloud struct {
	// FrameID names the sensor frame the points are expressed in.
	FrameID string
	// Stamp is the capture time of the cloud.
	Stamp time.Time

	points []r3.Vector
}

// New returns an empty PointCloud for the given frame and capture time.
func New(frameID string, stamp time.Time) *PointCloud {
	return NewWithPrealloc(frameID, stamp, 0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud.
func NewWithPrealloc(frameID string, stamp time.Time, size int) *PointCloud {
	return &PointCloud{
		FrameID: frameID,
		Stamp:   stamp,
		points:  make([]r3.Vector, 0, size),
	}
}

// Size returns the number of points in the cloud.
func (cloud *PointCloud) Size() int {
	return len(cloud.points)
}

// Add appends a point to the cloud, preserving order. NaN coordinates are
// allowed; they mark invalid returns.
func (cloud *PointCloud) Add(p r3.Vector) {
	cloud.points = append(cloud.points, p)
}

// At returns the point at the given index.
func (cloud *PointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

// Iterate iterates over all points in the cloud and calls the given function
// for each point. If the supplied function returns false, iteration will stop
// after the function returns.
// numBatches lets you divide up the work. 0 means don't divide.
// myBatch is used iff numBatches > 0 and is which batch you want.
func (cloud *PointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector) bool) {
	lowerBound := 0
	upperBound := len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		lowerBound = myBatch * batchSize
		upperBound = (myBatch + 1) * batchSize
	}
	if upperBound > len(cloud.points) {
		upperBound = len(cloud.points)
	}
	for i := lowerBound; i < upperBound; i++ {
		if cont := fn(cloud.points[i]); !cont {
			return
		}
	}
}
