// Package frame provides lookup and broadcast of rigid transforms between
// named reference frames.
package frame

import (
	"context"
	"time"

	"github.com/stwirth/pointcloud-to-laserscan/spatialmath"
)

// StampedPose is a rigid transform from Parent to Child at a point in time.
// It is a value object; holders never mutate a pose they did not create.
type StampedPose struct {
	Parent string
	Child  string
	Stamp  time.Time
	Pose   *spatialmath.Pose
}

// A Lookuper resolves the transform of the source frame expressed in the
// target frame at the given time. Implementations block up to a bounded wait
// for the transform to become available and return an error if it does not.
type Lookuper interface {
	LookupTransform(ctx context.Context, target, source string, at time.Time) (*spatialmath.Pose, error)
}

// A Broadcaster publishes a stamped transform for downstream consumers.
type Broadcaster interface {
	SendTransform(sp StampedPose) error
}
