// Package spatialmath defines the spatial mathematical operations needed to
// express rigid transforms between sensor reference frames.
package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform (rotation plus translation) between two frames,
// represented as a unit dual quaternion.
type Pose struct {
	Quat dualquat.Number
}

// NewZeroPose returns a pointer to a new Pose whose dual quaternion is the identity.
// Since the real part of a dual quaternion should be a unit quaternion, not all
// zeroes, this should be used instead of &Pose{}.
func NewZeroPose() *Pose {
	return &Pose{dualquat.Number{
		Real: quat.Number{Real: 1},
		Dual: quat.Number{},
	}}
}

// NewPose returns a pointer to a new Pose with the given translation and
// rotation quaternion.
func NewPose(point r3.Vector, rot quat.Number) *Pose {
	p := &Pose{dualquat.Number{Real: rot}}
	p.setTranslation(point)
	return p
}

// NewPoseFromAxisAngle returns a pointer to a new Pose with the given
// translation, rotated about the given axis by theta.
func NewPoseFromAxisAngle(point r3.Vector, aa *R4AA) *Pose {
	return NewPose(point, aa.ToQuat())
}

// Clone returns a Pose object identical to this one.
func (p *Pose) Clone() *Pose {
	// No need for deep copies here, dual quaternions are primitives all the way down
	return &Pose{p.Quat}
}

// Rotation returns the rotation quaternion.
func (p *Pose) Rotation() quat.Number {
	return p.Quat.Real
}

// Point returns the translation of the pose.
func (p *Pose) Point() r3.Vector {
	// Multiplying by the combined conjugate leaves the identity rotation and
	// the translation in the dual part.
	cart := dualquat.Mul(p.Quat, dualquat.Conj(p.Quat))
	return r3.Vector{X: cart.Dual.Imag, Y: cart.Dual.Jmag, Z: cart.Dual.Kmag}
}

// setTranslation correctly sets the translation quaternion against the rotation.
func (p *Pose) setTranslation(point r3.Vector) {
	p.Quat.Dual = quat.Number{Imag: point.X / 2, Jmag: point.Y / 2, Kmag: point.Z / 2}
	p.Quat.Dual = quat.Mul(p.Quat.Dual, p.Quat.Real)
}

// TransformPoint rotates and translates the given point by the pose.
func (p *Pose) TransformPoint(point r3.Vector) r3.Vector {
	hom := dualquat.Number{
		Real: quat.Number{Real: 1},
		Dual: quat.Number{Imag: point.X, Jmag: point.Y, Kmag: point.Z},
	}
	res := dualquat.Mul(dualquat.Mul(p.Quat, hom), dualquat.Conj(p.Quat))
	return r3.Vector{X: res.Dual.Imag, Y: res.Dual.Jmag, Z: res.Dual.Kmag}
}

// Compose returns the pose equivalent to applying b first, then a.
func Compose(a, b *Pose) *Pose {
	result := &Pose{a.transformation(b.Quat)}

	// Norm the output to handle floating point errors accumulating over
	// chained compositions.
	if vecLen := quat.Abs(result.Quat.Real); vecLen != 1 {
		result.Quat.Real = quat.Scale(1/vecLen, result.Quat.Real)
	}
	return result
}

// Invert returns the pose which undoes this pose, e.g. a transform from the
// child frame back into the parent frame.
func Invert(p *Pose) *Pose {
	return &Pose{dualquat.ConjQuat(p.Quat)}
}

// RotateVector rotates the given vector by the given quaternion, ignoring any
// translation.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	pure := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Mul(q, pure), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// transformation multiplies the dual quat contained in this Pose by another dual quat.
func (p *Pose) transformation(by dualquat.Number) dualquat.Number {
	// Ensure we are multiplying by a unit dual quaternion
	if vecLen := quat.Abs(by.Real); vecLen != 1 {
		by.Real = quat.Scale(1/vecLen, by.Real)
	}

	return dualquat.Mul(p.Quat, by)
}
