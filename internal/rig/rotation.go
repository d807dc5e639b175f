package rig

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// EulerFromQuat inverts mgl32.AnglesToQuat(x, y, z, mgl32.XYZ), returning
// radians. The Y component is limited to [-pi/2, pi/2].
func EulerFromQuat(q mgl32.Quat) mgl32.Vec3 {
	q = q.Normalize()
	w, x, y, z := float64(q.W), float64(q.V[0]), float64(q.V[1]), float64(q.V[2])

	r00 := 1 - 2*(y*y+z*z)
	r01 := 2 * (x*y - w*z)
	r02 := 2 * (x*z + w*y)
	r12 := 2 * (y*z - w*x)
	r22 := 1 - 2*(x*x+y*y)

	if r02 > 1 {
		r02 = 1
	} else if r02 < -1 {
		r02 = -1
	}

	return mgl32.Vec3{
		float32(math.Atan2(-r12, r22)),
		float32(math.Asin(r02)),
		float32(math.Atan2(-r01, r00)),
	}
}
