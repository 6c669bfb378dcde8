package viamcolmap

import (
	"fmt"

	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

// Quaternion components are ordered w, x, y, z throughout this package,
// matching the COLMAP text schema (QW QX QY QZ) and gonum's quat.Number.
// The same ordering is used on both the read and write paths.

// NewQuaternion builds a quaternion from w, x, y, z components.
func NewQuaternion(w, x, y, z float64) quat.Number {
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// QuaternionToMatrix converts a unit quaternion to a 3x3 rotation matrix.
func QuaternionToMatrix(q quat.Number) *spatialmath.RotationMatrix {
	n := quat.Abs(q)
	if n > 0 {
		q = quat.Scale(1/n, q)
	}
	return spatialmath.QuatToRotationMatrix(q)
}

// MatrixToQuaternion converts a rotation matrix to its unit quaternion.
// The input must be a proper rotation (orthonormal, determinant +1);
// anything else produces a garbage quaternion, the caller is responsible
// for supplying a valid rotation.
func MatrixToQuaternion(m *spatialmath.RotationMatrix) quat.Number {
	return m.Quaternion()
}

// NewRotationFromRows builds a rotation matrix from 9 row-major elements.
func NewRotationFromRows(rows []float64) (*spatialmath.RotationMatrix, error) {
	if len(rows) != 9 {
		return nil, fmt.Errorf("need 9 row-major elements, got %d", len(rows))
	}
	return spatialmath.NewRotationMatrix(rows)
}
