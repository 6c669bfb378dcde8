package viamcolmap

import (
	"math"
	"testing"

	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func rotationFromAxisAngle(theta, x, y, z float64) *spatialmath.RotationMatrix {
	aa := &spatialmath.R4AA{Theta: theta, RX: x, RY: y, RZ: z}
	aa.Normalize()
	return aa.RotationMatrix()
}

func matricesAlmostEqual(t *testing.T, a, b *spatialmath.RotationMatrix, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, a.At(i, j), test.ShouldAlmostEqual, b.At(i, j), tol)
		}
	}
}

func TestRotationRoundTrip(t *testing.T) {
	cases := []struct {
		theta, x, y, z float64
	}{
		{0, 0, 0, 1},
		{math.Pi / 2, 0, 0, 1},
		{math.Pi / 4, 0, 1, 0},
		{1.1, 1, 2, 3},
		{2.9, -1, 0.5, -2},
		{0.01, 5, -5, 0.1},
	}
	for _, c := range cases {
		m := rotationFromAxisAngle(c.theta, c.x, c.y, c.z)
		got := QuaternionToMatrix(MatrixToQuaternion(m))
		matricesAlmostEqual(t, got, m, 1e-8)
	}
}

func TestRotationDoubleCover(t *testing.T) {
	m := rotationFromAxisAngle(1.3, 0.2, -0.7, 1)
	q := MatrixToQuaternion(m)
	negated := quat.Scale(-1, q)
	matricesAlmostEqual(t, QuaternionToMatrix(negated), QuaternionToMatrix(q), 1e-10)
}

func TestQuaternionKnownValues(t *testing.T) {
	// identity
	m := QuaternionToMatrix(NewQuaternion(1, 0, 0, 0))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			test.That(t, m.At(i, j), test.ShouldAlmostEqual, want, 1e-12)
		}
	}

	// 90 degrees about z maps x to y
	s := math.Sqrt(2) / 2
	m = QuaternionToMatrix(NewQuaternion(s, 0, 0, s))
	test.That(t, m.At(0, 0), test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, m.At(1, 0), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, m.At(2, 0), test.ShouldAlmostEqual, 0, 1e-12)
}

func TestNewRotationFromRows(t *testing.T) {
	m, err := NewRotationFromRows([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.At(2, 2), test.ShouldEqual, 1)

	_, err = NewRotationFromRows([]float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
}
