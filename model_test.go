package viamcolmap

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

const imagesFixture = `# Image list with two lines of data per image:
#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME
#   POINTS2D[] as (X, Y, POINT3D_ID)
2 0.9238795325112867 0 0.3826834323650898 0 0.1 0.2 0.3 2 b.png
10.5 20.25 7 30 40 -1
1 1 0 0 0 1 2 3 1 a.png

`

func writeFile(t *testing.T, fn, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), fn)
	test.That(t, os.WriteFile(path, []byte(contents), 0o644), test.ShouldBeNil)
	return path
}

func TestReadImagesText(t *testing.T) {
	path := writeFile(t, "images.txt", imagesFixture)

	images, err := ReadImagesText(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(images), test.ShouldEqual, 2)

	test.That(t, images[1].Name, test.ShouldEqual, "a.png")
	test.That(t, images[1].CameraID, test.ShouldEqual, 1)
	test.That(t, images[1].Tvec.X, test.ShouldEqual, 1)
	test.That(t, images[1].Tvec.Z, test.ShouldEqual, 3)
	test.That(t, len(images[1].Points2D), test.ShouldEqual, 0)

	test.That(t, images[2].Qvec.Real, test.ShouldAlmostEqual, 0.9238795325112867)
	test.That(t, images[2].Qvec.Jmag, test.ShouldAlmostEqual, 0.3826834323650898)
	test.That(t, len(images[2].Points2D), test.ShouldEqual, 2)
	test.That(t, images[2].Points2D[0].X, test.ShouldEqual, 10.5)
	test.That(t, images[2].Points2D[0].Point3DID, test.ShouldEqual, 7)
	test.That(t, images[2].Points2D[1].Point3DID, test.ShouldEqual, -1)
}

func TestReadImagesTextErrors(t *testing.T) {
	_, err := ReadImagesText(filepath.Join(t.TempDir(), "missing.txt"))
	test.That(t, err, test.ShouldNotBeNil)

	empty := writeFile(t, "empty.txt", "# only a comment\n")
	_, err = ReadImagesText(empty)
	test.That(t, err, test.ShouldNotBeNil)

	malformed := writeFile(t, "bad.txt", "1 0.5 0.5 0.5\n")
	_, err = ReadImagesText(malformed)
	test.That(t, err, test.ShouldNotBeNil)

	badObs := writeFile(t, "badobs.txt", "1 1 0 0 0 0 0 0 1 a.png\n1.0 2.0\n")
	_, err = ReadImagesText(badObs)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPosesFromFile(t *testing.T) {
	path := writeFile(t, "images.txt", imagesFixture)

	poses, err := PosesFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(poses), test.ShouldEqual, 2)

	// sorted by image id, not file order
	test.That(t, poses[0].ImageID, test.ShouldEqual, 1)
	test.That(t, poses[1].ImageID, test.ShouldEqual, 2)

	// image 1 has an identity quaternion
	for i := 0; i < 3; i++ {
		test.That(t, poses[0].Rotation.At(i, i), test.ShouldAlmostEqual, 1, 1e-12)
	}

	// image 2 is a 45 degree rotation about y
	c := math.Cos(math.Pi / 4)
	test.That(t, poses[1].Rotation.At(0, 0), test.ShouldAlmostEqual, c, 1e-9)
	test.That(t, poses[1].Rotation.At(1, 1), test.ShouldAlmostEqual, 1, 1e-9)

	m := poses[1].Matrix34()
	r, cols := m.Dims()
	test.That(t, r, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 4)
	test.That(t, m.At(0, 3), test.ShouldAlmostEqual, 0.1)
	test.That(t, m.At(2, 3), test.ShouldAlmostEqual, 0.3)

	// repeated reads are identical
	again, err := PosesFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	for i := range poses {
		test.That(t, again[i].ImageID, test.ShouldEqual, poses[i].ImageID)
		test.That(t, again[i].Translation, test.ShouldResemble, poses[i].Translation)
		matricesAlmostEqual(t, again[i].Rotation, poses[i].Rotation, 1e-15)
	}
}

func TestPoseCenter(t *testing.T) {
	// identity rotation: center is -t
	path := writeFile(t, "images.txt", "1 1 0 0 0 1 2 3 1 a.png\n\n")
	poses, err := PosesFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	center := poses[0].Center()
	test.That(t, center.X, test.ShouldAlmostEqual, -1)
	test.That(t, center.Y, test.ShouldAlmostEqual, -2)
	test.That(t, center.Z, test.ShouldAlmostEqual, -3)
}

func TestReadCamerasText(t *testing.T) {
	path := writeFile(t, "cameras.txt",
		"# Camera list with one line of data per camera:\n"+
			"#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]\n"+
			"1 PINHOLE 1920 1440 1000 1001 960 720\n"+
			"2 SIMPLE_RADIAL 640 480 500 320 240 0.1\n")

	cameras, err := ReadCamerasText(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(cameras), test.ShouldEqual, 2)
	test.That(t, cameras[1].Model, test.ShouldEqual, "PINHOLE")
	test.That(t, cameras[1].Width, test.ShouldEqual, 1920)
	test.That(t, cameras[1].Height, test.ShouldEqual, 1440)
	test.That(t, cameras[1].Params, test.ShouldResemble, []float64{1000, 1001, 960, 720})
	test.That(t, cameras[2].Model, test.ShouldEqual, "SIMPLE_RADIAL")
}

func TestReadPoints3DText(t *testing.T) {
	path := writeFile(t, "points3D.txt",
		"# 3D point list with one line of data per point:\n"+
			"1 0 0 0 255 0 0 0.5 1 0 2 1\n"+
			"3 1.5 2.5 3.5 0 255 0 1.25\n")

	points, err := ReadPoints3DText(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldEqual, 2)
	test.That(t, points[1].Color.R, test.ShouldEqual, uint8(255))
	test.That(t, points[1].Track, test.ShouldResemble, []TrackElement{{1, 0}, {2, 1}})
	test.That(t, points[3].XYZ.Y, test.ShouldEqual, 2.5)
	test.That(t, points[3].Error, test.ShouldEqual, 1.25)
	test.That(t, len(points[3].Track), test.ShouldEqual, 0)
}

func TestReadPoints3DTextEmpty(t *testing.T) {
	// an empty points file is a valid model with no triangulated points
	path := writeFile(t, "points3D.txt", "")
	points, err := ReadPoints3DText(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(points), test.ShouldEqual, 0)
}

func TestSparseCloud(t *testing.T) {
	path := writeFile(t, "points3D.txt",
		"1 0 0 0 255 0 0 0.5\n"+
			"2 1 2 3 0 0 255 0.5\n")

	pc, err := SparseCloud(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	d, ok := pc.At(1, 2, 3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeTrue)
}
