package viamcolmap

import (
	"bufio"
	"image/color"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Types for the COLMAP sparse-model text schema (images.txt, cameras.txt,
// points3D.txt). Field order is fixed by COLMAP and must be reproduced
// byte-for-byte for the files to be accepted as triangulation input.

// Image is one record of an images.txt file: a world-to-camera pose plus
// the image's 2D observations.
type Image struct {
	ID       int
	Qvec     quat.Number
	Tvec     r3.Vector
	CameraID int
	Name     string
	Points2D []Observation
}

// Observation is a single 2D feature observation (x, y, point3D id).
// Point3DID is -1 when the observation has no triangulated point.
type Observation struct {
	X, Y      float64
	Point3DID int64
}

// Camera is one record of a cameras.txt file.
type Camera struct {
	ID     int
	Model  string
	Width  int
	Height int
	Params []float64
}

// Point3D is one record of a points3D.txt file. Only the position is
// consumed by this module; the rest is carried for completeness.
type Point3D struct {
	ID    int64
	XYZ   r3.Vector
	Color color.NRGBA
	Error float64
	Track []TrackElement
}

// TrackElement identifies one observation of a 3D point.
type TrackElement struct {
	ImageID    int
	Point2DIdx int
}

// Pose is a camera pose extracted from an images.txt record.
type Pose struct {
	ImageID     int
	Name        string
	Rotation    *spatialmath.RotationMatrix
	Translation r3.Vector
}

// Matrix34 packs the pose as a 3x4 [R|t] matrix.
func (p Pose) Matrix34() *mat.Dense {
	m := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, p.Rotation.At(i, j))
		}
	}
	m.Set(0, 3, p.Translation.X)
	m.Set(1, 3, p.Translation.Y)
	m.Set(2, 3, p.Translation.Z)
	return m
}

// Center returns the camera center in world coordinates, -R^T * t.
func (p Pose) Center() r3.Vector {
	t := p.Translation
	return r3.Vector{
		X: -(p.Rotation.At(0, 0)*t.X + p.Rotation.At(1, 0)*t.Y + p.Rotation.At(2, 0)*t.Z),
		Y: -(p.Rotation.At(0, 1)*t.X + p.Rotation.At(1, 1)*t.Y + p.Rotation.At(2, 1)*t.Z),
		Z: -(p.Rotation.At(0, 2)*t.X + p.Rotation.At(1, 2)*t.Y + p.Rotation.At(2, 2)*t.Z),
	}
}

// ReadImagesText parses a COLMAP images.txt file. Records come in pairs of
// lines: a metadata line and an observation line, which may be empty.
// A file with no image records is an error.
func ReadImagesText(fn string) (map[int]Image, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	images := map[int]Image{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var pending *Image
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}

		if pending != nil {
			obs, err := parseObservations(line)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d", fn, lineNum)
			}
			pending.Points2D = obs
			images[pending.ID] = *pending
			pending = nil
			continue
		}

		if line == "" {
			continue
		}

		img, err := parseImageLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", fn, lineNum)
		}
		pending = &img
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if pending != nil {
		// metadata line at EOF counts as an empty observation line
		pending.Points2D = nil
		images[pending.ID] = *pending
	}
	if len(images) == 0 {
		return nil, errors.Errorf("no image records in %s", fn)
	}
	return images, nil
}

func parseImageLine(line string) (Image, error) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return Image{}, errors.Errorf("image line has %d fields, want at least 10", len(fields))
	}

	vals := make([]float64, 7)
	for i := 1; i < 8; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Image{}, errors.Wrapf(err, "field %d", i)
		}
		vals[i-1] = v
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Image{}, errors.Wrap(err, "image id")
	}
	camID, err := strconv.Atoi(fields[8])
	if err != nil {
		return Image{}, errors.Wrap(err, "camera id")
	}

	return Image{
		ID:       id,
		Qvec:     NewQuaternion(vals[0], vals[1], vals[2], vals[3]),
		Tvec:     r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]},
		CameraID: camID,
		Name:     strings.Join(fields[9:], " "),
	}, nil
}

func parseObservations(line string) ([]Observation, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	if len(fields)%3 != 0 {
		return nil, errors.Errorf("observation line has %d fields, want a multiple of 3", len(fields))
	}
	obs := make([]Observation, 0, len(fields)/3)
	for i := 0; i < len(fields); i += 3 {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, err
		}
		pid, err := strconv.ParseInt(fields[i+2], 10, 64)
		if err != nil {
			return nil, err
		}
		obs = append(obs, Observation{X: x, Y: y, Point3DID: pid})
	}
	return obs, nil
}

// PosesFromFile reads an images.txt file and returns the camera poses
// sorted by image id, each quaternion converted to a rotation matrix.
func PosesFromFile(fn string) ([]Pose, error) {
	images, err := ReadImagesText(fn)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(images))
	for id := range images {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	poses := make([]Pose, 0, len(ids))
	for _, id := range ids {
		img := images[id]
		poses = append(poses, Pose{
			ImageID:     img.ID,
			Name:        img.Name,
			Rotation:    QuaternionToMatrix(img.Qvec),
			Translation: img.Tvec,
		})
	}
	return poses, nil
}

// ReadCamerasText parses a COLMAP cameras.txt file.
func ReadCamerasText(fn string) (map[int]Camera, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cameras := map[int]Camera{}
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, errors.Errorf("%s:%d: camera line has %d fields, want at least 4", fn, lineNum, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: camera id", fn, lineNum)
		}
		width, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: width", fn, lineNum)
		}
		height, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d: height", fn, lineNum)
		}
		params := make([]float64, 0, len(fields)-4)
		for _, s := range fields[4:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d: params", fn, lineNum)
			}
			params = append(params, v)
		}
		cameras[id] = Camera{ID: id, Model: fields[1], Width: width, Height: height, Params: params}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(cameras) == 0 {
		return nil, errors.Errorf("no camera records in %s", fn)
	}
	return cameras, nil
}

// ReadPoints3DText parses a COLMAP points3D.txt file. The file may be
// empty (a model with no triangulated points yet).
func ReadPoints3DText(fn string) (map[int64]Point3D, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points := map[int64]Point3D{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parsePointLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", fn, lineNum)
		}
		points[p.ID] = p
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

func parsePointLine(line string) (Point3D, error) {
	fields := strings.Fields(line)
	if len(fields) < 8 || (len(fields)-8)%2 != 0 {
		return Point3D{}, errors.Errorf("point line has %d fields", len(fields))
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Point3D{}, errors.Wrap(err, "point id")
	}
	vals := make([]float64, 7)
	for i := 1; i < 8; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return Point3D{}, errors.Wrapf(err, "field %d", i)
		}
		vals[i-1] = v
	}
	p := Point3D{
		ID:    id,
		XYZ:   r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]},
		Color: color.NRGBA{R: uint8(vals[3]), G: uint8(vals[4]), B: uint8(vals[5]), A: 255},
		Error: vals[6],
	}
	for i := 8; i < len(fields); i += 2 {
		imgID, err := strconv.Atoi(fields[i])
		if err != nil {
			return Point3D{}, err
		}
		idx, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return Point3D{}, err
		}
		p.Track = append(p.Track, TrackElement{ImageID: imgID, Point2DIdx: idx})
	}
	return p, nil
}

// SparseCloud reads a points3D.txt file into a colored point cloud.
func SparseCloud(fn string) (pointcloud.PointCloud, error) {
	points, err := ReadPoints3DText(fn)
	if err != nil {
		return nil, err
	}
	pc := pointcloud.New()
	for _, p := range points {
		if err := pc.Set(p.XYZ, pointcloud.NewColoredData(p.Color)); err != nil {
			return nil, err
		}
	}
	return pc, nil
}
