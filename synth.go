package viamcolmap

import (
	"bufio"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	// header probing of dataset frames
	_ "image/jpeg"
	_ "image/png"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// KnownPoseConfig describes the layout of a dataset with per-frame pose
// and intrinsic files, and the fallback frame size used when an image
// header cannot be read.
type KnownPoseConfig struct {
	PoseDirName      string `json:"pose-dir"`
	IntrinsicDirName string `json:"intrinsic-dir"`
	ImagesDirName    string `json:"images-dir"`

	DefaultWidth  int `json:"default-width"`
	DefaultHeight int `json:"default-height"`
}

func (cfg *KnownPoseConfig) getPoseDirName() string {
	if cfg.PoseDirName == "" {
		return "pose"
	}
	return cfg.PoseDirName
}

func (cfg *KnownPoseConfig) getIntrinsicDirName() string {
	if cfg.IntrinsicDirName == "" {
		return "intrinsic"
	}
	return cfg.IntrinsicDirName
}

func (cfg *KnownPoseConfig) getImagesDirName() string {
	if cfg.ImagesDirName == "" {
		return "images"
	}
	return cfg.ImagesDirName
}

func (cfg *KnownPoseConfig) getDefaultSize() (int, int) {
	if cfg.DefaultWidth <= 0 || cfg.DefaultHeight <= 0 {
		return 1920, 1440
	}
	return cfg.DefaultWidth, cfg.DefaultHeight
}

// ReadMatrixFile reads a whitespace-delimited numeric matrix from a text
// file, one row per line. Lines starting with '#' are skipped. All rows
// must have the same number of columns.
func ReadMatrixFile(fn string) (*mat.Dense, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var data []float64
	rows, cols := 0, 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if cols == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, errors.Errorf("%s: row %d has %d columns, want %d", fn, rows+1, len(fields), cols)
		}
		for _, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: row %d", fn, rows+1)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.Errorf("no numeric rows in %s", fn)
	}
	return mat.NewDense(rows, cols, data), nil
}

// invertExtrinsic inverts a 4x4 rigid camera-to-world transform into a
// world-to-camera rotation and translation: R = Rcw^T, t = -R * C.
func invertExtrinsic(extrinsic *mat.Dense) (*spatialmath.RotationMatrix, r3.Vector, error) {
	r, c := extrinsic.Dims()
	if r < 3 || c < 4 {
		return nil, r3.Vector{}, errors.Errorf("extrinsic is %dx%d, want at least 3x4", r, c)
	}

	rows := make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rows[3*i+j] = extrinsic.At(j, i) // transpose
		}
	}
	rot, err := spatialmath.NewRotationMatrix(rows)
	if err != nil {
		return nil, r3.Vector{}, err
	}

	cx, cy, cz := extrinsic.At(0, 3), extrinsic.At(1, 3), extrinsic.At(2, 3)
	t := r3.Vector{
		X: -(rows[0]*cx + rows[1]*cy + rows[2]*cz),
		Y: -(rows[3]*cx + rows[4]*cy + rows[5]*cz),
		Z: -(rows[6]*cx + rows[7]*cy + rows[8]*cz),
	}
	return rot, t, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// pairFiles validates that the pose, intrinsic, and image listings form
// corresponding triples by matching basenames; a bare lexicographic zip
// would silently misalign on any missing file.
func pairFiles(poses, intrinsics, images []string) error {
	if len(poses) != len(intrinsics) || len(poses) != len(images) {
		return errors.Errorf("mismatched file counts: %d poses, %d intrinsics, %d images",
			len(poses), len(intrinsics), len(images))
	}
	if len(poses) == 0 {
		return errors.New("no pose files")
	}
	for i := range poses {
		if stem(poses[i]) != stem(intrinsics[i]) || stem(poses[i]) != stem(images[i]) {
			return errors.Errorf("misaligned triple at index %d: pose %q, intrinsic %q, image %q",
				i, poses[i], intrinsics[i], images[i])
		}
	}
	return nil
}

func probeImageSize(fn string) (int, int, error) {
	f, err := os.Open(fn)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteKnownPoseModel synthesizes the minimal sparse-model file set
// (images.txt, cameras.txt, empty points3D.txt) under dir/sparse/0 from a
// dataset of per-frame camera-to-world poses, intrinsics, and images. Each
// image defines its own camera with matching 1-based ids. This is exactly
// the input Pipeline.Triangulate expects.
func WriteKnownPoseModel(dir string, cfg KnownPoseConfig, logger logging.Logger) error {
	sparseDir := SparseModelDir(dir)
	if err := os.MkdirAll(sparseDir, 0o755); err != nil {
		return err
	}

	poseDir := filepath.Join(dir, cfg.getPoseDirName())
	intrinsicDir := filepath.Join(dir, cfg.getIntrinsicDirName())
	imagesDir := filepath.Join(dir, cfg.getImagesDirName())

	if err := removeEditorArtifacts(imagesDir); err != nil {
		return err
	}

	poseFiles, err := listFiles(poseDir)
	if err != nil {
		return err
	}
	intrinsicFiles, err := listFiles(intrinsicDir)
	if err != nil {
		return err
	}
	imageFiles, err := listFiles(imagesDir)
	if err != nil {
		return err
	}
	if err := pairFiles(poseFiles, intrinsicFiles, imageFiles); err != nil {
		return err
	}

	if err := writeImagesText(filepath.Join(sparseDir, "images.txt"), poseDir, poseFiles, imageFiles); err != nil {
		return err
	}
	if err := writeCamerasText(filepath.Join(sparseDir, "cameras.txt"), intrinsicDir, intrinsicFiles, imagesDir, imageFiles, cfg, logger); err != nil {
		return err
	}

	// no prior sparse points
	f, err := os.Create(filepath.Join(sparseDir, "points3D.txt"))
	if err != nil {
		return err
	}
	return f.Close()
}

func writeImagesText(fn, poseDir string, poseFiles, imageFiles []string) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.WriteString("# Image list with two lines of data per image:\n")
	w.WriteString("#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME\n")
	w.WriteString("#   POINTS2D[] as (X, Y, POINT3D_ID)\n")

	for i, poseFile := range poseFiles {
		extrinsic, err := ReadMatrixFile(filepath.Join(poseDir, poseFile))
		if err != nil {
			return err
		}
		rot, t, err := invertExtrinsic(extrinsic)
		if err != nil {
			return errors.Wrap(err, poseFile)
		}
		q := MatrixToQuaternion(rot)

		id := i + 1
		fields := []string{
			strconv.Itoa(id),
			formatFloat(q.Real), formatFloat(q.Imag), formatFloat(q.Jmag), formatFloat(q.Kmag),
			formatFloat(t.X), formatFloat(t.Y), formatFloat(t.Z),
			strconv.Itoa(id),
			imageFiles[i],
		}
		w.WriteString(strings.Join(fields, " "))
		w.WriteString("\n\n")
	}
	return w.Flush()
}

func writeCamerasText(fn, intrinsicDir string, intrinsicFiles []string, imagesDir string, imageFiles []string, cfg KnownPoseConfig, logger logging.Logger) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.WriteString("# Camera list with one line of data per camera:\n")
	w.WriteString("#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]\n")

	for i, intrinsicFile := range intrinsicFiles {
		intrinsic, err := ReadMatrixFile(filepath.Join(intrinsicDir, intrinsicFile))
		if err != nil {
			return err
		}
		r, c := intrinsic.Dims()
		if r < 3 || c < 3 {
			return errors.Errorf("%s: intrinsic is %dx%d, want at least 3x3", intrinsicFile, r, c)
		}

		width, height, err := probeImageSize(filepath.Join(imagesDir, imageFiles[i]))
		if err != nil {
			width, height = cfg.getDefaultSize()
			logger.Warnf("could not read dimensions of %s, assuming %dx%d: %v", imageFiles[i], width, height, err)
		}

		fields := []string{
			strconv.Itoa(i + 1),
			"PINHOLE",
			strconv.Itoa(width),
			strconv.Itoa(height),
			formatFloat(intrinsic.At(0, 0)),
			formatFloat(intrinsic.At(1, 1)),
			formatFloat(intrinsic.At(0, 2)),
			formatFloat(intrinsic.At(1, 2)),
		}
		w.WriteString(strings.Join(fields, " "))
		w.WriteString("\n")
	}
	return w.Flush()
}
