package viamcolmap

import (
	"bufio"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/utils/pexec"
)

// SceneConfig controls what goes into a sparse-model scene.
type SceneConfig struct {
	// DepthScale adjusts the rendered camera frustum size to the scale of
	// the scene; the frustum depth is 0.02 * DepthScale.
	DepthScale float64 `json:"depth-scale"`

	// Subsample keeps every n-th ground-truth point; use a larger value
	// for large meshes.
	Subsample int `json:"subsample"`

	IncludePoints   bool   `json:"include-points"`
	GroundTruthPath string `json:"ground-truth"`
}

func (cfg *SceneConfig) getDepthScale() float64 {
	if cfg.DepthScale <= 0 {
		return 1
	}
	return cfg.DepthScale
}

func (cfg *SceneConfig) getSubsample() int {
	if cfg.Subsample <= 0 {
		return 100
	}
	return cfg.Subsample
}

// trace is a plotly scatter3d trace.
type trace struct {
	Type      string                 `json:"type"`
	X         []float64              `json:"x"`
	Y         []float64              `json:"y"`
	Z         []float64              `json:"z"`
	Mode      string                 `json:"mode"`
	Name      string                 `json:"name,omitempty"`
	HoverInfo string                 `json:"hoverinfo,omitempty"`
	Marker    map[string]interface{} `json:"marker,omitempty"`
	Line      map[string]interface{} `json:"line,omitempty"`
	ShowLeg   *bool                  `json:"showlegend,omitempty"`
}

// Scene is a renderable 3D view of a sparse model: camera frusta, the
// sparse point cloud, and an optional ground-truth cloud for comparison.
type Scene struct {
	traces []trace
	logger logging.Logger
}

// NewScene builds a scene from the sparse model under dir/sparse/0.
func NewScene(dir string, cfg SceneConfig, logger logging.Logger) (*Scene, error) {
	poses, err := PosesFromFile(filepath.Join(SparseModelDir(dir), "images.txt"))
	if err != nil {
		return nil, err
	}

	s := &Scene{logger: logger}
	visDepth := 0.02 * cfg.getDepthScale()
	for _, pose := range poses {
		s.traces = append(s.traces, frustumTrace(pose, visDepth))
	}

	if cfg.IncludePoints {
		pc, err := SparseCloud(filepath.Join(SparseModelDir(dir), "points3D.txt"))
		if err != nil {
			return nil, err
		}
		s.traces = append(s.traces, cloudTrace(pc, 1, "COLMAP"))
	}

	if cfg.GroundTruthPath != "" {
		gt, err := LoadGroundTruth(cfg.GroundTruthPath, logger)
		if err != nil {
			return nil, err
		}
		s.traces = append(s.traces, cloudTrace(gt, cfg.getSubsample(), "GT"))
	}

	return s, nil
}

// frustumTrace draws one camera as a wireframe pyramid: the camera center
// plus four image-plane corners at the visualization depth, all in world
// coordinates.
func frustumTrace(pose Pose, depth float64) trace {
	center := pose.Center()

	// corners in the camera frame, then rotated into the world by R^T
	half := 0.8 * depth
	corners := [][3]float64{
		{-half, -half, depth},
		{half, -half, depth},
		{half, half, depth},
		{-half, half, depth},
	}
	world := make([]r3.Vector, 4)
	for i, c := range corners {
		world[i] = r3.Vector{
			X: center.X + pose.Rotation.At(0, 0)*c[0] + pose.Rotation.At(1, 0)*c[1] + pose.Rotation.At(2, 0)*c[2],
			Y: center.Y + pose.Rotation.At(0, 1)*c[0] + pose.Rotation.At(1, 1)*c[1] + pose.Rotation.At(2, 1)*c[2],
			Z: center.Z + pose.Rotation.At(0, 2)*c[0] + pose.Rotation.At(1, 2)*c[1] + pose.Rotation.At(2, 2)*c[2],
		}
	}

	// one polyline covering the four spokes and the rim
	path := []r3.Vector{
		center, world[0], world[1],
		center, world[1], world[2],
		center, world[2], world[3],
		center, world[3], world[0],
	}
	tr := trace{
		Type:      "scatter3d",
		Mode:      "lines",
		Name:      "cam " + strconv.Itoa(pose.ImageID),
		HoverInfo: "skip",
		Line:      map[string]interface{}{"width": 2},
	}
	showLegend := false
	tr.ShowLeg = &showLegend
	for _, v := range path {
		tr.X = append(tr.X, v.X)
		tr.Y = append(tr.Y, v.Y)
		tr.Z = append(tr.Z, v.Z)
	}
	return tr
}

func cloudTrace(pc pointcloud.PointCloud, subsample int, name string) trace {
	tr := trace{
		Type:      "scatter3d",
		Mode:      "markers",
		Name:      name,
		HoverInfo: "skip",
		Marker:    map[string]interface{}{"size": 1, "opacity": 1},
	}
	i := 0
	pc.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		if i%subsample == 0 {
			tr.X = append(tr.X, p.X)
			tr.Y = append(tr.Y, p.Y)
			tr.Z = append(tr.Z, p.Z)
		}
		i++
		return true
	})
	return tr
}

// LoadGroundTruth loads a ground-truth cloud for comparison: vertices of
// an .obj mesh, or any point-cloud format pointcloud.NewFromFile knows.
func LoadGroundTruth(fn string, logger logging.Logger) (pointcloud.PointCloud, error) {
	if filepath.Ext(fn) == ".obj" {
		return objVertices(fn)
	}
	return pointcloud.NewFromFile(fn, logger)
}

// objVertices extracts only the vertex positions of a Wavefront .obj mesh.
func objVertices(fn string) (pointcloud.PointCloud, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pc := pointcloud.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != "v" {
			continue
		}
		var v [3]float64
		for i := 0; i < 3; i++ {
			v[i], err = strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad vertex in %s", fn)
			}
		}
		if err := pc.Set(r3.Vector{X: v[0], Y: v[1], Z: v[2]}, pointcloud.NewBasicData()); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if pc.Size() == 0 {
		return nil, errors.Errorf("no vertices in %s", fn)
	}
	return pc, nil
}

var sceneTemplate = template.Must(template.New("scene").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<script src="https://cdn.plot.ly/plotly-2.27.0.min.js"></script>
</head>
<body>
<div id="scene"></div>
<script>
Plotly.newPlot("scene", {{.Data}}, {{.Layout}});
</script>
</body>
</html>
`))

func sceneLayout() map[string]interface{} {
	axis := func(title string) map[string]interface{} {
		return map[string]interface{}{
			"title":           title,
			"showspikes":      false,
			"backgroundcolor": "rgba(0,0,0,0)",
			"gridcolor":       "rgba(0,0,0,0.1)",
		}
	}
	return map[string]interface{}{
		"height": 800,
		"scene": map[string]interface{}{
			"xaxis":       axis("X"),
			"yaxis":       axis("Y"),
			"zaxis":       axis("Z"),
			"dragmode":    "orbit",
			"aspectratio": map[string]interface{}{"x": 1, "y": 1, "z": 1},
			"aspectmode":  "data",
		},
	}
}

// WriteHTML renders the scene as a self-contained interactive document.
func (s *Scene) WriteHTML(w io.Writer) error {
	data, err := json.Marshal(s.traces)
	if err != nil {
		return err
	}
	layout, err := json.Marshal(sceneLayout())
	if err != nil {
		return err
	}
	return sceneTemplate.Execute(w, map[string]interface{}{
		"Data":   template.JS(data),
		"Layout": template.JS(layout),
	})
}

// Show writes the scene to a temporary file and opens it in the system
// viewer. It blocks until the viewer command exits.
func (s *Scene) Show(ctx context.Context) error {
	f, err := os.CreateTemp("", "sparse-scene-*.html")
	if err != nil {
		return err
	}
	if err := s.WriteHTML(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.logger.Infof("scene written to %s", f.Name())

	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	proc := pexec.NewManagedProcess(pexec.ProcessConfig{
		ID:      "scene_viewer",
		Name:    opener,
		Args:    []string{f.Name()},
		OneShot: true,
		Log:     true,
	}, s.logger.AsZap())
	return proc.Start(ctx)
}
