// Package viamcolmap wraps the COLMAP structure-from-motion tool: it
// orchestrates reconstruction and known-pose triangulation runs, reads and
// writes the sparse-model text schema, and renders the result for visual
// inspection. It also exposes the sparse model as a camera component.
package viamcolmap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage/transform"
)

var (
	SparseModel      = resource.NewModel("viamlabs", "colmap", "sparse-model")
	errUnimplemented = errors.New("unimplemented")
)

func init() {
	resource.RegisterComponent(camera.API, SparseModel,
		resource.Registration[camera.Camera, *Config]{
			Constructor: newSparseModelCamera,
		},
	)
}

type Config struct {
	// ModelDir is the reconstruction directory; the sparse model lives in
	// its sparse/0 subdirectory.
	ModelDir string `json:"model-dir"`

	Pipeline  PipelineConfig  `json:"pipeline"`
	Scene     SceneConfig     `json:"scene"`
	KnownPose KnownPoseConfig `json:"known-pose"`
}

func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("need model-dir")
	}
	return nil, nil
}

type sparseModelCamera struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	cfg    *Config

	cancelCtx  context.Context
	cancelFunc func()

	pipeline *Pipeline
}

func newSparseModelCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewSparseModelCamera(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewSparseModelCamera(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (camera.Camera, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &sparseModelCamera{
		name:       name,
		logger:     logger,
		cfg:        conf,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		pipeline:   NewPipeline(conf.Pipeline, logger),
	}

	return s, nil
}

func (s *sparseModelCamera) Name() resource.Name {
	return s.name
}

func (s *sparseModelCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("need a command string")
	}

	switch command {
	case "reconstruct":
		if err := s.pipeline.Reconstruct(ctx, s.cfg.ModelDir); err != nil {
			return nil, err
		}
	case "triangulate":
		imagesDirName, _ := cmd["images-dir"].(string)
		if err := s.pipeline.Triangulate(ctx, s.cfg.ModelDir, imagesDirName); err != nil {
			return nil, err
		}
	case "convert":
		if err := s.pipeline.ConvertToText(ctx, s.cfg.ModelDir); err != nil {
			return nil, err
		}
	case "synthesize":
		if err := WriteKnownPoseModel(s.cfg.ModelDir, s.cfg.KnownPose, s.logger); err != nil {
			return nil, err
		}
	case "visualize":
		scene, err := NewScene(s.cfg.ModelDir, s.cfg.Scene, s.logger)
		if err != nil {
			return nil, err
		}
		if err := scene.Show(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}

	return map[string]interface{}{"ok": true}, nil
}

func (s *sparseModelCamera) Close(context.Context) error {
	s.cancelFunc()
	return nil
}

func (s *sparseModelCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	return nil, camera.ImageMetadata{}, errUnimplemented
}

func (s *sparseModelCamera) Images(ctx context.Context) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	return nil, resource.ResponseMetadata{}, errUnimplemented
}

func (s *sparseModelCamera) NextPointCloud(ctx context.Context) (pointcloud.PointCloud, error) {
	return SparseCloud(filepath.Join(SparseModelDir(s.cfg.ModelDir), "points3D.txt"))
}

func (s *sparseModelCamera) Properties(ctx context.Context) (camera.Properties, error) {
	props := camera.Properties{
		SupportsPCD: true,
	}

	cameras, err := ReadCamerasText(filepath.Join(SparseModelDir(s.cfg.ModelDir), "cameras.txt"))
	if err != nil {
		s.logger.Debugf("no camera intrinsics available: %v", err)
		return props, nil
	}
	ids := make([]int, 0, len(cameras))
	for id := range cameras {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		cam := cameras[id]
		if cam.Model != "PINHOLE" || len(cam.Params) < 4 {
			continue
		}
		props.IntrinsicParams = &transform.PinholeCameraIntrinsics{
			Width:  cam.Width,
			Height: cam.Height,
			Fx:     cam.Params[0],
			Fy:     cam.Params[1],
			Ppx:    cam.Params[2],
			Ppy:    cam.Params[3],
		}
		break
	}
	return props, nil
}
