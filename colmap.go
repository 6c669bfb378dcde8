package viamcolmap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils/pexec"
)

// DefaultExecutableName is what this package expects to call to run the
// reconstruction tool.
const DefaultExecutableName = "colmap"

// PipelineConfig holds the knobs passed through to the COLMAP binary.
type PipelineConfig struct {
	Executable string `json:"executable"`
	UseGPU     bool   `json:"use-gpu"`

	NumThreads  int     `json:"num-threads"`
	MinTriAngle float64 `json:"min-tri-angle"`
}

func (cfg *PipelineConfig) getExecutable() string {
	if cfg.Executable == "" {
		return DefaultExecutableName
	}
	return cfg.Executable
}

func (cfg *PipelineConfig) getNumThreads() int {
	if cfg.NumThreads <= 0 {
		return 16
	}
	return cfg.NumThreads
}

func (cfg *PipelineConfig) getMinTriAngle() float64 {
	if cfg.MinTriAngle <= 0 {
		return 4
	}
	return cfg.MinTriAngle
}

// StepError reports a failed pipeline step, including the arguments the
// external tool was invoked with.
type StepError struct {
	Step string
	Args []string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("colmap %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline orchestrates the external reconstruction tool. Each step blocks
// until the tool's process exits; a non-zero exit aborts the pipeline with
// a StepError rather than proceeding against missing outputs.
type Pipeline struct {
	cfg    PipelineConfig
	logger logging.Logger
}

func NewPipeline(cfg PipelineConfig, logger logging.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger}
}

func (p *Pipeline) run(ctx context.Context, step string, args []string) error {
	p.logger.Debugf("running %s %v", p.cfg.getExecutable(), args)
	proc := pexec.NewManagedProcess(pexec.ProcessConfig{
		ID:      "colmap_" + step,
		Name:    p.cfg.getExecutable(),
		Args:    args,
		OneShot: true,
		Log:     true,
	}, p.logger.AsZap())
	if err := proc.Start(ctx); err != nil {
		return &StepError{Step: step, Args: args, Err: err}
	}
	return nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (p *Pipeline) featureExtractorArgs(databasePath, imagePath string, singleCamera bool) []string {
	args := []string{
		"feature_extractor",
		"--database_path", databasePath,
		"--image_path", imagePath,
	}
	if singleCamera {
		args = append(args, "--ImageReader.single_camera", "1")
	}
	return append(args,
		"--ImageReader.camera_model", "PINHOLE",
		"--SiftExtraction.use_gpu", boolArg(p.cfg.UseGPU),
	)
}

func (p *Pipeline) exhaustiveMatcherArgs(databasePath string) []string {
	return []string{
		"exhaustive_matcher",
		"--database_path", databasePath,
		"--SiftMatching.use_gpu", boolArg(p.cfg.UseGPU),
	}
}

func (p *Pipeline) mapperArgs(databasePath, imagePath, outputPath string) []string {
	return []string{
		"mapper",
		"--database_path", databasePath,
		"--image_path", imagePath,
		"--output_path", outputPath,
		"--Mapper.num_threads", strconv.Itoa(p.cfg.getNumThreads()),
		"--Mapper.init_min_tri_angle", strconv.FormatFloat(p.cfg.getMinTriAngle(), 'g', -1, 64),
		"--Mapper.multiple_models", "0",
		"--Mapper.extract_colors", "0",
	}
}

func (p *Pipeline) pointTriangulatorArgs(databasePath, imagePath, sparsePath string) []string {
	return []string{
		"point_triangulator",
		"--clear_points", "1",
		"--database_path", databasePath,
		"--image_path", imagePath,
		"--input_path", sparsePath,
		"--output_path", sparsePath,
	}
}

func (p *Pipeline) modelConverterArgs(modelPath string) []string {
	return []string{
		"model_converter",
		"--input_path", modelPath,
		"--output_path", modelPath,
		"--output_type", "TXT",
	}
}

// SparseModelDir returns the conventional location of the first sparse
// model under a reconstruction directory.
func SparseModelDir(dir string) string {
	return filepath.Join(dir, "sparse", "0")
}

// removeEditorArtifacts clears stray checkpoint directories an editor may
// have left inside the image directory; COLMAP would otherwise try to read
// them as images.
func removeEditorArtifacts(imagesDir string) error {
	return os.RemoveAll(filepath.Join(imagesDir, ".ipynb_checkpoints"))
}

// Reconstruct runs the full unknown-pose pipeline on dir: feature
// extraction over dir/images with a single pinhole camera, exhaustive
// matching, incremental mapping into dir/sparse, and a final conversion
// of the model to the text schema.
func (p *Pipeline) Reconstruct(ctx context.Context, dir string) error {
	databasePath := filepath.Join(dir, "database.db")
	imagesDir := filepath.Join(dir, "images")

	if err := removeEditorArtifacts(imagesDir); err != nil {
		return err
	}
	if err := p.run(ctx, "feature_extractor", p.featureExtractorArgs(databasePath, imagesDir, true)); err != nil {
		return err
	}
	if err := p.run(ctx, "exhaustive_matcher", p.exhaustiveMatcherArgs(databasePath)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, "sparse"), 0o755); err != nil {
		return errors.Wrap(err, "creating sparse output dir")
	}
	if err := p.run(ctx, "mapper", p.mapperArgs(databasePath, imagesDir, filepath.Join(dir, "sparse"))); err != nil {
		return err
	}
	return p.ConvertToText(ctx, dir)
}

// Triangulate runs the known-pose pipeline: features and matches are
// computed over dir/imagesDirName, then points are triangulated against
// the pre-existing sparse model in dir/sparse/0 (clearing any points it
// already holds), and the model is converted to the text schema.
// imagesDirName defaults to "images".
func (p *Pipeline) Triangulate(ctx context.Context, dir, imagesDirName string) error {
	if imagesDirName == "" {
		imagesDirName = "images"
	}
	databasePath := filepath.Join(dir, "database.db")
	imagesDir := filepath.Join(dir, imagesDirName)
	sparsePath := SparseModelDir(dir)

	if err := removeEditorArtifacts(imagesDir); err != nil {
		return err
	}
	if err := p.run(ctx, "feature_extractor", p.featureExtractorArgs(databasePath, imagesDir, false)); err != nil {
		return err
	}
	if err := p.run(ctx, "exhaustive_matcher", p.exhaustiveMatcherArgs(databasePath)); err != nil {
		return err
	}
	if err := p.run(ctx, "point_triangulator", p.pointTriangulatorArgs(databasePath, imagesDir, sparsePath)); err != nil {
		return err
	}
	return p.ConvertToText(ctx, dir)
}

// ConvertToText converts the binary sparse model in dir/sparse/0 to the
// text schema, in place.
func (p *Pipeline) ConvertToText(ctx context.Context, dir string) error {
	return p.run(ctx, "model_converter", p.modelConverterArgs(SparseModelDir(dir)))
}
