package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"go.viam.com/rdk/logging"

	"viamcolmap"
	"viamcolmap/frames"
)

func main() {
	logger := logging.NewLogger("cli")

	dirFlag := &cli.StringFlag{
		Name:     "dir",
		Usage:    "reconstruction directory",
		Required: true,
	}
	gpuFlag := &cli.BoolFlag{
		Name:  "gpu",
		Usage: "use the GPU for feature extraction and matching",
		Value: true,
	}

	pipeline := func(c *cli.Context) *viamcolmap.Pipeline {
		return viamcolmap.NewPipeline(viamcolmap.PipelineConfig{
			Executable: c.String("executable"),
			UseGPU:     c.Bool("gpu"),
		}, logger)
	}

	app := &cli.App{
		Name:  "colmap-cli",
		Usage: "drive COLMAP sparse reconstruction and its file formats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "executable",
				Usage: "path to the colmap binary",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "extract-frames",
				Usage: "sample frames from a video into an image directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "video", Required: true},
					&cli.StringFlag{Name: "out", Required: true},
					&cli.IntFlag{Name: "interval", Value: 20},
				},
				Action: func(c *cli.Context) error {
					return frames.Extract(c.String("video"), c.String("out"), frames.Config{
						Interval: c.Int("interval"),
						Verbose:  true,
					}, logger)
				},
			},
			{
				Name:  "reconstruct",
				Usage: "run the full unknown-pose pipeline",
				Flags: []cli.Flag{dirFlag, gpuFlag},
				Action: func(c *cli.Context) error {
					return pipeline(c).Reconstruct(c.Context, c.String("dir"))
				},
			},
			{
				Name:  "triangulate",
				Usage: "triangulate points against a known-pose sparse model",
				Flags: []cli.Flag{
					dirFlag, gpuFlag,
					&cli.StringFlag{Name: "images-dir", Value: "images"},
				},
				Action: func(c *cli.Context) error {
					return pipeline(c).Triangulate(c.Context, c.String("dir"), c.String("images-dir"))
				},
			},
			{
				Name:  "convert",
				Usage: "convert the sparse model to the text schema",
				Flags: []cli.Flag{dirFlag},
				Action: func(c *cli.Context) error {
					return pipeline(c).ConvertToText(c.Context, c.String("dir"))
				},
			},
			{
				Name:  "synth",
				Usage: "synthesize a known-pose sparse model from a pose/intrinsic/images dataset",
				Flags: []cli.Flag{dirFlag},
				Action: func(c *cli.Context) error {
					return viamcolmap.WriteKnownPoseModel(c.String("dir"), viamcolmap.KnownPoseConfig{}, logger)
				},
			},
			{
				Name:  "visualize",
				Usage: "render the sparse model as an interactive 3D scene",
				Flags: []cli.Flag{
					dirFlag,
					&cli.Float64Flag{Name: "depth-scale", Value: 1},
					&cli.IntFlag{Name: "subsample", Value: 100},
					&cli.BoolFlag{Name: "points", Value: true},
					&cli.StringFlag{Name: "gt", Usage: "ground-truth point cloud or mesh"},
				},
				Action: func(c *cli.Context) error {
					scene, err := viamcolmap.NewScene(c.String("dir"), viamcolmap.SceneConfig{
						DepthScale:      c.Float64("depth-scale"),
						Subsample:       c.Int("subsample"),
						IncludePoints:   c.Bool("points"),
						GroundTruthPath: c.String("gt"),
					}, logger)
					if err != nil {
						return err
					}
					return scene.Show(c.Context)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}
