// Package frames samples frames from a video into numbered image files,
// the input an unknown-pose reconstruction starts from.
package frames

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"go.viam.com/rdk/logging"
)

type Config struct {
	// Interval is the sampling stride: every interval-th decoded frame is
	// written. Must be >= 1; zero means the default of 20.
	Interval int `json:"interval"`

	Verbose bool `json:"verbose"`
}

func (cfg *Config) getInterval() (int, error) {
	if cfg.Interval < 0 {
		return 0, fmt.Errorf("interval must be >= 1, got %d", cfg.Interval)
	}
	if cfg.Interval == 0 {
		return 20, nil
	}
	return cfg.Interval, nil
}

// Extract decodes videoPath sequentially and writes every interval-th
// frame to outputDir as IMG_<frame>.png with a 5-digit zero-padded source
// frame number. The output directory is created if absent. A video that
// cannot be opened is reported and skipped without error; callers should
// check for an empty output directory.
func Extract(videoPath, outputDir string, cfg Config, logger logging.Logger) error {
	interval, err := cfg.getInterval()
	if err != nil {
		return err
	}

	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		if cfg.Verbose {
			logger.Infof("creating output folder %s", outputDir)
		}
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return err
		}
	} else if cfg.Verbose {
		logger.Infof("output folder %s exists", outputDir)
	}

	vc, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		logger.Errorf("could not open video %s: %v", videoPath, err)
		return nil
	}
	defer vc.Close()
	if !vc.IsOpened() {
		logger.Errorf("could not open video %s", videoPath)
		return nil
	}

	if cfg.Verbose {
		logger.Infof("video resolution: %dx%d, fps: %.2f",
			int(vc.Get(gocv.VideoCaptureFrameWidth)),
			int(vc.Get(gocv.VideoCaptureFrameHeight)),
			vc.Get(gocv.VideoCaptureFPS))
		logger.Info("extracting frames...")
	}

	img := gocv.NewMat()
	defer img.Close()

	count := 0
	written := 0
	for vc.Read(&img) {
		if img.Empty() {
			continue
		}
		if count%interval == 0 {
			fn := filepath.Join(outputDir, fmt.Sprintf("IMG_%05d.png", count))
			if ok := gocv.IMWrite(fn, img); !ok {
				return errors.Errorf("failed writing frame %d to %s", count, fn)
			}
			written++
		}
		count++
	}

	if cfg.Verbose {
		logger.Infof("done extracting frames, wrote %d of %d", written, count)
	}
	return nil
}
