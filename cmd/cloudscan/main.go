// Command cloudscan replays a recorded point cloud topic through the
// cloud-to-scan pipeline and logs a summary of every produced scan.
package main

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/stwirth/pointcloud-to-laserscan/converter"
	"github.com/stwirth/pointcloud-to-laserscan/frame"
	"github.com/stwirth/pointcloud-to-laserscan/node"
	"github.com/stwirth/pointcloud-to-laserscan/ros"
	"github.com/stwirth/pointcloud-to-laserscan/spatialmath"
)

var logger = golog.NewDevelopmentLogger("cloudscan")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	BagFile     string `flag:"0,required,usage=rosbag with the recorded point cloud topic"`
	Topic       string `flag:"topic,default=/camera/depth/points,usage=point cloud topic to replay"`
	ConfigFile  string `flag:"config,usage=JSON5 config overlaying the defaults"`
	CameraFrame string `flag:"camera-frame,default=camera_rgb_optical_frame,usage=frame the recorded clouds are expressed in"`
}

// appConfig is the on-disk configuration: converter parameters plus where the
// camera is mounted on the body.
type appConfig struct {
	Converter converter.Config `json:"converter"`
	Mount     mountConfig      `json:"mount"`
}

// mountConfig is the camera's fixed pose in the reference frame.
type mountConfig struct {
	Translation struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"translation"`
	Rotation spatialmath.R4AA `json:"rotation"`
}

func defaultAppConfig() appConfig {
	cfg := appConfig{Converter: converter.DefaultConfig()}
	cfg.Mount.Rotation = *spatialmath.NewR4AA()
	return cfg
}

func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if path == "" {
		return cfg, nil
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "unable to read config %s", path)
	}
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "unable to parse config %s", path)
	}
	return cfg, nil
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := loadConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	for _, warning := range cfg.Converter.Validate(argsParsed.ConfigFile) {
		logger.Warn(warning)
	}

	return replayBag(ctx, argsParsed, cfg, logger)
}

func replayBag(ctx context.Context, args Arguments, cfg appConfig, logger golog.Logger) (err error) {
	source, err := ros.NewBagSource(args.BagFile, args.Topic, logger)
	if err != nil {
		return err
	}

	buffer := frame.NewBuffer()
	mount := spatialmath.NewPoseFromAxisAngle(
		r3.Vector{X: cfg.Mount.Translation.X, Y: cfg.Mount.Translation.Y, Z: cfg.Mount.Translation.Z},
		&cfg.Mount.Rotation,
	)
	if err := buffer.SendTransform(frame.StampedPose{
		Parent: cfg.Converter.RefFrameID,
		Child:  args.CameraFrame,
		Pose:   mount,
	}); err != nil {
		return err
	}

	n := node.New(cfg.Converter, source, buffer, buffer, logger)
	defer func() {
		err = multierr.Combine(err, n.Close(context.Background()))
	}()

	scans, err := n.Subscribe()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, scans.Close())
	}()

	produced := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-scans.C:
			if !ok {
				logger.Infow("replay complete", "scans", produced)
				return nil
			}
			produced++
			hits := out.Measurements()
			if len(hits) == 0 {
				logger.Infow("scan", "stamp", out.Stamp, "hits", 0)
				continue
			}
			closest := hits[0]
			for _, m := range hits[1:] {
				if m.Distance() < closest.Distance() {
					closest = m
				}
			}
			logger.Infow("scan",
				"stamp", out.Stamp,
				"hits", len(hits),
				"closest_m", closest.Distance(),
				"closest_deg", closest.AngleDeg(),
			)
		}
	}
}
