package main

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/rimage"
)

const (
	flagModel        = "model"
	flagLabels       = "labels"
	flagRotation     = "rotation"
	flagFormat       = "format"
	flagMinScore     = "min-score"
	flagInputSize    = "input-size"
	flagCapacity     = "capacity"
	flagThreads      = "threads"
	flagResize       = "resize"
	flagConfig       = "config"
	flagIterations   = "iterations"
	flagDebug        = "debug"
	formatJSON       = "json"
	formatTable      = "table"
	defaultBenchRuns = 50
)

var pipelineFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     flagModel,
		Aliases:  []string{"m"},
		Required: true,
		Usage:    "model `FILE` or file:// URI",
	},
	&cli.IntFlag{
		Name:  flagInputSize,
		Usage: "side of the model's square input",
	},
	&cli.IntFlag{
		Name:  flagCapacity,
		Usage: "number of detection slots the model outputs",
	},
	&cli.IntFlag{
		Name:  flagThreads,
		Usage: "inference threads",
	},
	&cli.StringFlag{
		Name:  flagResize,
		Value: string(rimage.ResizeNearest),
		Usage: "resize method, nearest or bilinear",
	},
	&cli.IntFlag{
		Name:  flagRotation,
		Usage: "clockwise rotation in degrees that makes the images upright",
	},
}

// NewApp returns the command line app writing to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "detectlabel",
		Usage:           "detect objects in camera frames",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run detection on image files",
				UsageText: "detectlabel detect --model <model> [other options] <image>...",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  flagLabels,
						Usage: "label `FILE` used to name categories",
					},
					&cli.StringFlag{
						Name:  flagFormat,
						Value: formatTable,
						Usage: "output format, json or table",
					},
					&cli.Float64Flag{
						Name:  flagMinScore,
						Value: 0.5,
						Usage: "lowest score shown in table output",
					},
				}, pipelineFlags...),
				Action: DetectAction,
			},
			{
				Name:  "serve",
				Usage: "serve detections over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Required: true,
						Usage:    "load configuration from `FILE`",
					},
				},
				Action: ServeAction,
			},
			{
				Name:   "schema",
				Usage:  "print the JSON schema of the detector attributes",
				Action: SchemaAction,
			},
			{
				Name:      "bench",
				Usage:     "measure inference latency on one image",
				UsageText: "detectlabel bench --model <model> [other options] <image>",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  flagIterations,
						Value: defaultBenchRuns,
						Usage: "number of timed detections",
					},
				}, pipelineFlags...),
				Action: BenchAction,
			},
		},
	}
}

// newLogger logs to the app's error writer so that results on stdout stay machine readable.
func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewBlankLogger("detectlabel")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if !c.Bool(flagDebug) {
		logger.SetLevel(logging.INFO)
	}
	return logger
}

// modelURI turns a plain path into a file URI. URIs are passed through for the loader to judge.
func modelURI(model string) (string, error) {
	if strings.Contains(model, "://") {
		return model, nil
	}
	abs, err := filepath.Abs(model)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}
