package main

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/framedetect/rimage"
	"go.viam.com/framedetect/services/detectlabel"
)

// BenchAction times repeated detections on a single image. The first detection loads the model
// and is not counted.
func BenchAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("bench takes exactly one image")
	}
	iterations := c.Int(flagIterations)
	if iterations <= 0 {
		return errors.Errorf("iterations must be positive, got %d", iterations)
	}
	uri, err := modelURI(c.String(flagModel))
	if err != nil {
		return err
	}
	imgs, err := decodeImages(c, c.Args().Slice())
	if err != nil {
		return err
	}

	p, err := detectlabel.New(c.Context, pipelineConfig(c), newLogger(c))
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(func() error { return p.Close(c.Context) })

	frame := rimage.FrameFromImage(imgs[0], c.Int(flagRotation))
	loadStart := time.Now()
	if _, err := p.Detect(c.Context, frame, uri); err != nil {
		return err
	}
	loadTime := time.Since(loadStart)

	latencies := make(stats.Float64Data, 0, iterations)
	for i := 0; i < iterations; i++ {
		if err := c.Context.Err(); err != nil {
			return err
		}
		start := time.Now()
		if _, err := p.Detect(c.Context, frame, uri); err != nil {
			return err
		}
		latencies = append(latencies, float64(time.Since(start))/float64(time.Millisecond))
	}
	mean, err := stats.Mean(latencies)
	if err != nil {
		return err
	}
	median, err := stats.Median(latencies)
	if err != nil {
		return err
	}
	p95, err := stats.Percentile(latencies, 95)
	if err != nil {
		return err
	}

	info, _ := p.ModelInfo()
	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendRows([]table.Row{
		{"model", info.Path},
		{"size", units.HumanSize(float64(info.Size))},
		{"input", info.Input.String()},
		{"first detection", loadTime.Round(time.Microsecond).String()},
		{"iterations", iterations},
		{"mean", fmt.Sprintf("%.2fms", mean)},
		{"median", fmt.Sprintf("%.2fms", median)},
		{"p95", fmt.Sprintf("%.2fms", p95)},
	})
	t.Render()
	return nil
}
