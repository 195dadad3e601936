package main

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"runtime"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/framedetect/rimage"
	"go.viam.com/framedetect/services/detectlabel"
	"go.viam.com/framedetect/vision/objectdetection"
)

type imageResult struct {
	Path   string                           `json:"path"`
	Result *objectdetection.DetectionResult `json:"result"`
	Error  string                           `json:"error,omitempty"`
}

func pipelineConfig(c *cli.Context) *detectlabel.Config {
	return &detectlabel.Config{
		LabelPath:          c.String(flagLabels),
		InputSize:          c.Int(flagInputSize),
		DetectionsCapacity: c.Int(flagCapacity),
		NumThreads:         c.Int(flagThreads),
		ResizeMethod:       c.String(flagResize),
	}
}

// decodeImages decodes every path in parallel, keeping their order.
func decodeImages(c *cli.Context, paths []string) ([]image.Image, error) {
	imgs := make([]image.Image, len(paths))
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			//nolint:gosec
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer goutils.UncheckedErrorFunc(f.Close)
			img, _, err := rimage.DecodeImage(f)
			if err != nil {
				return errors.Wrapf(err, "%s", path)
			}
			imgs[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return imgs, nil
}

// DetectAction runs the model over each image argument and prints the results.
func DetectAction(c *cli.Context) error {
	paths := c.Args().Slice()
	if len(paths) == 0 {
		return errors.New("no images given")
	}
	format := c.String(flagFormat)
	if format != formatJSON && format != formatTable {
		return errors.Errorf("unknown format %q", format)
	}
	uri, err := modelURI(c.String(flagModel))
	if err != nil {
		return err
	}
	imgs, err := decodeImages(c, paths)
	if err != nil {
		return err
	}

	logger := newLogger(c)
	p, err := detectlabel.New(c.Context, pipelineConfig(c), logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(func() error { return p.Close(c.Context) })

	results := make([]imageResult, 0, len(paths))
	for i, img := range imgs {
		res, err := p.Detect(c.Context, rimage.FrameFromImage(img, c.Int(flagRotation)), uri)
		r := imageResult{Path: paths[i], Result: res}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}

	if format == formatJSON {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	writeTable(c.App.Writer, results, p.Labels(), float32(c.Float64(flagMinScore)))
	return nil
}

func writeTable(w io.Writer, results []imageResult, labels []string, minScore float32) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Image", "Label", "Score", "X", "Y", "Width", "Height"})
	for _, r := range results {
		if r.Result == nil {
			t.AppendRow(table.Row{r.Path, "error: " + r.Error})
			continue
		}
		dets := r.Result.Valid(objectdetection.NewScoreFilter(minScore))
		if len(dets) == 0 {
			t.AppendRow(table.Row{r.Path, "-"})
		}
		for _, d := range dets {
			t.AppendRow(table.Row{
				r.Path, d.Label(labels), fmt.Sprintf("%.3f", d.Score),
				fmt.Sprintf("%.3f", d.Box.X), fmt.Sprintf("%.3f", d.Box.Y),
				fmt.Sprintf("%.3f", d.Box.Width), fmt.Sprintf("%.3f", d.Box.Height),
			})
		}
	}
	t.Render()
}
