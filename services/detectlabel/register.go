package detectlabel

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.viam.com/framedetect/registry"
	"go.viam.com/framedetect/rimage"
)

// FrameProcessorName is the name hosts call the pipeline by.
const FrameProcessorName = "detectLabel"

// Register exposes p to hosts as the "detectLabel" frame processor. The first argument is the
// model URI. The result is a plain map, or nil when the frame produced nothing.
func Register(p *Pipeline) {
	registry.RegisterFrameProcessor(FrameProcessorName, p.frameProcessor)
}

// Deregister removes the "detectLabel" frame processor.
func Deregister() {
	registry.DeregisterFrameProcessor(FrameProcessorName)
}

func (p *Pipeline) frameProcessor(ctx context.Context, frame *rimage.Frame, args ...interface{}) (interface{}, error) {
	if len(args) < 1 {
		return nil, errors.New("detectLabel needs a model path argument")
	}
	uri, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "model path argument")
	}
	res := p.DetectLabel(ctx, frame, uri)
	if res == nil {
		//nolint:nilnil
		return nil, nil
	}
	return res.Value(), nil
}
