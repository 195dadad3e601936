package rimage

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"go.viam.com/framedetect/utils"
)

// Rotate turns img clockwise by degrees so that a frame reporting that rotation becomes upright.
// Only multiples of 90 are supported.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	if degrees%90 != 0 {
		return nil, errors.Wrapf(ErrPreprocessingFailure, "rotation %d is not a multiple of 90", degrees)
	}
	// imaging rotates counter-clockwise
	switch int(utils.ModAngDeg(float64(degrees))) {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	default:
		return nil, errors.Wrapf(ErrPreprocessingFailure, "unsupported rotation %d", degrees)
	}
}

// ResizeMethod selects the interpolation used to scale frames to the model input.
type ResizeMethod string

// Supported resize methods.
const (
	ResizeNearest  ResizeMethod = "nearest"
	ResizeBilinear ResizeMethod = "bilinear"
)

// Resizer scales images into a reused destination buffer.
type Resizer struct {
	Method ResizeMethod
	buf    *image.RGBA
}

// Resize scales src to width x height. The returned image is only valid until the next call.
func (r *Resizer) Resize(src image.Image, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrPreprocessingFailure, "invalid target size %dx%d", width, height)
	}
	if src.Bounds().Empty() {
		return nil, errors.Wrap(ErrPreprocessingFailure, "cannot resize an empty image")
	}
	if r.buf == nil || r.buf.Rect.Dx() != width || r.buf.Rect.Dy() != height {
		r.buf = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	switch r.Method {
	case ResizeNearest, "":
		draw.NearestNeighbor.Scale(r.buf, r.buf.Bounds(), src, src.Bounds(), draw.Src, nil)
	case ResizeBilinear:
		scaled := resize.Resize(uint(width), uint(height), src, resize.Bilinear)
		draw.Draw(r.buf, r.buf.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	default:
		return nil, errors.Errorf("unknown resize method %q", r.Method)
	}
	return r.buf, nil
}
