package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// ColorConverter turns raw frames into RGBA images. The output image is owned by the converter
// and reused across calls while the frame size stays the same.
type ColorConverter struct {
	buf *image.RGBA
}

func (c *ColorConverter) output(width, height int) *image.RGBA {
	if c.buf == nil || c.buf.Rect.Dx() != width || c.buf.Rect.Dy() != height {
		c.buf = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	return c.buf
}

// Convert converts a frame to RGB. YUV frames use BT.601 full range coefficients.
func (c *ColorConverter) Convert(f *Frame) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	dst := c.output(f.Width, f.Height)
	switch f.Format {
	case FormatI420:
		c.convertPlanarYUV(f, dst)
	case FormatNV12:
		c.convertSemiPlanarYUV(f, dst, 0, 1)
	case FormatNV21:
		c.convertSemiPlanarYUV(f, dst, 1, 0)
	case FormatRGBA:
		convertPacked(f, dst, 4, 0, 1, 2)
	case FormatBGRA:
		convertPacked(f, dst, 4, 2, 1, 0)
	case FormatRGB:
		convertPacked(f, dst, 3, 0, 1, 2)
	case FormatUnknown:
		fallthrough
	default:
		return nil, errors.Wrapf(ErrPreprocessingFailure, "unsupported pixel format %s", f.Format)
	}
	return dst, nil
}

func (c *ColorConverter) convertPlanarYUV(f *Frame, dst *image.RGBA) {
	yPlane, uPlane, vPlane := f.Planes[0], f.Planes[1], f.Planes[2]
	yStride, uStride, vStride := f.stride(0), f.stride(1), f.stride(2)
	for y := 0; y < f.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < f.Width; x++ {
			yy := yPlane[y*yStride+x]
			cb := uPlane[(y/2)*uStride+x/2]
			cr := vPlane[(y/2)*vStride+x/2]
			r, g, b := color.YCbCrToRGB(yy, cb, cr)
			row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = r, g, b, 0xff
		}
	}
}

// convertSemiPlanarYUV handles NV12 and NV21; uOff and vOff locate Cb and Cr in each chroma pair.
func (c *ColorConverter) convertSemiPlanarYUV(f *Frame, dst *image.RGBA, uOff, vOff int) {
	yPlane, uvPlane := f.Planes[0], f.Planes[1]
	yStride, uvStride := f.stride(0), f.stride(1)
	for y := 0; y < f.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < f.Width; x++ {
			yy := yPlane[y*yStride+x]
			pair := (y/2)*uvStride + (x/2)*2
			r, g, b := color.YCbCrToRGB(yy, uvPlane[pair+uOff], uvPlane[pair+vOff])
			row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = r, g, b, 0xff
		}
	}
}

func convertPacked(f *Frame, dst *image.RGBA, bpp, rOff, gOff, bOff int) {
	src, stride := f.Planes[0], f.stride(0)
	for y := 0; y < f.Height; y++ {
		in := src[y*stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < f.Width; x++ {
			p := in[x*bpp:]
			out[4*x], out[4*x+1], out[4*x+2], out[4*x+3] = p[rOff], p[gOff], p[bOff], 0xff
		}
	}
}
