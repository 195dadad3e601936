package rimage

import (
	"image"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// ErrPreprocessingFailure is returned when a frame cannot be turned into a model input.
var ErrPreprocessingFailure = errors.New("preprocessing failure")

// PixelFormat is the memory layout of a raw camera frame.
type PixelFormat int

// The supported frame layouts.
const (
	FormatUnknown PixelFormat = iota
	// FormatI420 is planar YUV 4:2:0 with separate U and V planes.
	FormatI420
	// FormatNV12 is a Y plane followed by an interleaved UV plane.
	FormatNV12
	// FormatNV21 is a Y plane followed by an interleaved VU plane.
	FormatNV21
	FormatRGBA
	FormatBGRA
	FormatRGB
)

var pixelFormatNames = map[PixelFormat]string{
	FormatI420: "i420",
	FormatNV12: "nv12",
	FormatNV21: "nv21",
	FormatRGBA: "rgba",
	FormatBGRA: "bgra",
	FormatRGB:  "rgb",
}

func (pf PixelFormat) String() string {
	if name, ok := pixelFormatNames[pf]; ok {
		return name
	}
	return "unknown"
}

// PixelFormatFromString parses a format name such as "nv21" or "BGRA".
func PixelFormatFromString(s string) (PixelFormat, error) {
	s = strings.ToLower(s)
	if s == "yuv420p" || s == "yuv" {
		return FormatI420, nil
	}
	for pf, name := range pixelFormatNames {
		if name == s {
			return pf, nil
		}
	}
	return FormatUnknown, errors.Errorf("unknown pixel format %q", s)
}

func (pf PixelFormat) planes() int {
	switch pf {
	case FormatI420:
		return 3
	case FormatNV12, FormatNV21:
		return 2
	case FormatRGBA, FormatBGRA, FormatRGB:
		return 1
	case FormatUnknown:
		fallthrough
	default:
		return 0
	}
}

// Frame is a raw camera frame as delivered by the host. Rotation is the clockwise rotation in
// degrees that makes the frame upright.
type Frame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Rotation  int
	Timestamp time.Time
	Planes    [][]byte
	// Strides are the row lengths in bytes of each plane. Tightly packed rows are assumed when nil.
	Strides []int
}

func halfUp(n int) int {
	return (n + 1) / 2
}

// stride returns the row length of plane i.
func (f *Frame) stride(i int) int {
	if i < len(f.Strides) && f.Strides[i] > 0 {
		return f.Strides[i]
	}
	return f.rowBytes(i)
}

// rowBytes is the number of meaningful bytes in a row of plane i.
func (f *Frame) rowBytes(i int) int {
	switch f.Format {
	case FormatI420:
		if i == 0 {
			return f.Width
		}
		return halfUp(f.Width)
	case FormatNV12, FormatNV21:
		if i == 0 {
			return f.Width
		}
		return 2 * halfUp(f.Width)
	case FormatRGBA, FormatBGRA:
		return 4 * f.Width
	case FormatRGB:
		return 3 * f.Width
	case FormatUnknown:
		fallthrough
	default:
		return 0
	}
}

func (f *Frame) rows(i int) int {
	if i > 0 {
		return halfUp(f.Height)
	}
	return f.Height
}

// Validate checks the frame's dimensions and that every plane holds enough bytes.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.Wrap(ErrPreprocessingFailure, "nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(ErrPreprocessingFailure, "invalid frame size %dx%d", f.Width, f.Height)
	}
	n := f.Format.planes()
	if n == 0 {
		return errors.Wrapf(ErrPreprocessingFailure, "unsupported pixel format %d", int(f.Format))
	}
	if len(f.Planes) < n {
		return errors.Wrapf(ErrPreprocessingFailure, "%s frame needs %d planes, got %d", f.Format, n, len(f.Planes))
	}
	for i := 0; i < n; i++ {
		stride, row := f.stride(i), f.rowBytes(i)
		if stride < row {
			return errors.Wrapf(ErrPreprocessingFailure, "plane %d stride %d is shorter than a row (%d)", i, stride, row)
		}
		need := stride*(f.rows(i)-1) + row
		if len(f.Planes[i]) < need {
			return errors.Wrapf(ErrPreprocessingFailure, "plane %d has %d bytes, need %d", i, len(f.Planes[i]), need)
		}
	}
	return nil
}

// FrameFromImage wraps a decoded image as an RGBA frame.
func FrameFromImage(img image.Image, rotation int) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Frame{
		Format:    FormatRGBA,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Rotation:  rotation,
		Timestamp: time.Now(),
		Planes:    [][]byte{rgba.Pix},
		Strides:   []int{rgba.Stride},
	}
}

// FrameFromBytes splits a tightly packed buffer into the planes of a frame.
func FrameFromBytes(format PixelFormat, width, height, rotation int, data []byte) (*Frame, error) {
	f := &Frame{Format: format, Width: width, Height: height, Rotation: rotation, Timestamp: time.Now()}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrPreprocessingFailure, "invalid frame size %dx%d", width, height)
	}
	offset := 0
	for i := 0; i < format.planes(); i++ {
		size := f.rowBytes(i) * f.rows(i)
		if offset+size > len(data) {
			return nil, errors.Wrapf(ErrPreprocessingFailure, "%s frame %dx%d needs more than %d bytes",
				format, width, height, len(data))
		}
		f.Planes = append(f.Planes, data[offset:offset+size])
		offset += size
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
