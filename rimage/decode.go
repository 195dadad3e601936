package rimage

import (
	"image"
	// register jpeg.
	_ "image/jpeg"
	// register png.
	_ "image/png"
	"io"

	// register ppm.
	_ "github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	// register qoi.
	_ "github.com/xfmoulet/qoi"
)

// DecodeImage decodes a jpeg, png, ppm or qoi image.
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "could not decode image")
	}
	return img, format, nil
}
