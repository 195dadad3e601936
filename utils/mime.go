package utils

import "strings"

const (
	// MimeTypeRawFrame is a tightly packed frame whose format and size are given out of band.
	MimeTypeRawFrame = "application/octet-stream"

	// MimeTypeJPEG is regular jpgs.
	MimeTypeJPEG = "image/jpeg"

	// MimeTypePNG is regular pngs.
	MimeTypePNG = "image/png"

	// MimeTypeQOI is for .qoi "Quite OK Image" for lossless, fast encoding/decoding.
	MimeTypeQOI = "image/qoi"

	// MimeTypePPM is for binary netpbm pixmaps.
	MimeTypePPM = "image/x-portable-pixmap"

	// MimeTypeJSON is used for every structured response.
	MimeTypeJSON = "application/json"
)

// IsMimeType reports whether a Content-Type header names mimeType, ignoring parameters.
func IsMimeType(contentType, mimeType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(base), mimeType)
}
