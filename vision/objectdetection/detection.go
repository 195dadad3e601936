// Package objectdetection turns raw detection model outputs into bounding boxes, scores and
// categories.
package objectdetection

import (
	"fmt"
	"math"
)

// BoundingBox is a box in normalized image coordinates with its origin at the top-left corner.
type BoundingBox struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// ConvertBox converts a model box in [top, left, bottom, right] order.
func ConvertBox(raw [4]float32) BoundingBox {
	top, left, bottom, right := raw[0], raw[1], raw[2], raw[3]
	return BoundingBox{X: left, Y: top, Width: right - left, Height: bottom - top}
}

// Area is the box area, in normalized units.
func (b BoundingBox) Area() float32 {
	return float32(math.Abs(float64(b.Width * b.Height)))
}

// Detection is a single valid detection.
type Detection struct {
	Score    float32
	Category int
	Box      BoundingBox
}

// Label returns the name of the detection's category, or its number if labels don't cover it.
func (d Detection) Label(labels []string) string {
	if d.Category >= 0 && d.Category < len(labels) {
		return labels[d.Category]
	}
	return fmt.Sprintf("%d", d.Category)
}

func (d Detection) String() string {
	return fmt.Sprintf("category %d (%.2f) at (%.3f, %.3f) %.3fx%.3f",
		d.Category, d.Score, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height)
}
