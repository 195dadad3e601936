package objectdetection

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/framedetect/ml"
	"go.viam.com/framedetect/ml/inference"
)

// DetectionResult holds every detection slot the model produced. Scores, BoundingBoxes and
// Categories always have one entry per slot; only the first DetectionCount are meaningful.
type DetectionResult struct {
	Scores         []float32     `json:"scores"`
	BoundingBoxes  []BoundingBox `json:"boundingBoxes"`
	DetectionCount int           `json:"detectionCount"`
	Categories     []float32     `json:"categories"`
}

// DetectionCount truncates the model's float count toward zero and clamps it to [0, capacity].
// NaN counts as zero.
func DetectionCount(count float32, capacity int) int {
	c := float64(count)
	switch {
	case math.IsNaN(c), c <= 0:
		return 0
	case c >= float64(capacity):
		return capacity
	default:
		return int(c)
	}
}

// NewDetectionResult builds a result from flat model outputs. boxes holds 4 values per slot.
func NewDetectionResult(scores, boxes, count, categories []float32, capacity int) (*DetectionResult, error) {
	if len(scores) != capacity {
		return nil, errors.Errorf("expected %d scores, got %d", capacity, len(scores))
	}
	if len(categories) != capacity {
		return nil, errors.Errorf("expected %d categories, got %d", capacity, len(categories))
	}
	if len(boxes) != 4*capacity {
		return nil, errors.Errorf("expected %d box values, got %d", 4*capacity, len(boxes))
	}
	if len(count) == 0 {
		return nil, errors.New("missing detection count")
	}
	res := &DetectionResult{
		Scores:         append([]float32(nil), scores...),
		BoundingBoxes:  make([]BoundingBox, capacity),
		DetectionCount: DetectionCount(count[0], capacity),
		Categories:     append([]float32(nil), categories...),
	}
	for i := range res.BoundingBoxes {
		res.BoundingBoxes[i] = ConvertBox([4]float32(boxes[4*i : 4*i+4]))
	}
	return res, nil
}

// FromTensors builds a result from the four named inference outputs.
func FromTensors(out ml.Tensors, capacity int) (*DetectionResult, error) {
	var flat [4][]float32
	for i, name := range inference.OutputRoles {
		data, err := out.Float32s(name)
		if err != nil {
			return nil, err
		}
		flat[i] = data
	}
	return NewDetectionResult(flat[0], flat[1], flat[2], flat[3], capacity)
}

// Valid returns the first DetectionCount slots as detections, passed through the postprocessors.
func (r *DetectionResult) Valid(postprocessors ...Postprocessor) []Detection {
	dets := make([]Detection, 0, r.DetectionCount)
	for i := 0; i < r.DetectionCount && i < len(r.Scores); i++ {
		dets = append(dets, Detection{
			Score:    r.Scores[i],
			Category: int(r.Categories[i]),
			Box:      r.BoundingBoxes[i],
		})
	}
	for _, p := range postprocessors {
		dets = p(dets)
	}
	return dets
}

// Value converts the result to plain maps and slices for hosts that cannot hold Go structs.
func (r *DetectionResult) Value() map[string]interface{} {
	boxes := make([]interface{}, 0, len(r.BoundingBoxes))
	for _, b := range r.BoundingBoxes {
		boxes = append(boxes, map[string]interface{}{
			"x":      float64(b.X),
			"y":      float64(b.Y),
			"width":  float64(b.Width),
			"height": float64(b.Height),
		})
	}
	return map[string]interface{}{
		"scores":         toFloat64s(r.Scores),
		"boundingBoxes":  boxes,
		"detectionCount": r.DetectionCount,
		"categories":     toFloat64s(r.Categories),
	}
}

func toFloat64s(in []float32) []float64 {
	out, err := ml.ConvertToFloat64Slice(in)
	if err != nil {
		return nil
	}
	return out
}
