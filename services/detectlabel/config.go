package detectlabel

import (
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"go.viam.com/framedetect/config"
	"go.viam.com/framedetect/ml/inference"
	"go.viam.com/framedetect/rimage"
)

// Config contains the parameters of a detection pipeline.
type Config struct {
	// ModelPath is the file URI loaded by New. Frames may name another model later.
	ModelPath          string  `json:"model_path"`
	LabelPath          string  `json:"label_path"`
	InputSize          int     `json:"input_size"`
	DetectionsCapacity int     `json:"detections_capacity"`
	OutputOrder        []int   `json:"output_order"`
	NumThreads         int     `json:"num_threads"`
	ResizeMethod       string  `json:"resize_method"`
	Mean               float32 `json:"mean"`
	Std                float32 `json:"std"`
	// QuantizeInput feeds quantized integer inputs (v - mean) / std requantized with the model's
	// parameters instead of the pixel bytes.
	QuantizeInput bool `json:"quantize_input"`
	// BlockDuringLoad makes callers wait for an in-progress load instead of skipping the frame.
	BlockDuringLoad *bool `json:"block_during_load"`
	// WatchModel reloads the model when its file changes on disk.
	WatchModel      bool   `json:"watch_model"`
	ONNXLibraryPath string `json:"onnx_library_path"`
}

// ConfigSchema describes the detector attributes as a JSON schema.
func ConfigSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}

// ConfigFromAttributes decodes a pipeline config from an attribute map and validates it.
func ConfigFromAttributes(am config.AttributeMap) (*Config, error) {
	conf := &Config{}
	if err := am.Decode(conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the config and fills in defaults.
func (conf *Config) Validate() error {
	arch := inference.DefaultArchitecture()
	if conf.InputSize == 0 {
		conf.InputSize = arch.InputSize
	}
	if conf.DetectionsCapacity == 0 {
		conf.DetectionsCapacity = arch.DetectionsCapacity
	}
	if conf.InputSize < 0 || conf.DetectionsCapacity < 0 {
		return errors.New("input_size and detections_capacity must be positive")
	}
	if conf.OutputOrder == nil {
		conf.OutputOrder = arch.OutputOrder[:]
	}
	if len(conf.OutputOrder) != len(arch.OutputOrder) {
		return errors.Errorf("output_order needs %d indices, got %d", len(arch.OutputOrder), len(conf.OutputOrder))
	}
	seen := map[int]bool{}
	for _, idx := range conf.OutputOrder {
		if idx < 0 || seen[idx] {
			return errors.Errorf("invalid output_order %v", conf.OutputOrder)
		}
		seen[idx] = true
	}
	switch rimage.ResizeMethod(conf.ResizeMethod) {
	case "":
		conf.ResizeMethod = string(rimage.ResizeNearest)
	case rimage.ResizeNearest, rimage.ResizeBilinear:
	default:
		return errors.Errorf("unknown resize_method %q", conf.ResizeMethod)
	}
	if conf.Std == 0 {
		conf.Std = rimage.DefaultNormalization().Std
	}
	if conf.BlockDuringLoad == nil {
		block := true
		conf.BlockDuringLoad = &block
	}
	if conf.ModelPath != "" {
		if _, err := inference.ParseModelURI(conf.ModelPath); err != nil {
			return err
		}
	}
	return nil
}

func (conf *Config) architecture() inference.Architecture {
	arch := inference.Architecture{InputSize: conf.InputSize, DetectionsCapacity: conf.DetectionsCapacity}
	copy(arch.OutputOrder[:], conf.OutputOrder)
	return arch
}

func (conf *Config) normalization() rimage.Normalization {
	return rimage.Normalization{Mean: conf.Mean, Std: conf.Std, Quantize: conf.QuantizeInput}
}
