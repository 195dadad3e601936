// Package config reads the framedetect service configuration.
package config

import (
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.viam.com/framedetect/logging"
)

// DefaultListen is the HTTP address used when none is configured.
const DefaultListen = "localhost:8080"

// AttributeMap is a free-form set of attributes decoded into a component's own config struct.
type AttributeMap map[string]interface{}

// Has returns whether the attribute is set.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// String returns the attribute as a string, or the empty string if unset.
func (am AttributeMap) String(name string) string {
	return cast.ToString(am[name])
}

// Bool returns the attribute as a bool, or def if unset. It panics when the value is not a bool.
func (am AttributeMap) Bool(name string, def bool) bool {
	if !am.Has(name) {
		return def
	}
	v, ok := am[name].(bool)
	if !ok {
		panic(errors.Errorf("wanted a bool for %q but got %v (%T)", name, am[name], am[name]))
	}
	return v
}

// Decode fills result, a pointer to a struct, from the attributes using its json tags.
// Numbers given as strings are converted.
func (am AttributeMap) Decode(result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           result,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "error creating decoder")
	}
	return errors.Wrap(decoder.Decode(am), "error decoding attributes")
}

// Config is the top level service configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	// Listen is the address the HTTP host listens on.
	Listen string `json:"listen"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `json:"log_level"`
	// LogFile, when set, also writes logs to this file, rotated once it reaches LogMaxSizeMB.
	// Relative paths are resolved against the config file's directory.
	LogFile      string `json:"log_file"`
	LogMaxSizeMB int    `json:"log_max_size_mb"`
	// ModelPath is the file URI of the model loaded at startup. Optional.
	ModelPath string `json:"model_path"`
	// Detector holds the detection pipeline's attributes.
	Detector AttributeMap `json:"detector"`
}

// Ensure validates the config and fills in defaults.
func (c *Config) Ensure() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = logging.INFO.String()
	}
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log_level")
	}
	if c.LogMaxSizeMB < 0 {
		return errors.New("log_max_size_mb cannot be negative")
	}
	if c.LogFile != "" && !filepath.IsAbs(c.LogFile) && c.ConfigFilePath != "" {
		c.LogFile = filepath.Join(filepath.Dir(c.ConfigFilePath), c.LogFile)
	}
	if c.Detector == nil {
		c.Detector = AttributeMap{}
	}
	return nil
}
