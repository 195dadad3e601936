//go:build no_cgo

package inference

import (
	"context"

	"github.com/pkg/errors"
)

func init() {
	RegisterBackend(".tflite", func(context.Context, string, Options) (Engine, error) {
		return nil, errors.New("tflite models are not supported without cgo")
	})
}
