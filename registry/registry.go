// Package registry holds the frame processors a host can call by name.
package registry

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/framedetect/rimage"
)

// A FrameProcessor is invoked by the host once per delivered camera frame. A nil result means
// the frame produced nothing.
type FrameProcessor func(ctx context.Context, frame *rimage.Frame, args ...interface{}) (interface{}, error)

// RegDebugInfo records where a registration was made.
type RegDebugInfo struct {
	RegistrarLoc string
}

// FrameProcessorRegistration stores a FrameProcessor (mandatory).
type FrameProcessorRegistration struct {
	RegDebugInfo
	Processor FrameProcessor
}

var (
	registryMu             sync.RWMutex
	frameProcessorRegistry = map[string]FrameProcessorRegistration{}
)

func getCallerName() string {
	pc, _, _, ok := runtime.Caller(2)
	details := runtime.FuncForPC(pc)
	if ok && details != nil {
		return details.Name()
	}
	return "unknown"
}

// RegisterFrameProcessor registers a frame processor under a name.
func RegisterFrameProcessor(name string, proc FrameProcessor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := frameProcessorRegistry[name]; old {
		panic(errors.Errorf("trying to register two frame processors with the same name: %s", name))
	}
	if proc == nil {
		panic(errors.Errorf("cannot register a nil frame processor: %s", name))
	}
	frameProcessorRegistry[name] = FrameProcessorRegistration{
		RegDebugInfo: RegDebugInfo{RegistrarLoc: getCallerName()},
		Processor:    proc,
	}
}

// DeregisterFrameProcessor removes a frame processor.
func DeregisterFrameProcessor(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(frameProcessorRegistry, name)
}

// FrameProcessorLookup looks up a frame processor registration by name. nil is returned if
// there is no registration.
func FrameProcessorLookup(name string) *FrameProcessorRegistration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	registration, ok := frameProcessorRegistry[name]
	if ok {
		return &registration
	}
	return nil
}

// RegisteredFrameProcessors returns a copy of the registered frame processors.
func RegisteredFrameProcessors() map[string]FrameProcessorRegistration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return lo.Assign(frameProcessorRegistry)
}

// Call runs the named frame processor on a frame.
func Call(ctx context.Context, name string, frame *rimage.Frame, args ...interface{}) (interface{}, error) {
	registration := FrameProcessorLookup(name)
	if registration == nil {
		return nil, errors.Errorf("no frame processor registered as %q", name)
	}
	return registration.Processor(ctx, frame, args...)
}
