package registry

import (
	"context"
	"testing"

	"go.viam.com/test"

	"go.viam.com/framedetect/rimage"
)

func TestRegistry(t *testing.T) {
	echo := func(_ context.Context, frame *rimage.Frame, args ...interface{}) (interface{}, error) {
		return map[string]interface{}{"width": frame.Width, "args": len(args)}, nil
	}

	test.That(t, FrameProcessorLookup("echo"), test.ShouldBeNil)
	RegisterFrameProcessor("echo", echo)
	defer DeregisterFrameProcessor("echo")

	test.That(t, func() { RegisterFrameProcessor("echo", echo) }, test.ShouldPanic)
	test.That(t, func() { RegisterFrameProcessor("nil", nil) }, test.ShouldPanic)

	reg := FrameProcessorLookup("echo")
	test.That(t, reg, test.ShouldNotBeNil)
	test.That(t, reg.RegistrarLoc, test.ShouldContainSubstring, "TestRegistry")

	all := RegisteredFrameProcessors()
	test.That(t, all, test.ShouldContainKey, "echo")
	delete(all, "echo")
	test.That(t, FrameProcessorLookup("echo"), test.ShouldNotBeNil)

	out, err := Call(context.Background(), "echo", &rimage.Frame{Width: 4}, "file:///m.tflite")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, map[string]interface{}{"width": 4, "args": 1})

	_, err = Call(context.Background(), "missing", &rimage.Frame{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing")
}
