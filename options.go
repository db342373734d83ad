package dawn

import (
	"log/slog"

	"github.com/gogpu/dawn/internal/shadercache"
)

// DeviceOption configures a Device during creation.
//
// Example:
//
//	dev, err := dawn.NewDevice("null",
//	    dawn.WithLabel("main"),
//	    dawn.WithErrorCallback(func(err error) { log.Print(err) }),
//	)
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	label        string
	logger       *slog.Logger
	onError      func(error)
	onLost       func(reason error)
	commandLimit int
	shaderCache  int
}

func defaultDeviceOptions() deviceOptions {
	return deviceOptions{shaderCache: shadercache.DefaultCapacity}
}

// WithLabel sets the device debug label.
func WithLabel(label string) DeviceOption {
	return func(o *deviceOptions) {
		o.label = label
	}
}

// WithLogger sets a logger for this device only. Without it the device
// uses the package logger set by SetLogger.
func WithLogger(l *slog.Logger) DeviceOption {
	return func(o *deviceOptions) {
		o.logger = l
	}
}

// WithErrorCallback sets the function that receives validation and
// out-of-memory errors.
func WithErrorCallback(fn func(error)) DeviceOption {
	return func(o *deviceOptions) {
		o.onError = fn
	}
}

// WithDeviceLostCallback sets the function called once when the device is
// lost. The reason wraps ErrDeviceLost.
func WithDeviceLostCallback(fn func(reason error)) DeviceOption {
	return func(o *deviceOptions) {
		o.onLost = fn
	}
}

// WithCommandMemoryLimit caps the chunk memory, in bytes, each command
// encoder may reserve. Zero means unlimited.
func WithCommandMemoryLimit(bytes int) DeviceOption {
	return func(o *deviceOptions) {
		o.commandLimit = bytes
	}
}

// WithShaderCache sets how many compiled shader modules the device keeps
// for reuse by CreateShaderModule. Zero or less disables the cache.
func WithShaderCache(modules int) DeviceOption {
	return func(o *deviceOptions) {
		o.shaderCache = modules
	}
}
