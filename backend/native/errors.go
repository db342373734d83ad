package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNoGPU is returned when no adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrAPIUnavailable is returned when the requested hal API is not
	// compiled in.
	ErrAPIUnavailable = errors.New("native: hal API not available")

	// ErrNotHalProvider is returned by NewFromProvider when the provider
	// does not expose hal types.
	ErrNotHalProvider = errors.New("native: provider does not expose HAL device and queue")

	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("native: backend destroyed")

	// ErrPushConstantRingFull is returned when one submission sets push
	// constants more often than the ring holds.
	ErrPushConstantRingFull = errors.New("native: push constant ring full")

	// ErrWaitTimeout is returned when a submission fence does not signal
	// within the wait timeout.
	ErrWaitTimeout = errors.New("native: timed out waiting for GPU")
)
