package dawn

import (
	"fmt"
	"sync"
)

// CommandBuffer owns a finished command stream until it is submitted or
// released. A CommandBuffer returned together with a Finish error is an
// error object: submitting it fails with that error.
type CommandBuffer struct {
	device   *Device
	label    string
	commands *CommandIterator
	err      error

	transitionedBuffers  []*Buffer
	transitionedTextures []*Texture

	mu       sync.Mutex
	consumed bool
}

// Err returns the encoding error of an error CommandBuffer.
func (cb *CommandBuffer) Err() error { return cb.err }

// IsError reports whether cb is an error object.
func (cb *CommandBuffer) IsError() bool { return cb.err != nil }

// Label returns the debug label of the encoder that produced cb.
func (cb *CommandBuffer) Label() string { return cb.label }

// Len returns the number of records in the stream, or 0 once consumed.
func (cb *CommandBuffer) Len() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.commands == nil || cb.consumed {
		return 0
	}
	return cb.commands.Len()
}

// Release frees the stream of a buffer that was never submitted, dropping
// every reference it holds without touching the backend. It is a no-op for
// submitted buffers and safe to call more than once.
func (cb *CommandBuffer) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.consumed || cb.commands == nil {
		cb.consumed = true
		return
	}
	if err := FreeCommands(cb.commands); err != nil {
		cb.device.logger().Debug("dawn: command buffer already freed", "label", cb.label)
	}
	cb.commands.Release()
	cb.consumed = true
}

// validateSubmit checks that cb can be submitted to d.
func (cb *CommandBuffer) validateSubmit(d *Device) error {
	if cb.err != nil {
		return fmt.Errorf("dawn: submit of invalid command buffer %q: %w", cb.label, cb.err)
	}
	if cb.device != d {
		return validationErrorf("submit: command buffer %q belongs to another device", cb.label)
	}
	if cb.consumed {
		return fmt.Errorf("dawn: submit of command buffer %q: %w", cb.label, ErrCommandsConsumed)
	}
	for _, b := range cb.transitionedBuffers {
		if b.IsFrozen() {
			return validationErrorf("submit: command buffer %q transitions frozen buffer %q", cb.label, b.Label())
		}
	}
	for _, t := range cb.transitionedTextures {
		if t.IsFrozen() {
			return validationErrorf("submit: command buffer %q transitions frozen texture %q", cb.label, t.Label())
		}
	}
	return nil
}

// execute hands the stream to the backend. The stream is consumed whether
// or not execution succeeds.
func (cb *CommandBuffer) execute(b Backend) error {
	defer func() {
		cb.commands.Release()
		cb.consumed = true
	}()
	return b.Execute(cb.commands)
}
