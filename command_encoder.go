package dawn

import (
	"fmt"
	"reflect"

	"github.com/gogpu/gputypes"
)

// ImageCopyBuffer is the buffer side of a buffer/texture copy. Zero
// RowPitch and ImageHeight select tightly packed defaults.
type ImageCopyBuffer struct {
	Buffer      *Buffer
	Offset      uint64
	RowPitch    uint32
	ImageHeight uint32
}

// ImageCopyTexture is the texture side of a copy.
type ImageCopyTexture struct {
	Texture  *Texture
	MipLevel uint32
	Origin   gputypes.Origin3D
}

type encoderState uint8

const (
	encoderRecording encoderState = iota
	encoderInPass
	encoderFinished
)

// CommandEncoder records a command stream.
//
// Encoding errors do not panic and are not returned per call: the first
// one is kept, later calls are ignored, and Finish returns an error
// CommandBuffer that fails at submission. A CommandEncoder is not safe for
// concurrent use.
//
// State machine:
//
//	Recording --BeginRenderPass/BeginComputePass--> InPass --End--> Recording
//	Recording --Finish--> Finished
type CommandEncoder struct {
	device *Device
	label  string
	alloc  *CommandAllocator
	state  encoderState
	err    error
	usage  usageTracker

	debugDepth int
}

func newCommandEncoder(d *Device, label string) *CommandEncoder {
	return &CommandEncoder{
		device: d,
		label:  label,
		alloc:  NewCommandAllocator(d.opts.commandLimit),
	}
}

// Err returns the first encoding error.
func (e *CommandEncoder) Err() error { return e.err }

func (e *CommandEncoder) setError(err error) {
	if e.err == nil {
		e.err = err
	}
}

// ready reports whether a top-level command can be recorded now.
func (e *CommandEncoder) ready(op string) bool {
	if e.err != nil {
		return false
	}
	switch e.state {
	case encoderInPass:
		e.setError(validationErrorf("%s: a pass is open", op))
		return false
	case encoderFinished:
		e.setError(validationErrorf("%s: encoder is finished", op))
		return false
	}
	return true
}

// allocRecord appends a record to alloc, turning allocation failure into
// the encoder error.
func allocRecord[T any, PT recordPtr[T]](e *CommandEncoder, alloc *CommandAllocator) PT {
	rec := Allocate[T, PT](alloc)
	if rec == nil {
		e.setError(alloc.Err())
	}
	return rec
}

func allocData[T any](e *CommandEncoder, alloc *CommandAllocator, n int) []T {
	data := AllocateData[T](alloc, n)
	if data == nil && n > 0 {
		e.setError(alloc.Err())
	}
	return data
}

// useBuffer records the transition needed for b to be in usage.
func (e *CommandEncoder) useBuffer(b *Buffer, usage gputypes.BufferUsage) bool {
	if b.Device() != e.device {
		e.setError(validationErrorf("buffer %q belongs to another device", b.Label()))
		return false
	}
	need, err := e.usage.needBuffer(b, usage)
	if err != nil {
		e.setError(err)
		return false
	}
	if !need {
		return true
	}
	cmd := allocRecord[TransitionBufferUsageCmd](e, e.alloc)
	if cmd == nil {
		return false
	}
	cmd.Buffer = NewRef(b)
	cmd.Usage = usage
	e.usage.setBuffer(b, usage)
	return true
}

func (e *CommandEncoder) useTexture(t *Texture, usage gputypes.TextureUsage) bool {
	if t.Device() != e.device {
		e.setError(validationErrorf("texture %q belongs to another device", t.Label()))
		return false
	}
	need, err := e.usage.needTexture(t, usage)
	if err != nil {
		e.setError(err)
		return false
	}
	if !need {
		return true
	}
	cmd := allocRecord[TransitionTextureUsageCmd](e, e.alloc)
	if cmd == nil {
		return false
	}
	cmd.Texture = NewRef(t)
	cmd.Usage = usage
	e.usage.setTexture(t, usage)
	return true
}

// deviceChild is implemented by every object created from a Device.
type deviceChild interface {
	Device() *Device
}

func (e *CommandEncoder) checkOwned(op string, objs ...deviceChild) bool {
	for _, o := range objs {
		if o == nil || reflect.ValueOf(o).IsNil() {
			e.setError(validationErrorf("%s: nil object", op))
			return false
		}
		if o.Device() != e.device {
			e.setError(validationErrorf("%s: object belongs to another device", op))
			return false
		}
	}
	return true
}

// TransitionBufferUsage records an explicit transition of b to usage.
func (e *CommandEncoder) TransitionBufferUsage(b *Buffer, usage gputypes.BufferUsage) {
	if !e.ready("TransitionBufferUsage") || !e.checkOwned("TransitionBufferUsage", b) {
		return
	}
	if b.IsFrozen() {
		e.setError(validationErrorf("buffer %q is frozen", b.Label()))
		return
	}
	if usage&^b.AllowedUsage() != 0 {
		e.setError(validationErrorf("buffer %q lacks usage %v", b.Label(), usage))
		return
	}
	cmd := allocRecord[TransitionBufferUsageCmd](e, e.alloc)
	if cmd == nil {
		return
	}
	cmd.Buffer = NewRef(b)
	cmd.Usage = usage
	e.usage.setBuffer(b, usage)
}

// TransitionTextureUsage records an explicit transition of t to usage.
func (e *CommandEncoder) TransitionTextureUsage(t *Texture, usage gputypes.TextureUsage) {
	if !e.ready("TransitionTextureUsage") || !e.checkOwned("TransitionTextureUsage", t) {
		return
	}
	if t.IsFrozen() {
		e.setError(validationErrorf("texture %q is frozen", t.Label()))
		return
	}
	if usage&^t.AllowedUsage() != 0 {
		e.setError(validationErrorf("texture %q lacks usage %v", t.Label(), usage))
		return
	}
	cmd := allocRecord[TransitionTextureUsageCmd](e, e.alloc)
	if cmd == nil {
		return
	}
	cmd.Texture = NewRef(t)
	cmd.Usage = usage
	e.usage.setTexture(t, usage)
}

// CopyBufferToBuffer records a copy of size bytes. Offsets and size must be
// multiples of 4.
func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) {
	const op = "CopyBufferToBuffer"
	if !e.ready(op) || !e.checkOwned(op, src, dst) {
		return
	}
	switch {
	case srcOffset%4 != 0 || dstOffset%4 != 0 || size%4 != 0:
		e.setError(validationErrorf("%s: offsets and size must be multiples of 4", op))
		return
	case src == dst:
		e.setError(validationErrorf("%s: source and destination are the same buffer", op))
		return
	}
	if err := validateBufferRange(src, srcOffset, size); err != nil {
		e.setError(err)
		return
	}
	if err := validateBufferRange(dst, dstOffset, size); err != nil {
		e.setError(err)
		return
	}
	if !e.useBuffer(src, gputypes.BufferUsageCopySrc) || !e.useBuffer(dst, gputypes.BufferUsageCopyDst) {
		return
	}
	cmd := allocRecord[CopyBufferToBufferCmd](e, e.alloc)
	if cmd == nil {
		return
	}
	cmd.Source = BufferCopy{Buffer: NewRef(src), Offset: srcOffset}
	cmd.Destination = BufferCopy{Buffer: NewRef(dst), Offset: dstOffset}
	cmd.Size = size
}

// CopyBufferToTexture records an upload of buffer rows into a texture region.
func (e *CommandEncoder) CopyBufferToTexture(src ImageCopyBuffer, dst ImageCopyTexture, size gputypes.Extent3D) {
	const op = "CopyBufferToTexture"
	if !e.ready(op) || !e.checkOwned(op, src.Buffer, dst.Texture) {
		return
	}
	if err := validateTextureRegion(&dst, size); err != nil {
		e.setError(err)
		return
	}
	if err := resolveBufferLayout(&src, dst.Texture.Format(), size); err != nil {
		e.setError(err)
		return
	}
	if !e.useBuffer(src.Buffer, gputypes.BufferUsageCopySrc) || !e.useTexture(dst.Texture, gputypes.TextureUsageCopyDst) {
		return
	}
	cmd := allocRecord[CopyBufferToTextureCmd](e, e.alloc)
	if cmd == nil {
		return
	}
	cmd.Source = bufferCopy(&src)
	cmd.Destination = textureCopy(&dst)
	cmd.CopySize = size
}

// CopyTextureToBuffer records a readback of a texture region into buffer rows.
func (e *CommandEncoder) CopyTextureToBuffer(src ImageCopyTexture, dst ImageCopyBuffer, size gputypes.Extent3D) {
	const op = "CopyTextureToBuffer"
	if !e.ready(op) || !e.checkOwned(op, src.Texture, dst.Buffer) {
		return
	}
	if err := validateTextureRegion(&src, size); err != nil {
		e.setError(err)
		return
	}
	if err := resolveBufferLayout(&dst, src.Texture.Format(), size); err != nil {
		e.setError(err)
		return
	}
	if !e.useTexture(src.Texture, gputypes.TextureUsageCopySrc) || !e.useBuffer(dst.Buffer, gputypes.BufferUsageCopyDst) {
		return
	}
	cmd := allocRecord[CopyTextureToBufferCmd](e, e.alloc)
	if cmd == nil {
		return
	}
	cmd.Source = textureCopy(&src)
	cmd.Destination = bufferCopy(&dst)
	cmd.CopySize = size
}

// CopyTextureToTexture records a copy between two textures of the same format.
func (e *CommandEncoder) CopyTextureToTexture(src, dst ImageCopyTexture, size gputypes.Extent3D) {
	const op = "CopyTextureToTexture"
	if !e.ready(op) || !e.checkOwned(op, src.Texture, dst.Texture) {
		return
	}
	switch {
	case src.Texture == dst.Texture:
		e.setError(validationErrorf("%s: source and destination are the same texture", op))
		return
	case src.Texture.Format() != dst.Texture.Format():
		e.setError(validationErrorf("%s: formats %v and %v differ", op, src.Texture.Format(), dst.Texture.Format()))
		return
	}
	if err := validateTextureRegion(&src, size); err != nil {
		e.setError(err)
		return
	}
	if err := validateTextureRegion(&dst, size); err != nil {
		e.setError(err)
		return
	}
	if !e.useTexture(src.Texture, gputypes.TextureUsageCopySrc) || !e.useTexture(dst.Texture, gputypes.TextureUsageCopyDst) {
		return
	}
	cmd := allocRecord[CopyTextureToTextureCmd](e, e.alloc)
	if cmd == nil {
		return
	}
	cmd.Source = textureCopy(&src)
	cmd.Destination = textureCopy(&dst)
	cmd.CopySize = size
}

func bufferCopy(bc *ImageCopyBuffer) BufferCopy {
	return BufferCopy{Buffer: NewRef(bc.Buffer), Offset: bc.Offset, RowPitch: bc.RowPitch, ImageHeight: bc.ImageHeight}
}

func textureCopy(tc *ImageCopyTexture) TextureCopy {
	return TextureCopy{Texture: NewRef(tc.Texture), MipLevel: tc.MipLevel, Origin: tc.Origin}
}

// PushDebugGroup opens a debug group outside passes.
func (e *CommandEncoder) PushDebugGroup(label string) {
	if !e.ready("PushDebugGroup") {
		return
	}
	if recordLabel[PushDebugGroupCmd](e, e.alloc, label) {
		e.debugDepth++
	}
}

// PopDebugGroup closes the innermost debug group opened on the encoder.
func (e *CommandEncoder) PopDebugGroup() {
	if !e.ready("PopDebugGroup") {
		return
	}
	if e.debugDepth == 0 {
		e.setError(validationErrorf("PopDebugGroup: no open debug group"))
		return
	}
	if allocRecord[PopDebugGroupCmd](e, e.alloc) != nil {
		e.debugDepth--
	}
}

// InsertDebugMarker records a single debug label outside passes.
func (e *CommandEncoder) InsertDebugMarker(label string) {
	if !e.ready("InsertDebugMarker") {
		return
	}
	recordLabel[InsertDebugMarkerCmd](e, e.alloc, label)
}

// labelRecord is a debug record followed by its label bytes.
type labelRecord interface {
	Record
	setLength(n uint32)
}

func (c *PushDebugGroupCmd) setLength(n uint32)    { c.Length = n }
func (c *InsertDebugMarkerCmd) setLength(n uint32) { c.Length = n }

func recordLabel[T any, PT interface {
	*T
	labelRecord
}](e *CommandEncoder, alloc *CommandAllocator, label string) bool {
	cmd := allocRecord[T, PT](e, alloc)
	if cmd == nil {
		return false
	}
	cmd.setLength(uint32(len(label)))
	data := allocData[byte](e, alloc, len(label))
	if data == nil && len(label) > 0 {
		return false
	}
	copy(data, label)
	return true
}

// Finish ends recording. On success the stream moves into the returned
// CommandBuffer. On failure the stream is discarded and an error
// CommandBuffer is returned together with the error, which is also
// reported to the device error callback.
func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	switch {
	case e.err != nil:
	case e.state == encoderInPass:
		e.setError(validationErrorf("Finish: a pass is still open"))
	case e.state == encoderFinished:
		e.setError(validationErrorf("Finish: encoder is already finished"))
	case e.debugDepth != 0:
		e.setError(validationErrorf("Finish: %d debug groups still open", e.debugDepth))
	}
	if err := e.device.checkAlive(); err != nil && e.err == nil {
		e.err = err
	}
	e.state = encoderFinished

	if e.err != nil {
		e.alloc.Reset()
		err := fmt.Errorf("command encoder %q: %w", e.label, e.err)
		e.device.consumeError(err)
		return &CommandBuffer{device: e.device, label: e.label, err: err}, err
	}
	cb := &CommandBuffer{
		device:               e.device,
		label:                e.label,
		commands:             e.alloc.Finish(),
		transitionedBuffers:  e.usage.transitionedBuffers,
		transitionedTextures: e.usage.transitionedTextures,
	}
	e.device.logger().Debug("dawn: command buffer finished", "label", e.label, "commands", cb.commands.Len())
	return cb, nil
}
