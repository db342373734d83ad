package null_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gogpu/dawn"
	"github.com/gogpu/dawn/backend/null"
	"github.com/gogpu/gputypes"
)

func newDevice(t *testing.T) (*dawn.Device, *null.Backend) {
	t.Helper()
	dev, err := dawn.NewDevice(null.Name)
	if err != nil {
		t.Fatalf("NewDevice(%q) error = %v", null.Name, err)
	}
	t.Cleanup(dev.Destroy)
	b, ok := dev.Backend().(*null.Backend)
	if !ok {
		t.Fatalf("Backend() = %T, want *null.Backend", dev.Backend())
	}
	return dev, b
}

func TestRegistered(t *testing.T) {
	if !dawn.IsRegistered(null.Name) {
		t.Fatalf("%q backend is not registered", null.Name)
	}
}

func TestExecuteAppliesTransitions(t *testing.T) {
	dev, b := newDevice(t)
	src, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Label: "src", Size: 64, Usage: gputypes.BufferUsageCopySrc})
	dst, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Label: "dst", Size: 64, Usage: gputypes.BufferUsageCopyDst})

	enc := dev.CreateCommandEncoder("copy")
	enc.CopyBufferToBuffer(src, 0, dst, 0, 64)
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() = %v", err)
	}
	if err := dev.Queue().Submit(cb); err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	if src.Usage() != gputypes.BufferUsageCopySrc || dst.Usage() != gputypes.BufferUsageCopyDst {
		t.Errorf("usages = %v, %v", src.Usage(), dst.Usage())
	}
	if got := b.Count(dawn.CmdTransitionBufferUsage); got != 2 {
		t.Errorf("Count(TransitionBufferUsage) = %d, want 2", got)
	}
	if got := b.Count(dawn.CmdCopyBufferToBuffer); got != 1 {
		t.Errorf("Count(CopyBufferToBuffer) = %d, want 1", got)
	}
	if b.Executed() != 1 {
		t.Errorf("Executed() = %d, want 1", b.Executed())
	}
	if src.RefCount() != 1 || dst.RefCount() != 1 {
		t.Errorf("skipped records kept references: %d, %d", src.RefCount(), dst.RefCount())
	}
}

func TestLiveObjectsReturnToZero(t *testing.T) {
	dev, b := newDevice(t)
	buf, err := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 256, Usage: gputypes.BufferUsageUniform})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}
	layout, err := dev.CreateBindGroupLayout(&dawn.BindGroupLayoutDescriptor{
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout() = %v", err)
	}
	group, err := dev.CreateBindGroup(&dawn.BindGroupDescriptor{
		Layout:  layout,
		Entries: []dawn.BindGroupEntry{{Binding: 0, Buffer: buf}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup() = %v", err)
	}
	module, err := dev.CreateShaderModule(&dawn.ShaderModuleDescriptor{WGSL: `@compute @workgroup_size(1) fn main() {}`})
	if err != nil {
		t.Fatalf("CreateShaderModule() = %v", err)
	}
	pl, err := dev.CreatePipelineLayout(&dawn.PipelineLayoutDescriptor{BindGroupLayouts: []*dawn.BindGroupLayout{layout}})
	if err != nil {
		t.Fatalf("CreatePipelineLayout() = %v", err)
	}
	pipeline, err := dev.CreateComputePipeline(&dawn.ComputePipelineDescriptor{Layout: pl, Module: module, EntryPoint: "main"})
	if err != nil {
		t.Fatalf("CreateComputePipeline() = %v", err)
	}
	if got := b.LiveObjects(); got != 6 {
		t.Fatalf("LiveObjects() = %d, want 6", got)
	}

	enc := dev.CreateCommandEncoder("dispatch")
	pass := enc.BeginComputePass()
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group)
	pass.Dispatch(8, 8, 1)
	pass.End()
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() = %v", err)
	}

	// Drop the creator references while the stream still holds its own.
	for _, r := range []interface{ Release() }{pipeline, pl, module, group, layout, buf} {
		r.Release()
	}
	if got := b.LiveObjects(); got == 0 {
		t.Fatal("objects destroyed while a command buffer still references them")
	}
	if err := dev.Queue().Submit(cb); err != nil {
		t.Fatalf("Submit() = %v", err)
	}
	if got := b.LiveObjects(); got != 0 {
		t.Errorf("LiveObjects() after submit = %d, want 0", got)
	}
	if got := b.Count(dawn.CmdDispatch); got != 1 {
		t.Errorf("Count(Dispatch) = %d, want 1", got)
	}
}

func TestWriteBuffer(t *testing.T) {
	dev, b := newDevice(t)
	buf, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopyDst})
	if err := dev.Queue().WriteBuffer(buf, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBuffer() = %v", err)
	}
	want := []byte{0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0}
	if got := b.Contents(buf); !bytes.Equal(got, want) {
		t.Errorf("Contents() = %v, want %v", got, want)
	}
}

func TestWriteBufferDestroyedHandle(t *testing.T) {
	dev, b := newDevice(t)
	live := b.LiveObjects()
	buf, err := dev.CreateBuffer(&dawn.BufferDescriptor{Label: "gone", Size: 16, Usage: gputypes.BufferUsageCopyDst})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}

	buf.Native().Destroy()
	if err := b.WriteBuffer(buf, 4, []byte{1, 2, 3, 4}); !errors.Is(err, null.ErrDestroyed) {
		t.Errorf("WriteBuffer() = %v, want ErrDestroyed", err)
	}
	if got := b.Contents(buf); len(got) != 0 {
		t.Errorf("Contents() = %v after Destroy, want empty", got)
	}

	buf.Release()
	if got := b.LiveObjects(); got != live {
		t.Errorf("LiveObjects() = %d, want %d", got, live)
	}
}

func TestWriteBufferOutOfRange(t *testing.T) {
	dev, b := newDevice(t)
	buf, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopyDst})
	defer buf.Release()
	for _, offset := range []uint64{12, 32} {
		if err := b.WriteBuffer(buf, offset, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err == nil {
			t.Errorf("WriteBuffer(offset %d) = nil, want an overflow error", offset)
		}
	}
}

func TestFailNextExecuteLosesDevice(t *testing.T) {
	dev, b := newDevice(t)
	buf, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 64, Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst})
	other, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 64, Usage: gputypes.BufferUsageCopyDst})

	enc := dev.CreateCommandEncoder("doomed")
	enc.CopyBufferToBuffer(buf, 0, other, 0, 16)
	cb, _ := enc.Finish()

	failure := errors.New("native queue submit failed")
	b.FailNextExecute(failure)
	err := dev.Queue().Submit(cb)
	if !errors.Is(err, dawn.ErrDeviceLost) || !errors.Is(err, failure) {
		t.Fatalf("Submit() = %v, want device loss wrapping the backend error", err)
	}
	if buf.RefCount() != 1 || other.RefCount() != 1 {
		t.Errorf("unexecuted stream leaked references: %d, %d", buf.RefCount(), other.RefCount())
	}
	if buf.Usage() != 0 {
		t.Errorf("unexecuted transition applied: %v", buf.Usage())
	}
}

func TestWaitIdle(t *testing.T) {
	dev, _ := newDevice(t)
	if err := dev.WaitIdle(context.Background()); err != nil {
		t.Errorf("WaitIdle() = %v", err)
	}
	if err := dev.Tick(); err != nil {
		t.Errorf("Tick() = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dev.WaitIdle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitIdle(canceled) = %v, want context.Canceled", err)
	}
	if dev.IsLost() {
		t.Error("a canceled wait lost the device")
	}
}
