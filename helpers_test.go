package dawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
)

// fakeNative counts native destructions on its backend.
type fakeNative struct{ b *fakeBackend }

func (n fakeNative) Destroy() { n.b.destroyed.Add(1) }

// fakeBackend replays streams through the shared dispatch core and keeps
// a trace of what was issued.
type fakeBackend struct {
	created   atomic.Int64
	destroyed atomic.Int64

	mu       sync.Mutex
	trace    []string
	failOn   string
	writes   int
	isClosed bool
	logger   *slog.Logger

	failCreate error
	failWrite  error
}

func (b *fakeBackend) native() (NativeObject, error) {
	if b.failCreate != nil {
		return nil, b.failCreate
	}
	b.created.Add(1)
	return fakeNative{b}, nil
}

func (b *fakeBackend) SetLogger(l *slog.Logger) {
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
}

func (b *fakeBackend) Name() string                                     { return "fake" }
func (b *fakeBackend) CreateBuffer(*Buffer) (NativeObject, error)        { return b.native() }
func (b *fakeBackend) CreateTexture(*Texture) (NativeObject, error)      { return b.native() }
func (b *fakeBackend) CreateShaderModule(*ShaderModule) (NativeObject, error) {
	return b.native()
}
func (b *fakeBackend) CreateBindGroupLayout(*BindGroupLayout) (NativeObject, error) {
	return b.native()
}
func (b *fakeBackend) CreateBindGroup(*BindGroup) (NativeObject, error) { return b.native() }
func (b *fakeBackend) CreatePipelineLayout(*PipelineLayout) (NativeObject, error) {
	return b.native()
}
func (b *fakeBackend) CreateRenderPipeline(*RenderPipeline) (NativeObject, error) {
	return b.native()
}
func (b *fakeBackend) CreateComputePipeline(*ComputePipeline) (NativeObject, error) {
	return b.native()
}

func (b *fakeBackend) WriteBuffer(*Buffer, uint64, []byte) error {
	b.mu.Lock()
	b.writes++
	b.mu.Unlock()
	return b.failWrite
}

func (b *fakeBackend) Execute(it *CommandIterator) error {
	rec := &recorder{failOn: b.failOn}
	err := ExecuteCommands(it, rec)
	b.mu.Lock()
	b.trace = append(b.trace, rec.trace...)
	b.mu.Unlock()
	return err
}

func (b *fakeBackend) Tick() error                    { return nil }
func (b *fakeBackend) WaitIdle(context.Context) error { return nil }
func (b *fakeBackend) Destroy()                       { b.isClosed = true }

func (b *fakeBackend) events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.trace...)
}

var errInjected = errors.New("injected failure")

// recorder is a CommandIssuer that writes one line per issued command.
type recorder struct {
	NopIssuer
	trace  []string
	failOn string
}

func (r *recorder) add(format string, args ...any) error {
	ev := fmt.Sprintf(format, args...)
	r.trace = append(r.trace, ev)
	if r.failOn != "" && ev == r.failOn {
		return errInjected
	}
	return nil
}

func (r *recorder) Barriers(buffers []BufferBarrier, textures []TextureBarrier) error {
	return r.add("Barriers %d %d", len(buffers), len(textures))
}

func (r *recorder) BeginRenderPass(cmd *BeginRenderPassCmd) error {
	return r.add("BeginRenderPass %d", cmd.ColorAttachmentCount)
}

func (r *recorder) EndRenderPass() error    { return r.add("EndRenderPass") }
func (r *recorder) BeginComputePass() error { return r.add("BeginComputePass") }
func (r *recorder) EndComputePass() error   { return r.add("EndComputePass") }

func (r *recorder) CopyBufferToBuffer(cmd *CopyBufferToBufferCmd) error {
	return r.add("CopyBufferToBuffer %d", cmd.Size)
}

func (r *recorder) Dispatch(cmd *DispatchCmd) error {
	return r.add("Dispatch %d %d %d", cmd.X, cmd.Y, cmd.Z)
}

func (r *recorder) Draw(cmd *DrawCmd) error { return r.add("Draw %d", cmd.VertexCount) }

func (r *recorder) SetComputePipeline(*ComputePipeline) error { return r.add("SetComputePipeline") }
func (r *recorder) SetRenderPipeline(*RenderPipeline) error   { return r.add("SetRenderPipeline") }

func (r *recorder) SetPushConstants(_ ShaderStage, offset uint32, values []uint32) error {
	return r.add("SetPushConstants %d %v", offset, values)
}

func (r *recorder) SetBindGroup(index uint32, _ *BindGroup, offsets []uint32) error {
	return r.add("SetBindGroup %d %v", index, offsets)
}

func (r *recorder) SetVertexBuffers(start uint32, buffers []Ref[*Buffer], offsets []uint64) error {
	return r.add("SetVertexBuffers %d %d %v", start, len(buffers), offsets)
}

func (r *recorder) PushDebugGroup(label string) error    { return r.add("PushDebugGroup %s", label) }
func (r *recorder) PopDebugGroup() error                 { return r.add("PopDebugGroup") }
func (r *recorder) InsertDebugMarker(label string) error { return r.add("InsertDebugMarker %s", label) }

func newTestDevice(t *testing.T, opts ...DeviceOption) (*Device, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{}
	d := NewDeviceWithBackend(b, opts...)
	t.Cleanup(d.Destroy)
	return d, b
}

func mustBuffer(t *testing.T, d *Device, label string, size uint64, usage gputypes.BufferUsage) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(&BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer(%q) error = %v", label, err)
	}
	return b
}

func mustTexture(t *testing.T, d *Device, label string, w, h uint32, usage gputypes.TextureUsage) *Texture {
	t.Helper()
	tex, err := d.CreateTexture(&TextureDescriptor{
		Label:  label,
		Size:   gputypes.Extent3D{Width: w, Height: h},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  usage,
	})
	if err != nil {
		t.Fatalf("CreateTexture(%q) error = %v", label, err)
	}
	return tex
}

const bufferUsageAll = gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
	gputypes.BufferUsageVertex | gputypes.BufferUsageIndex | gputypes.BufferUsageIndirect |
	gputypes.BufferUsageUniform | gputypes.BufferUsageStorage

const (
	testComputeWGSL = `@compute @workgroup_size(1) fn main() {}`

	testRenderWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(0.0, 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`
)

func mustComputePipeline(t *testing.T, d *Device, layout *PipelineLayout) *ComputePipeline {
	t.Helper()
	m, err := d.CreateShaderModule(&ShaderModuleDescriptor{Label: "cs", WGSL: testComputeWGSL})
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	defer m.Release()
	if layout == nil {
		layout, err = d.CreatePipelineLayout(&PipelineLayoutDescriptor{Label: "empty"})
		if err != nil {
			t.Fatalf("CreatePipelineLayout() error = %v", err)
		}
		defer layout.Release()
	}
	p, err := d.CreateComputePipeline(&ComputePipelineDescriptor{
		Label:      "compute",
		Layout:     layout,
		Module:     m,
		EntryPoint: "main",
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() error = %v", err)
	}
	return p
}

func mustRenderPipeline(t *testing.T, d *Device) *RenderPipeline {
	t.Helper()
	m, err := d.CreateShaderModule(&ShaderModuleDescriptor{Label: "rs", WGSL: testRenderWGSL})
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	defer m.Release()
	layout, err := d.CreatePipelineLayout(&PipelineLayoutDescriptor{Label: "empty"})
	if err != nil {
		t.Fatalf("CreatePipelineLayout() error = %v", err)
	}
	defer layout.Release()
	p, err := d.CreateRenderPipeline(&RenderPipelineDescriptor{
		Label:  "render",
		Layout: layout,
		Vertex: VertexState{Module: m, EntryPoint: "vs_main"},
		Fragment: &FragmentState{
			Module:     m,
			EntryPoint: "fs_main",
			Targets:    []gputypes.ColorTargetState{{Format: gputypes.TextureFormatRGBA8Unorm, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive: gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList},
	})
	if err != nil {
		t.Fatalf("CreateRenderPipeline() error = %v", err)
	}
	return p
}

// mustBufferGroup returns a bind group with buf bound at binding 0.
func mustBufferGroup(t *testing.T, d *Device, buf *Buffer, typ gputypes.BufferBindingType, dynamic bool) *BindGroup {
	t.Helper()
	layout, err := d.CreateBindGroupLayout(&BindGroupLayoutDescriptor{
		Label: "group",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute | gputypes.ShaderStageVertex,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ, HasDynamicOffset: dynamic},
		}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}
	defer layout.Release()
	g, err := d.CreateBindGroup(&BindGroupDescriptor{
		Label:   "group",
		Layout:  layout,
		Entries: []BindGroupEntry{{Binding: 0, Buffer: buf, Size: 256}},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup() error = %v", err)
	}
	return g
}
