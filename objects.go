package dawn

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

// ShaderStage is a set of programmable stages.
type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute

	ShaderStageNone ShaderStage = 0
)

// object is the state shared by every device child.
type object struct {
	RefCounted
	device *Device
	label  string
	native NativeObject
}

func (o *object) init(d *Device, label string, destroy func()) {
	o.device = d
	o.label = label
	o.initRefs(func() {
		if o.native != nil {
			o.native.Destroy()
			o.native = nil
		}
		if destroy != nil {
			destroy()
		}
	})
}

// Label returns the debug label.
func (o *object) Label() string { return o.label }

// Device returns the device that created the object.
func (o *object) Device() *Device { return o.device }

// Native returns the backend handle, or nil for backends without one.
func (o *object) Native() NativeObject { return o.native }

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// Buffer is a linear GPU allocation.
//
// A buffer is always in one usage at a time. Transitions recorded in a
// command stream move it between usages when the stream executes; a
// frozen buffer rejects transitions.
type Buffer struct {
	object
	size    uint64
	allowed gputypes.BufferUsage
	usage   atomic.Uint32
	frozen  atomic.Bool
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// AllowedUsage returns the usages the buffer was created with.
func (b *Buffer) AllowedUsage() gputypes.BufferUsage { return b.allowed }

// Usage returns the current usage.
func (b *Buffer) Usage() gputypes.BufferUsage { return gputypes.BufferUsage(b.usage.Load()) }

// UpdateUsageInternal sets the current usage. It is called by command
// stream execution when a transition is applied.
func (b *Buffer) UpdateUsageInternal(u gputypes.BufferUsage) { b.usage.Store(uint32(u)) }

// IsFrozen reports whether the buffer's usage is frozen.
func (b *Buffer) IsFrozen() bool { return b.frozen.Load() }

// FreezeUsage moves the buffer to usage and rejects further transitions
// until UnfreezeUsage.
func (b *Buffer) FreezeUsage(usage gputypes.BufferUsage) error {
	if usage&^b.allowed != 0 {
		return validationErrorf("buffer %q: freeze usage %v not allowed", b.label, usage)
	}
	b.UpdateUsageInternal(usage)
	b.frozen.Store(true)
	return nil
}

// UnfreezeUsage allows transitions again.
func (b *Buffer) UnfreezeUsage() { b.frozen.Store(false) }

// TextureDescriptor describes a texture.
type TextureDescriptor struct {
	Label         string
	Size          gputypes.Extent3D
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     gputypes.TextureDimension
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
}

// Texture is an image resource. Usage tracking works as for Buffer.
type Texture struct {
	object
	desc   TextureDescriptor
	usage  atomic.Uint32
	frozen atomic.Bool
}

// Size returns the extent of mip level 0.
func (t *Texture) Size() gputypes.Extent3D { return t.desc.Size }

// Descriptor returns the creation descriptor with defaults filled in.
func (t *Texture) Descriptor() *TextureDescriptor { return &t.desc }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// Dimension returns the texture dimension.
func (t *Texture) Dimension() gputypes.TextureDimension { return t.desc.Dimension }

// MipLevelCount returns the number of mip levels.
func (t *Texture) MipLevelCount() uint32 { return t.desc.MipLevelCount }

// SampleCount returns the number of samples per texel.
func (t *Texture) SampleCount() uint32 { return t.desc.SampleCount }

// AllowedUsage returns the usages the texture was created with.
func (t *Texture) AllowedUsage() gputypes.TextureUsage { return t.desc.Usage }

// Usage returns the current usage.
func (t *Texture) Usage() gputypes.TextureUsage { return gputypes.TextureUsage(t.usage.Load()) }

// UpdateUsageInternal sets the current usage.
func (t *Texture) UpdateUsageInternal(u gputypes.TextureUsage) { t.usage.Store(uint32(u)) }

// IsFrozen reports whether the texture's usage is frozen.
func (t *Texture) IsFrozen() bool { return t.frozen.Load() }

// FreezeUsage moves the texture to usage and rejects further transitions
// until UnfreezeUsage.
func (t *Texture) FreezeUsage(usage gputypes.TextureUsage) error {
	if usage&^t.desc.Usage != 0 {
		return validationErrorf("texture %q: freeze usage %v not allowed", t.label, usage)
	}
	t.UpdateUsageInternal(usage)
	t.frozen.Store(true)
	return nil
}

// UnfreezeUsage allows transitions again.
func (t *Texture) UnfreezeUsage() { t.frozen.Store(false) }

// MipLevelSize returns the extent of the given mip level.
func (t *Texture) MipLevelSize(level uint32) gputypes.Extent3D {
	s := t.desc.Size
	s.Width = max(s.Width>>level, 1)
	s.Height = max(s.Height>>level, 1)
	if t.desc.Dimension == gputypes.TextureDimension3D {
		s.DepthOrArrayLayers = max(s.DepthOrArrayLayers>>level, 1)
	}
	return s
}

// ShaderModuleDescriptor describes a WGSL shader module.
type ShaderModuleDescriptor struct {
	Label string
	WGSL  string
}

// ShaderModule holds WGSL source and its SPIR-V translation.
type ShaderModule struct {
	object
	source string
	spirv  []uint32
}

// Source returns the WGSL source.
func (m *ShaderModule) Source() string { return m.source }

// SPIRV returns the compiled SPIR-V words. Modules built from the same
// source may share the slice; it must not be modified.
func (m *ShaderModule) SPIRV() []uint32 { return m.spirv }

// compileWGSL translates WGSL to little-endian SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// BindGroupLayoutDescriptor describes a bind group layout.
// Buffer and texture bindings are supported.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []gputypes.BindGroupLayoutEntry
}

// BindGroupLayout is the shape of a bind group.
type BindGroupLayout struct {
	object
	entries            []gputypes.BindGroupLayoutEntry
	dynamicOffsetCount uint32
}

// Entries returns the layout entries.
func (l *BindGroupLayout) Entries() []gputypes.BindGroupLayoutEntry { return l.entries }

// DynamicOffsetCount returns the number of dynamic offsets SetBindGroup needs.
func (l *BindGroupLayout) DynamicOffsetCount() uint32 { return l.dynamicOffsetCount }

// BindGroupEntry binds one resource. Exactly one of Buffer and Texture is set.
// Size 0 binds the rest of the buffer from Offset.
type BindGroupEntry struct {
	Binding uint32
	Buffer  *Buffer
	Offset  uint64
	Size    uint64
	Texture *Texture
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	Label   string
	Layout  *BindGroupLayout
	Entries []BindGroupEntry
}

type bufferUse struct {
	buffer *Buffer
	usage  gputypes.BufferUsage
}

type textureUse struct {
	texture *Texture
	usage   gputypes.TextureUsage
}

// BindGroup is a set of resources bound together. It keeps every bound
// resource alive.
type BindGroup struct {
	object
	layout   Ref[*BindGroupLayout]
	entries  []BindGroupEntry
	buffers  []Ref[*Buffer]
	textures []Ref[*Texture]
	bufUses  []bufferUse
	texUses  []textureUse
}

// Layout returns the bind group layout.
func (g *BindGroup) Layout() *BindGroupLayout { return g.layout.Get() }

// Entries returns the bound resources.
func (g *BindGroup) Entries() []BindGroupEntry { return g.entries }

func (g *BindGroup) releaseResources() {
	for i := range g.buffers {
		g.buffers[i].Release()
	}
	for i := range g.textures {
		g.textures[i].Release()
	}
	g.layout.Release()
}

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	Label              string
	BindGroupLayouts   []*BindGroupLayout
	PushConstantStages ShaderStage
}

// PipelineLayout lists the bind group layouts of a pipeline and the stages
// that read push constants.
type PipelineLayout struct {
	object
	groups             []Ref[*BindGroupLayout]
	pushConstantStages ShaderStage
}

// BindGroupLayouts returns the bind group layouts in slot order.
func (l *PipelineLayout) BindGroupLayouts() []*BindGroupLayout {
	out := make([]*BindGroupLayout, len(l.groups))
	for i := range l.groups {
		out[i] = l.groups[i].Get()
	}
	return out
}

// PushConstantStages returns the stages that read push constants.
func (l *PipelineLayout) PushConstantStages() ShaderStage { return l.pushConstantStages }

// VertexState is the vertex stage of a render pipeline.
type VertexState struct {
	Module     *ShaderModule
	EntryPoint string
	Buffers    []gputypes.VertexBufferLayout
}

// FragmentState is the fragment stage of a render pipeline.
type FragmentState struct {
	Module     *ShaderModule
	EntryPoint string
	Targets    []gputypes.ColorTargetState
}

// RenderPipelineDescriptor describes a render pipeline.
// DepthStencilFormat is TextureFormatUndefined when there is no
// depth/stencil attachment.
type RenderPipelineDescriptor struct {
	Label              string
	Layout             *PipelineLayout
	Vertex             VertexState
	Fragment           *FragmentState
	Primitive          gputypes.PrimitiveState
	DepthStencilFormat gputypes.TextureFormat
	SampleCount        uint32
}

// RenderPipeline is a compiled render pipeline.
type RenderPipeline struct {
	object
	desc    RenderPipelineDescriptor
	layout  Ref[*PipelineLayout]
	modules []Ref[*ShaderModule]
}

// Descriptor returns the creation descriptor.
func (p *RenderPipeline) Descriptor() *RenderPipelineDescriptor { return &p.desc }

// Layout returns the pipeline layout.
func (p *RenderPipeline) Layout() *PipelineLayout { return p.layout.Get() }

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	Label      string
	Layout     *PipelineLayout
	Module     *ShaderModule
	EntryPoint string
}

// ComputePipeline is a compiled compute pipeline.
type ComputePipeline struct {
	object
	desc   ComputePipelineDescriptor
	layout Ref[*PipelineLayout]
	module Ref[*ShaderModule]
}

// Descriptor returns the creation descriptor.
func (p *ComputePipeline) Descriptor() *ComputePipelineDescriptor { return &p.desc }

// Layout returns the pipeline layout.
func (p *ComputePipeline) Layout() *PipelineLayout { return p.layout.Get() }
