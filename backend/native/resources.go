package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/dawn"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Native objects. Each is the dawn.NativeObject of one frontend object and
// destroys its hal handles when the frontend releases it. Handles that
// outlive the backend are left to the device teardown.

type buffer struct {
	owner *Backend
	raw   hal.Buffer
}

func (b *buffer) Destroy() {
	b.owner.release(func(d hal.Device) { d.DestroyBuffer(b.raw) })
}

type texture struct {
	owner *Backend
	raw   hal.Texture
	desc  *dawn.TextureDescriptor
	view  hal.TextureView

	mu        sync.Mutex // guards mips and destroyed
	mips      map[uint32]hal.TextureView
	destroyed bool
}

var errTextureDestroyed = errors.New("native: texture destroyed")

// mipView returns a single-level view of mip, the default view for a
// single-level texture.
func (t *texture) mipView(mip uint32) (hal.TextureView, error) {
	if t.desc.MipLevelCount == 1 {
		return t.view, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return nil, errTextureDestroyed
	}
	if v, ok := t.mips[mip]; ok {
		return v, nil
	}
	v, err := t.owner.device.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:           fmt.Sprintf("%s_mip%d", t.desc.Label, mip),
		Format:          t.desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    mip,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create view of mip %d: %w", mip, err)
	}
	if t.mips == nil {
		t.mips = make(map[uint32]hal.TextureView)
	}
	t.mips[mip] = v
	return v, nil
}

func (t *texture) Destroy() {
	t.mu.Lock()
	mips := t.mips
	t.mips = nil
	t.destroyed = true
	t.mu.Unlock()
	t.owner.release(func(d hal.Device) {
		for _, v := range mips {
			d.DestroyTextureView(v)
		}
		d.DestroyTextureView(t.view)
		d.DestroyTexture(t.raw)
	})
}

type shaderModule struct {
	owner *Backend
	raw   hal.ShaderModule
}

func (m *shaderModule) Destroy() {
	m.owner.release(func(d hal.Device) { d.DestroyShaderModule(m.raw) })
}

type bindGroupLayout struct {
	owner *Backend
	raw   hal.BindGroupLayout
}

func (l *bindGroupLayout) Destroy() {
	l.owner.release(func(d hal.Device) { d.DestroyBindGroupLayout(l.raw) })
}

type bindGroup struct {
	owner *Backend
	raw   hal.BindGroup
}

func (g *bindGroup) Destroy() {
	g.owner.release(func(d hal.Device) { d.DestroyBindGroup(g.raw) })
}

type pipelineLayout struct {
	owner *Backend
	raw   hal.PipelineLayout
	// pushSlot is the bind group index of the push constant emulation
	// group, or -1 when the layout has no push constants.
	pushSlot int
}

func (l *pipelineLayout) Destroy() {
	l.owner.release(func(d hal.Device) { d.DestroyPipelineLayout(l.raw) })
}

type renderPipeline struct {
	owner    *Backend
	raw      hal.RenderPipeline
	pushSlot int
}

func (p *renderPipeline) Destroy() {
	p.owner.release(func(d hal.Device) { d.DestroyRenderPipeline(p.raw) })
}

type computePipeline struct {
	owner    *Backend
	raw      hal.ComputePipeline
	pushSlot int
}

func (p *computePipeline) Destroy() {
	p.owner.release(func(d hal.Device) { d.DestroyComputePipeline(p.raw) })
}

// native lookups. The frontend only hands this backend objects it created.

func rawBuffer(b *dawn.Buffer) hal.Buffer { return b.Native().(*buffer).raw }

func nativeTexture(t *dawn.Texture) *texture { return t.Native().(*texture) }

func (b *Backend) CreateBuffer(buf *dawn.Buffer) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: buf.Label(),
		Size:  buf.Size(),
		Usage: buf.AllowedUsage(),
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", buf.Label(), err)
	}
	return &buffer{owner: b, raw: raw}, nil
}

func (b *Backend) CreateTexture(t *dawn.Texture) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	desc := t.Descriptor()
	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              desc.Size.Width,
			Height:             desc.Size.Height,
			DepthOrArrayLayers: desc.Size.DepthOrArrayLayers,
		},
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   desc.SampleCount,
		Dimension:     desc.Dimension,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	view, err := b.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label: desc.Label + "_view",
	})
	if err != nil {
		b.device.DestroyTexture(raw)
		return nil, fmt.Errorf("create view of texture %q: %w", desc.Label, err)
	}
	return &texture{owner: b, raw: raw, desc: desc, view: view}, nil
}

func (b *Backend) CreateShaderModule(m *dawn.ShaderModule) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	raw, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  m.Label(),
		Source: hal.ShaderSource{SPIRV: m.SPIRV()},
	})
	if err != nil {
		return nil, fmt.Errorf("create shader module %q: %w", m.Label(), err)
	}
	return &shaderModule{owner: b, raw: raw}, nil
}

func (b *Backend) CreateBindGroupLayout(l *dawn.BindGroupLayout) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	raw, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   l.Label(),
		Entries: l.Entries(),
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout %q: %w", l.Label(), err)
	}
	return &bindGroupLayout{owner: b, raw: raw}, nil
}

func (b *Backend) CreateBindGroup(g *dawn.BindGroup) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(g.Entries()))
	for _, e := range g.Entries() {
		switch {
		case e.Buffer != nil:
			size := e.Size
			if size == 0 {
				size = e.Buffer.Size() - e.Offset
			}
			entries = append(entries, gputypes.BindGroupEntry{
				Binding: e.Binding,
				Resource: gputypes.BufferBinding{
					Buffer: rawBuffer(e.Buffer).NativeHandle(),
					Offset: e.Offset,
					Size:   size,
				},
			})
		case e.Texture != nil:
			entries = append(entries, gputypes.BindGroupEntry{
				Binding: e.Binding,
				Resource: gputypes.TextureViewBinding{
					TextureView: nativeTexture(e.Texture).view.NativeHandle(),
				},
			})
		}
	}
	raw, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   g.Label(),
		Layout:  g.Layout().Native().(*bindGroupLayout).raw,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group %q: %w", g.Label(), err)
	}
	return &bindGroup{owner: b, raw: raw}, nil
}

func (b *Backend) CreatePipelineLayout(l *dawn.PipelineLayout) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	groups := l.BindGroupLayouts()
	layouts := make([]hal.BindGroupLayout, 0, len(groups)+1)
	for _, g := range groups {
		layouts = append(layouts, g.Native().(*bindGroupLayout).raw)
	}
	pushSlot := -1
	if l.PushConstantStages() != dawn.ShaderStageNone {
		pushSlot = len(layouts)
		layouts = append(layouts, b.pushLayout)
	}
	raw, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            l.Label(),
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout %q: %w", l.Label(), err)
	}
	return &pipelineLayout{owner: b, raw: raw, pushSlot: pushSlot}, nil
}

func (b *Backend) CreateRenderPipeline(p *dawn.RenderPipeline) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	desc := p.Descriptor()
	layout := p.Layout().Native().(*pipelineLayout)
	hd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.raw,
		Vertex: hal.VertexState{
			Module:     desc.Vertex.Module.Native().(*shaderModule).raw,
			EntryPoint: desc.Vertex.EntryPoint,
			Buffers:    desc.Vertex.Buffers,
		},
		Primitive: desc.Primitive,
		Multisample: gputypes.MultisampleState{
			Count: desc.SampleCount,
			Mask:  0xFFFFFFFF,
		},
	}
	if f := desc.Fragment; f != nil {
		hd.Fragment = &hal.FragmentState{
			Module:     f.Module.Native().(*shaderModule).raw,
			EntryPoint: f.EntryPoint,
			Targets:    f.Targets,
		}
	}
	if desc.DepthStencilFormat != gputypes.TextureFormatUndefined {
		keep := hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		hd.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthStencilFormat,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLess,
			StencilFront:      keep,
			StencilBack:       keep,
			StencilReadMask:   0xFF,
			StencilWriteMask:  0xFF,
		}
	}
	raw, err := b.device.CreateRenderPipeline(hd)
	if err != nil {
		return nil, fmt.Errorf("create render pipeline %q: %w", desc.Label, err)
	}
	return &renderPipeline{owner: b, raw: raw, pushSlot: layout.pushSlot}, nil
}

func (b *Backend) CreateComputePipeline(p *dawn.ComputePipeline) (dawn.NativeObject, error) {
	if err := b.alive(); err != nil {
		return nil, err
	}
	desc := p.Descriptor()
	layout := p.Layout().Native().(*pipelineLayout)
	raw, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout.raw,
		Compute: hal.ComputeState{
			Module:     desc.Module.Native().(*shaderModule).raw,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create compute pipeline %q: %w", desc.Label, err)
	}
	return &computePipeline{owner: b, raw: raw, pushSlot: layout.pushSlot}, nil
}
