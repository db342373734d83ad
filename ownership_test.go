package dawn

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
)

const textureUsageAll = gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment

func TestCreateRejectsForeignObjects(t *testing.T) {
	d, _ := newTestDevice(t)
	other, _ := newTestDevice(t)

	buf := mustBuffer(t, d, "uniform", 256, gputypes.BufferUsageUniform)
	foreignBuf := mustBuffer(t, other, "foreign uniform", 256, gputypes.BufferUsageUniform)
	foreignTex := mustTexture(t, other, "foreign tex", 4, 4, gputypes.TextureUsageTextureBinding)

	newLayout := func(dev *Device, entry gputypes.BindGroupLayoutEntry) *BindGroupLayout {
		l, err := dev.CreateBindGroupLayout(&BindGroupLayoutDescriptor{Label: "layout", Entries: []gputypes.BindGroupLayoutEntry{entry}})
		if err != nil {
			t.Fatalf("CreateBindGroupLayout() = %v", err)
		}
		t.Cleanup(l.Release)
		return l
	}
	bufferEntry := gputypes.BindGroupLayoutEntry{Binding: 0, Visibility: gputypes.ShaderStageCompute,
		Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}}
	textureEntry := gputypes.BindGroupLayoutEntry{Binding: 0, Visibility: gputypes.ShaderStageCompute,
		Texture: &gputypes.TextureBindingLayout{}}
	bufLayout := newLayout(d, bufferEntry)
	texLayout := newLayout(d, textureEntry)
	foreignLayout := newLayout(other, bufferEntry)

	pipelineLayout := func(dev *Device) *PipelineLayout {
		l, err := dev.CreatePipelineLayout(&PipelineLayoutDescriptor{Label: "pl"})
		if err != nil {
			t.Fatalf("CreatePipelineLayout() = %v", err)
		}
		t.Cleanup(l.Release)
		return l
	}
	module := func(dev *Device, src string) *ShaderModule {
		m, err := dev.CreateShaderModule(&ShaderModuleDescriptor{Label: "m", WGSL: src})
		if err != nil {
			t.Fatalf("CreateShaderModule() = %v", err)
		}
		t.Cleanup(m.Release)
		return m
	}
	pl, foreignPL := pipelineLayout(d), pipelineLayout(other)
	cs, foreignCS := module(d, testComputeWGSL), module(other, testComputeWGSL)
	rs, foreignRS := module(d, testRenderWGSL), module(other, testRenderWGSL)

	renderDesc := func(layout *PipelineLayout, vs, fs *ShaderModule) *RenderPipelineDescriptor {
		return &RenderPipelineDescriptor{
			Label:  "render",
			Layout: layout,
			Vertex: VertexState{Module: vs, EntryPoint: "vs_main"},
			Fragment: &FragmentState{
				Module:     fs,
				EntryPoint: "fs_main",
				Targets:    []gputypes.ColorTargetState{{Format: gputypes.TextureFormatRGBA8Unorm, WriteMask: gputypes.ColorWriteMaskAll}},
			},
		}
	}

	tests := []struct {
		name   string
		create func() error
	}{
		{"bind group buffer", func() error {
			_, err := d.CreateBindGroup(&BindGroupDescriptor{Layout: bufLayout, Entries: []BindGroupEntry{{Binding: 0, Buffer: foreignBuf}}})
			return err
		}},
		{"bind group texture", func() error {
			_, err := d.CreateBindGroup(&BindGroupDescriptor{Layout: texLayout, Entries: []BindGroupEntry{{Binding: 0, Texture: foreignTex}}})
			return err
		}},
		{"bind group layout", func() error {
			_, err := d.CreateBindGroup(&BindGroupDescriptor{Layout: foreignLayout, Entries: []BindGroupEntry{{Binding: 0, Buffer: buf}}})
			return err
		}},
		{"pipeline layout", func() error {
			_, err := d.CreatePipelineLayout(&PipelineLayoutDescriptor{BindGroupLayouts: []*BindGroupLayout{bufLayout, foreignLayout}})
			return err
		}},
		{"compute pipeline layout", func() error {
			_, err := d.CreateComputePipeline(&ComputePipelineDescriptor{Layout: foreignPL, Module: cs, EntryPoint: "main"})
			return err
		}},
		{"compute pipeline module", func() error {
			_, err := d.CreateComputePipeline(&ComputePipelineDescriptor{Layout: pl, Module: foreignCS, EntryPoint: "main"})
			return err
		}},
		{"render pipeline layout", func() error {
			_, err := d.CreateRenderPipeline(renderDesc(foreignPL, rs, rs))
			return err
		}},
		{"render pipeline vertex module", func() error {
			_, err := d.CreateRenderPipeline(renderDesc(pl, foreignRS, rs))
			return err
		}},
		{"render pipeline fragment module", func() error {
			_, err := d.CreateRenderPipeline(renderDesc(pl, rs, foreignRS))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.create()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), "another device") {
				t.Errorf("error = %q, want it to mention another device", err)
			}
		})
	}

	if got := foreignBuf.RefCount(); got != 1 {
		t.Errorf("foreign buffer RefCount() = %d, want 1", got)
	}
	if got := foreignLayout.RefCount(); got != 1 {
		t.Errorf("foreign layout RefCount() = %d, want 1", got)
	}
}

func TestEncoderRejectsForeignObjects(t *testing.T) {
	d, _ := newTestDevice(t)
	other, _ := newTestDevice(t)

	buf := mustBuffer(t, d, "buf", 1024, bufferUsageAll)
	tex := mustTexture(t, d, "tex", 8, 8, textureUsageAll)
	computePipeline := mustComputePipeline(t, d, nil)
	defer computePipeline.Release()

	foreignBuf := mustBuffer(t, other, "foreign buf", 1024, bufferUsageAll)
	foreignTex := mustTexture(t, other, "foreign tex", 8, 8, textureUsageAll)
	foreignGroup := mustBufferGroup(t, other, foreignBuf, gputypes.BufferBindingTypeUniform, false)
	defer foreignGroup.Release()
	foreignCompute := mustComputePipeline(t, other, nil)
	defer foreignCompute.Release()
	foreignRender := mustRenderPipeline(t, other)
	defer foreignRender.Release()

	extent := gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1}
	compute := func(record func(p *ComputePassEncoder)) func(e *CommandEncoder) {
		return func(e *CommandEncoder) {
			p := e.BeginComputePass()
			record(p)
			p.End()
		}
	}
	render := func(record func(p *RenderPassEncoder)) func(e *CommandEncoder) {
		return func(e *CommandEncoder) {
			p := e.BeginRenderPass(colorPass(tex))
			record(p)
			p.End()
		}
	}

	tests := []struct {
		name   string
		record func(e *CommandEncoder)
	}{
		{"TransitionBufferUsage", func(e *CommandEncoder) { e.TransitionBufferUsage(foreignBuf, gputypes.BufferUsageCopyDst) }},
		{"TransitionTextureUsage", func(e *CommandEncoder) { e.TransitionTextureUsage(foreignTex, gputypes.TextureUsageCopyDst) }},
		{"CopyBufferToBuffer", func(e *CommandEncoder) { e.CopyBufferToBuffer(foreignBuf, 0, buf, 0, 16) }},
		{"CopyBufferToTexture", func(e *CommandEncoder) {
			e.CopyBufferToTexture(ImageCopyBuffer{Buffer: foreignBuf}, ImageCopyTexture{Texture: tex}, extent)
		}},
		{"CopyTextureToBuffer", func(e *CommandEncoder) {
			e.CopyTextureToBuffer(ImageCopyTexture{Texture: foreignTex}, ImageCopyBuffer{Buffer: buf}, extent)
		}},
		{"CopyTextureToTexture", func(e *CommandEncoder) {
			e.CopyTextureToTexture(ImageCopyTexture{Texture: tex}, ImageCopyTexture{Texture: foreignTex}, extent)
		}},
		{"compute SetPipeline", compute(func(p *ComputePassEncoder) { p.SetPipeline(foreignCompute) })},
		{"compute SetBindGroup", compute(func(p *ComputePassEncoder) { p.SetBindGroup(0, foreignGroup) })},
		{"DispatchIndirect", compute(func(p *ComputePassEncoder) {
			p.SetPipeline(computePipeline)
			p.DispatchIndirect(foreignBuf, 0)
		})},
		{"BeginRenderPass", func(e *CommandEncoder) { e.BeginRenderPass(colorPass(foreignTex)).End() }},
		{"render SetPipeline", render(func(p *RenderPassEncoder) { p.SetPipeline(foreignRender) })},
		{"SetVertexBuffer", render(func(p *RenderPassEncoder) { p.SetVertexBuffer(0, foreignBuf, 0) })},
		{"SetIndexBuffer", render(func(p *RenderPassEncoder) { p.SetIndexBuffer(foreignBuf, gputypes.IndexFormatUint16, 0) })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := d.CreateCommandEncoder(tt.name)
			tt.record(enc)
			cb, err := enc.Finish()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Finish() = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), "another device") {
				t.Errorf("Finish() = %q, want it to mention another device", err)
			}
			cb.Release()
		})
	}

	if got := foreignBuf.RefCount(); got != 2 {
		t.Errorf("foreign buffer RefCount() = %d, want 2 (creator and bind group)", got)
	}
}

func TestNilDescriptors(t *testing.T) {
	d, _ := newTestDevice(t)

	tests := []struct {
		name   string
		create func() error
	}{
		{"buffer", func() error { _, err := d.CreateBuffer(nil); return err }},
		{"texture", func() error { _, err := d.CreateTexture(nil); return err }},
		{"shader module", func() error { _, err := d.CreateShaderModule(nil); return err }},
		{"bind group layout", func() error { _, err := d.CreateBindGroupLayout(nil); return err }},
		{"bind group", func() error { _, err := d.CreateBindGroup(nil); return err }},
		{"pipeline layout", func() error { _, err := d.CreatePipelineLayout(nil); return err }},
		{"render pipeline", func() error { _, err := d.CreateRenderPipeline(nil); return err }},
		{"compute pipeline", func() error { _, err := d.CreateComputePipeline(nil); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.create()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), "nil descriptor") {
				t.Errorf("error = %q, want it to mention the nil descriptor", err)
			}
		})
	}
}

func TestBeginRenderPassNilDescriptor(t *testing.T) {
	d, _ := newTestDevice(t)
	pipeline := mustRenderPipeline(t, d)
	defer pipeline.Release()

	enc := d.CreateCommandEncoder("nil pass")
	pass := enc.BeginRenderPass(nil)
	if pass == nil {
		t.Fatal("BeginRenderPass(nil) returned nil")
	}
	pass.SetPipeline(pipeline)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	cb, err := enc.Finish()
	if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), "nil descriptor") {
		t.Fatalf("Finish() = %v, want a nil descriptor validation error", err)
	}
	if cb == nil || !cb.IsError() {
		t.Fatal("Finish() did not return an error command buffer")
	}
}
