package dawn

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
)

const targetUsage = gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc

func colorPass(views ...*Texture) *RenderPassDescriptor {
	desc := &RenderPassDescriptor{}
	for _, v := range views {
		desc.ColorAttachments = append(desc.ColorAttachments, RenderPassColorAttachment{
			View:    v,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
		})
	}
	return desc
}

func TestRenderPassDrawAndReadback(t *testing.T) {
	d, b := newTestDevice(t)
	target := mustTexture(t, d, "target", 8, 8, targetUsage)
	vertices := mustBuffer(t, d, "vertices", 64, gputypes.BufferUsageVertex)
	readback := mustBuffer(t, d, "readback", 2048, gputypes.BufferUsageCopyDst)
	pipeline := mustRenderPipeline(t, d)

	enc := d.CreateCommandEncoder("frame")
	pass := enc.BeginRenderPass(colorPass(target))
	pass.SetPipeline(pipeline)
	pass.SetVertexBuffer(0, vertices, 0)
	pass.SetViewport(0, 0, 8, 8, 0, 1)
	pass.SetScissorRect(0, 0, 8, 8)
	pass.SetBlendColor(gputypes.Color{R: 1, A: 1})
	pass.SetStencilReference(1)
	pass.Draw(3, 1, 0, 0)
	pass.End()
	enc.CopyTextureToBuffer(ImageCopyTexture{Texture: target}, ImageCopyBuffer{Buffer: readback},
		gputypes.Extent3D{Width: 8, Height: 8, DepthOrArrayLayers: 1})
	got := submit(t, d, b, enc)

	want := []string{
		"Barriers 1 1",
		"BeginRenderPass 1",
		"SetRenderPipeline",
		"SetVertexBuffers 0 1 [0]",
		"Draw 3",
		"EndRenderPass",
		"Barriers 1 1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("trace = %v, want %v", got, want)
	}
	if target.Usage() != gputypes.TextureUsageCopySrc {
		t.Errorf("target usage = %v, want CopySrc", target.Usage())
	}
	if vertices.Usage() != gputypes.BufferUsageVertex {
		t.Errorf("vertex buffer usage = %v, want Vertex", vertices.Usage())
	}
	for _, obj := range []interface{ RefCount() int64 }{target, vertices, readback, pipeline} {
		if got := obj.RefCount(); got != 1 {
			t.Errorf("RefCount() = %d after submit, want 1", got)
		}
	}
}

func TestRenderPassIndexedDraws(t *testing.T) {
	d, b := newTestDevice(t)
	target := mustTexture(t, d, "target", 4, 4, targetUsage)
	index := mustBuffer(t, d, "index", 64, gputypes.BufferUsageIndex)
	args := mustBuffer(t, d, "args", 64, gputypes.BufferUsageIndirect)
	pipeline := mustRenderPipeline(t, d)

	enc := d.CreateCommandEncoder("indexed")
	pass := enc.BeginRenderPass(colorPass(target))
	pass.SetPipeline(pipeline)
	pass.SetIndexBuffer(index, gputypes.IndexFormatUint16, 0)
	pass.DrawIndexed(6, 1, 0, 0, 0)
	pass.DrawIndirect(args, 0)
	pass.DrawIndexedIndirect(args, 20)
	pass.End()
	got := submit(t, d, b, enc)

	if got[0] != "Barriers 2 1" {
		t.Errorf("first event = %q, want Barriers 2 1", got[0])
	}
	if args.RefCount() != 1 || index.RefCount() != 1 {
		t.Errorf("RefCount() = %d, %d after submit, want 1, 1", args.RefCount(), index.RefCount())
	}
}

func TestRenderPassValidation(t *testing.T) {
	d, _ := newTestDevice(t)
	target := mustTexture(t, d, "target", 8, 8, targetUsage)
	small := mustTexture(t, d, "small", 4, 4, targetUsage)
	sampled := mustTexture(t, d, "sampled", 8, 8, gputypes.TextureUsageTextureBinding)
	vertices := mustBuffer(t, d, "vertices", 64, gputypes.BufferUsageVertex)
	plain := mustBuffer(t, d, "plain", 64, gputypes.BufferUsageCopySrc)
	pipeline := mustRenderPipeline(t, d)

	tests := []struct {
		name   string
		desc   *RenderPassDescriptor
		record func(p *RenderPassEncoder)
		want   string
	}{
		{"no attachments", &RenderPassDescriptor{}, nil, "no attachments"},
		{"too many attachments", colorPass(target, target, target, target, target), nil, "color attachments"},
		{"attachment usage", colorPass(sampled), nil, "RenderAttachment"},
		{"size mismatch", colorPass(target, small), nil, "size differs"},
		{"nil view", colorPass((*Texture)(nil)), nil, "nil object"},
		{"resolve single-sampled", &RenderPassDescriptor{ColorAttachments: []RenderPassColorAttachment{
			{View: target, ResolveTarget: small},
		}}, nil, "resolve target"},
		{"draw without pipeline", colorPass(target), func(p *RenderPassEncoder) { p.Draw(3, 1, 0, 0) }, "no pipeline"},
		{"indexed without index buffer", colorPass(target), func(p *RenderPassEncoder) {
			p.SetPipeline(pipeline)
			p.DrawIndexed(3, 1, 0, 0, 0)
		}, "no index buffer"},
		{"vertex usage", colorPass(target), func(p *RenderPassEncoder) { p.SetVertexBuffer(0, plain, 0) }, "Vertex usage"},
		{"vertex slots", colorPass(target), func(p *RenderPassEncoder) { p.SetVertexBuffer(MaxVertexBuffers, vertices, 0) }, "exceed"},
		{"vertex offsets", colorPass(target), func(p *RenderPassEncoder) {
			p.SetVertexBuffers(0, []*Buffer{vertices}, nil)
		}, "offsets"},
		{"index usage", colorPass(target), func(p *RenderPassEncoder) {
			p.SetIndexBuffer(vertices, gputypes.IndexFormatUint32, 0)
		}, "Index usage"},
		{"viewport depth", colorPass(target), func(p *RenderPassEncoder) { p.SetViewport(0, 0, 8, 8, 0, 2) }, "invalid viewport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := d.CreateCommandEncoder(tt.name)
			pass := enc.BeginRenderPass(tt.desc)
			if tt.record != nil {
				tt.record(pass)
			}
			pass.End()
			_, err := enc.Finish()
			if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Finish() = %v, want a validation error mentioning %q", err, tt.want)
			}
		})
	}
	for _, tex := range []*Texture{target, small, sampled} {
		if got := tex.RefCount(); got != 1 {
			t.Errorf("%s RefCount() = %d after failed passes, want 1", tex.Label(), got)
		}
	}
}

func TestRenderPassMipAttachment(t *testing.T) {
	d, b := newTestDevice(t)
	mipped, err := d.CreateTexture(&TextureDescriptor{
		Label:         "mipped",
		Size:          gputypes.Extent3D{Width: 16, Height: 16},
		MipLevelCount: 2,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         targetUsage,
	})
	if err != nil {
		t.Fatalf("CreateTexture() = %v", err)
	}
	small := mustTexture(t, d, "small", 8, 8, targetUsage)

	enc := d.CreateCommandEncoder("mip")
	pass := enc.BeginRenderPass(&RenderPassDescriptor{ColorAttachments: []RenderPassColorAttachment{
		{View: mipped, MipLevel: 1},
		{View: small},
	}})
	pass.End()
	got := submit(t, d, b, enc)
	if want := []string{"Barriers 0 2", "BeginRenderPass 2", "EndRenderPass"}; !reflect.DeepEqual(got, want) {
		t.Errorf("trace = %v, want %v", got, want)
	}
}

func TestRenderPassDepthAttachment(t *testing.T) {
	d, b := newTestDevice(t)
	color := mustTexture(t, d, "color", 8, 8, targetUsage)
	depth, err := d.CreateTexture(&TextureDescriptor{
		Label:  "depth",
		Size:   gputypes.Extent3D{Width: 8, Height: 8},
		Format: gputypes.TextureFormatDepth24PlusStencil8,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatalf("CreateTexture() = %v", err)
	}

	enc := d.CreateCommandEncoder("depth")
	pass := enc.BeginRenderPass(&RenderPassDescriptor{
		ColorAttachments: colorPass(color).ColorAttachments,
		DepthStencilAttachment: &RenderPassDepthStencilAttachment{
			View:            depth,
			DepthLoadOp:     gputypes.LoadOpClear,
			DepthStoreOp:    gputypes.StoreOpDiscard,
			DepthClearValue: 1,
		},
	})
	pass.End()
	got := submit(t, d, b, enc)
	if got[0] != "Barriers 0 2" {
		t.Errorf("first event = %q, want Barriers 0 2", got[0])
	}
	if depth.Usage() != gputypes.TextureUsageRenderAttachment || depth.RefCount() != 1 {
		t.Errorf("depth usage %v, RefCount %d", depth.Usage(), depth.RefCount())
	}
}

func TestBeginRenderPassOnFailedEncoder(t *testing.T) {
	d, _ := newTestDevice(t)
	target := mustTexture(t, d, "target", 8, 8, targetUsage)

	enc := d.CreateCommandEncoder("failed")
	enc.PopDebugGroup()
	pass := enc.BeginRenderPass(colorPass(target))
	pass.SetStencilReference(3)
	pass.End()
	_, err := enc.Finish()
	if err == nil || !strings.Contains(err.Error(), "no open debug group") {
		t.Errorf("Finish() = %v, want the first error", err)
	}
	if target.RefCount() != 1 {
		t.Errorf("RefCount() = %d, want 1", target.RefCount())
	}
}
