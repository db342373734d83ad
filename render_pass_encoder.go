package dawn

import "github.com/gogpu/gputypes"

// RenderPassColorAttachment is one color target of a render pass.
type RenderPassColorAttachment struct {
	View          *Texture
	MipLevel      uint32
	ResolveTarget *Texture
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearColor    gputypes.Color
}

// RenderPassDepthStencilAttachment is the depth/stencil target of a render pass.
type RenderPassDepthStencilAttachment struct {
	View              *Texture
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
}

// RenderPassDescriptor describes the targets of a render pass.
type RenderPassDescriptor struct {
	ColorAttachments       []RenderPassColorAttachment
	DepthStencilAttachment *RenderPassDepthStencilAttachment
}

// RenderPassEncoder records draw commands. It is returned even when
// BeginRenderPass fails so calls can keep chaining; they are ignored.
type RenderPassEncoder struct {
	passEncoder
	pipeline       *RenderPipeline
	hasIndexBuffer bool
}

// BeginRenderPass opens a render pass. The encoder accepts no other
// command until the pass ends.
func (e *CommandEncoder) BeginRenderPass(desc *RenderPassDescriptor) *RenderPassEncoder {
	p := &RenderPassEncoder{}
	if !e.ready("BeginRenderPass") {
		p.parent, p.name, p.ended = e, "RenderPass", true
		return p
	}
	p.start(e, "RenderPass")

	fail := func(format string, args ...any) *RenderPassEncoder {
		p.setError(validationErrorf("BeginRenderPass: "+format, args...))
		p.abandon()
		return p
	}
	if desc == nil {
		return fail("nil descriptor")
	}
	n := len(desc.ColorAttachments)
	switch {
	case n == 0 && desc.DepthStencilAttachment == nil:
		return fail("no attachments")
	case n > MaxColorAttachments:
		return fail("%d color attachments, at most %d", n, MaxColorAttachments)
	}

	var width, height uint32
	sized := false
	checkSize := func(s gputypes.Extent3D) bool {
		if !sized {
			width, height, sized = s.Width, s.Height, true
			return true
		}
		return s.Width == width && s.Height == height
	}
	for i, ca := range desc.ColorAttachments {
		if !p.owned("BeginRenderPass", ca.View) {
			p.abandon()
			return p
		}
		v := ca.View
		switch {
		case v.AllowedUsage()&gputypes.TextureUsageRenderAttachment == 0:
			return fail("color attachment %d: texture %q lacks RenderAttachment usage", i, v.Label())
		case ca.MipLevel >= v.MipLevelCount():
			return fail("color attachment %d: mip level %d out of range", i, ca.MipLevel)
		case !checkSize(v.MipLevelSize(ca.MipLevel)):
			return fail("color attachment %d: size differs from the other attachments", i)
		}
		if r := ca.ResolveTarget; r != nil {
			if !p.owned("BeginRenderPass", r) {
				p.abandon()
				return p
			}
			switch {
			case v.SampleCount() == 1:
				return fail("color attachment %d: resolve target on a single-sampled view", i)
			case r.SampleCount() != 1:
				return fail("color attachment %d: multisampled resolve target", i)
			case r.Format() != v.Format():
				return fail("color attachment %d: resolve target format differs", i)
			case r.AllowedUsage()&gputypes.TextureUsageRenderAttachment == 0:
				return fail("color attachment %d: resolve target lacks RenderAttachment usage", i)
			case r.Size().Width != width || r.Size().Height != height:
				return fail("color attachment %d: resolve target size differs", i)
			}
		}
	}
	if ds := desc.DepthStencilAttachment; ds != nil {
		if !p.owned("BeginRenderPass", ds.View) {
			p.abandon()
			return p
		}
		switch {
		case ds.View.AllowedUsage()&gputypes.TextureUsageRenderAttachment == 0:
			return fail("depth/stencil attachment: texture %q lacks RenderAttachment usage", ds.View.Label())
		case !checkSize(ds.View.Size()):
			return fail("depth/stencil attachment: size differs from the color attachments")
		}
	}

	cmd := allocRecord[BeginRenderPassCmd](e, p.alloc)
	if cmd == nil {
		p.abandon()
		return p
	}
	cmd.Width, cmd.Height = width, height
	cmd.ColorAttachmentCount = uint32(n)
	for i, ca := range desc.ColorAttachments {
		cmd.ColorAttachments[i] = ColorAttachmentInfo{
			View:          NewRef(ca.View),
			ResolveTarget: NewRef(ca.ResolveTarget),
			MipLevel:      ca.MipLevel,
			LoadOp:        ca.LoadOp,
			StoreOp:       ca.StoreOp,
			ClearColor:    ca.ClearColor,
		}
		p.usage.addTexture(ca.View, gputypes.TextureUsageRenderAttachment)
		if ca.ResolveTarget != nil {
			p.usage.addTexture(ca.ResolveTarget, gputypes.TextureUsageRenderAttachment)
		}
	}
	if ds := desc.DepthStencilAttachment; ds != nil {
		cmd.DepthStencil = DepthStencilAttachmentInfo{
			View:              NewRef(ds.View),
			DepthLoadOp:       ds.DepthLoadOp,
			DepthStoreOp:      ds.DepthStoreOp,
			DepthClearValue:   ds.DepthClearValue,
			StencilLoadOp:     ds.StencilLoadOp,
			StencilStoreOp:    ds.StencilStoreOp,
			StencilClearValue: ds.StencilClearValue,
		}
		p.usage.addTexture(ds.View, gputypes.TextureUsageRenderAttachment)
	}
	return p
}

// SetPipeline binds a render pipeline for later draws.
func (p *RenderPassEncoder) SetPipeline(pipeline *RenderPipeline) {
	if !p.ready("SetPipeline") || !p.owned("SetPipeline", pipeline) {
		return
	}
	cmd := allocRecord[SetRenderPipelineCmd](p.parent, p.alloc)
	if cmd == nil {
		return
	}
	cmd.Pipeline = NewRef(pipeline)
	p.pipeline = pipeline
}

// SetVertexBuffers binds buffers to consecutive vertex slots from startSlot.
func (p *RenderPassEncoder) SetVertexBuffers(startSlot uint32, buffers []*Buffer, offsets []uint64) {
	const op = "SetVertexBuffers"
	if !p.ready(op) {
		return
	}
	switch {
	case len(buffers) != len(offsets):
		p.setError(validationErrorf("RenderPass.%s: %d buffers and %d offsets", op, len(buffers), len(offsets)))
		return
	case uint64(startSlot)+uint64(len(buffers)) > MaxVertexBuffers:
		p.setError(validationErrorf("RenderPass.%s: slots [%d, +%d) exceed %d", op, startSlot, len(buffers), MaxVertexBuffers))
		return
	}
	for i, b := range buffers {
		if !p.owned(op, b) {
			return
		}
		if b.AllowedUsage()&gputypes.BufferUsageVertex == 0 {
			p.setError(validationErrorf("RenderPass.%s: buffer %q lacks Vertex usage", op, b.Label()))
			return
		}
		if offsets[i] > b.Size() {
			p.setError(validationErrorf("RenderPass.%s: offset %d past the end of buffer %q", op, offsets[i], b.Label()))
			return
		}
	}
	cmd := allocRecord[SetVertexBuffersCmd](p.parent, p.alloc)
	if cmd == nil {
		return
	}
	cmd.StartSlot = startSlot
	cmd.Count = uint32(len(buffers))
	refs := allocData[Ref[*Buffer]](p.parent, p.alloc, len(buffers))
	for i, b := range buffers {
		if refs != nil {
			refs[i] = NewRef(b)
		}
		p.usage.addBuffer(b, gputypes.BufferUsageVertex)
	}
	copy(allocData[uint64](p.parent, p.alloc, len(offsets)), offsets)
}

// SetVertexBuffer binds one vertex buffer.
func (p *RenderPassEncoder) SetVertexBuffer(slot uint32, buffer *Buffer, offset uint64) {
	p.SetVertexBuffers(slot, []*Buffer{buffer}, []uint64{offset})
}

// SetIndexBuffer binds the index buffer for indexed draws.
func (p *RenderPassEncoder) SetIndexBuffer(buffer *Buffer, format gputypes.IndexFormat, offset uint64) {
	const op = "SetIndexBuffer"
	if !p.ready(op) || !p.owned(op, buffer) {
		return
	}
	switch {
	case buffer.AllowedUsage()&gputypes.BufferUsageIndex == 0:
		p.setError(validationErrorf("RenderPass.%s: buffer %q lacks Index usage", op, buffer.Label()))
		return
	case offset > buffer.Size():
		p.setError(validationErrorf("RenderPass.%s: offset %d past the end of buffer %q", op, offset, buffer.Label()))
		return
	}
	cmd := allocRecord[SetIndexBufferCmd](p.parent, p.alloc)
	if cmd == nil {
		return
	}
	cmd.Buffer = NewRef(buffer)
	cmd.Format = format
	cmd.Offset = offset
	p.usage.addBuffer(buffer, gputypes.BufferUsageIndex)
	p.hasIndexBuffer = true
}

// SetStencilReference sets the stencil reference value.
func (p *RenderPassEncoder) SetStencilReference(reference uint32) {
	if !p.ready("SetStencilReference") {
		return
	}
	if cmd := allocRecord[SetStencilReferenceCmd](p.parent, p.alloc); cmd != nil {
		cmd.Reference = reference
	}
}

// SetScissorRect sets the scissor rectangle.
func (p *RenderPassEncoder) SetScissorRect(x, y, width, height uint32) {
	if !p.ready("SetScissorRect") {
		return
	}
	if cmd := allocRecord[SetScissorRectCmd](p.parent, p.alloc); cmd != nil {
		cmd.X, cmd.Y, cmd.Width, cmd.Height = x, y, width, height
	}
}

// SetViewport sets the viewport. Depths must lie in [0, 1].
func (p *RenderPassEncoder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	if !p.ready("SetViewport") {
		return
	}
	if minDepth < 0 || maxDepth > 1 || minDepth > maxDepth || width < 0 || height < 0 {
		p.setError(validationErrorf("RenderPass.SetViewport: invalid viewport"))
		return
	}
	if cmd := allocRecord[SetViewportCmd](p.parent, p.alloc); cmd != nil {
		*cmd = SetViewportCmd{X: x, Y: y, Width: width, Height: height, MinDepth: minDepth, MaxDepth: maxDepth}
	}
}

// SetBlendColor sets the constant blend color.
func (p *RenderPassEncoder) SetBlendColor(color gputypes.Color) {
	if !p.ready("SetBlendColor") {
		return
	}
	if cmd := allocRecord[SetBlendColorCmd](p.parent, p.alloc); cmd != nil {
		cmd.Color = color
	}
}

func (p *RenderPassEncoder) readyToDraw(op string, indexed bool) bool {
	if !p.ready(op) {
		return false
	}
	if p.pipeline == nil {
		p.setError(validationErrorf("RenderPass.%s: no pipeline set", op))
		return false
	}
	if indexed && !p.hasIndexBuffer {
		p.setError(validationErrorf("RenderPass.%s: no index buffer set", op))
		return false
	}
	return true
}

// Draw draws vertexCount vertices for instanceCount instances.
func (p *RenderPassEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !p.readyToDraw("Draw", false) {
		return
	}
	if cmd := allocRecord[DrawCmd](p.parent, p.alloc); cmd != nil {
		*cmd = DrawCmd{VertexCount: vertexCount, InstanceCount: instanceCount, FirstVertex: firstVertex, FirstInstance: firstInstance}
	}
}

// DrawIndexed draws indexCount indices for instanceCount instances.
func (p *RenderPassEncoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if !p.readyToDraw("DrawIndexed", true) {
		return
	}
	if cmd := allocRecord[DrawIndexedCmd](p.parent, p.alloc); cmd != nil {
		*cmd = DrawIndexedCmd{
			IndexCount:    indexCount,
			InstanceCount: instanceCount,
			FirstIndex:    firstIndex,
			BaseVertex:    baseVertex,
			FirstInstance: firstInstance,
		}
	}
}

// indirect argument sizes in bytes
const (
	drawIndirectSize        = 16
	drawIndexedIndirectSize = 20
	dispatchIndirectSize    = 12
)

func (p *passEncoder) checkIndirect(op string, b *Buffer, offset, size uint64) bool {
	if !p.owned(op, b) {
		return false
	}
	switch {
	case b.AllowedUsage()&gputypes.BufferUsageIndirect == 0:
		p.setError(validationErrorf("%s.%s: buffer %q lacks Indirect usage", p.name, op, b.Label()))
		return false
	case offset%4 != 0:
		p.setError(validationErrorf("%s.%s: indirect offset %d is not a multiple of 4", p.name, op, offset))
		return false
	}
	if err := validateBufferRange(b, offset, size); err != nil {
		p.setError(err)
		return false
	}
	p.usage.addBuffer(b, gputypes.BufferUsageIndirect)
	return true
}

// DrawIndirect draws with arguments read from buffer at offset.
func (p *RenderPassEncoder) DrawIndirect(buffer *Buffer, offset uint64) {
	if !p.readyToDraw("DrawIndirect", false) || !p.checkIndirect("DrawIndirect", buffer, offset, drawIndirectSize) {
		return
	}
	if cmd := allocRecord[DrawIndirectCmd](p.parent, p.alloc); cmd != nil {
		cmd.IndirectBuffer = NewRef(buffer)
		cmd.IndirectOffset = offset
	}
}

// DrawIndexedIndirect draws indexed with arguments read from buffer at offset.
func (p *RenderPassEncoder) DrawIndexedIndirect(buffer *Buffer, offset uint64) {
	if !p.readyToDraw("DrawIndexedIndirect", true) ||
		!p.checkIndirect("DrawIndexedIndirect", buffer, offset, drawIndexedIndirectSize) {
		return
	}
	if cmd := allocRecord[DrawIndexedIndirectCmd](p.parent, p.alloc); cmd != nil {
		cmd.IndirectBuffer = NewRef(buffer)
		cmd.IndirectOffset = offset
	}
}

// End closes the render pass.
func (p *RenderPassEncoder) End() {
	p.end(func() bool {
		return allocRecord[EndRenderPassCmd](p.parent, p.alloc) != nil
	})
}
