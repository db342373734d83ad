package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/dawn"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

var errNoPass = errors.New("no pass is open")

// issuer replays one stream onto a hal command encoder.
type issuer struct {
	b   *Backend
	enc hal.CommandEncoder
	rp  hal.RenderPassEncoder
	cp  hal.ComputePassEncoder

	ring       *pushRing
	pushValues [dawn.MaxPushConstants]uint32
	pushSlot   int
	pushDirty  bool

	debugDepth int
	barriers   int
}

var _ dawn.CommandIssuer = (*issuer)(nil)

func newIssuer(b *Backend, enc hal.CommandEncoder) *issuer {
	return &issuer{b: b, enc: enc, pushSlot: -1}
}

// abort closes any open pass and frees what the replay created.
func (is *issuer) abort() {
	if is.rp != nil {
		is.rp.End()
		is.rp = nil
	}
	if is.cp != nil {
		is.cp.End()
		is.cp = nil
	}
	if is.ring != nil {
		is.ring.destroy()
		is.ring = nil
	}
}

func (is *issuer) Barriers(buffers []dawn.BufferBarrier, textures []dawn.TextureBarrier) error {
	if len(buffers) > 0 {
		hb := make([]hal.BufferBarrier, len(buffers))
		for i, b := range buffers {
			hb[i] = hal.BufferBarrier{
				Buffer: rawBuffer(b.Buffer),
				Usage:  hal.BufferUsageTransition{OldUsage: b.From, NewUsage: b.To},
			}
		}
		is.enc.TransitionBuffers(hb)
	}
	if len(textures) > 0 {
		tb := make([]hal.TextureBarrier, len(textures))
		for i, t := range textures {
			tb[i] = hal.TextureBarrier{
				Texture: nativeTexture(t.Texture).raw,
				Usage:   hal.TextureUsageTransition{OldUsage: t.From, NewUsage: t.To},
			}
		}
		is.enc.TransitionTextures(tb)
	}
	is.barriers += len(buffers) + len(textures)
	return nil
}

func (is *issuer) BeginRenderPass(cmd *dawn.BeginRenderPassCmd) error {
	desc := &hal.RenderPassDescriptor{Label: "dawn_render_pass"}
	for i := range cmd.ColorAttachmentCount {
		ca := &cmd.ColorAttachments[i]
		view, err := nativeTexture(ca.View.Get()).mipView(ca.MipLevel)
		if err != nil {
			return err
		}
		att := hal.RenderPassColorAttachment{
			View:       view,
			LoadOp:     ca.LoadOp,
			StoreOp:    ca.StoreOp,
			ClearValue: ca.ClearColor,
		}
		if ca.ResolveTarget.Valid() {
			att.ResolveTarget = nativeTexture(ca.ResolveTarget.Get()).view
		}
		desc.ColorAttachments = append(desc.ColorAttachments, att)
	}
	if ds := &cmd.DepthStencil; ds.View.Valid() {
		desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:              nativeTexture(ds.View.Get()).view,
			DepthLoadOp:       ds.DepthLoadOp,
			DepthStoreOp:      ds.DepthStoreOp,
			DepthClearValue:   ds.DepthClearValue,
			StencilLoadOp:     ds.StencilLoadOp,
			StencilStoreOp:    ds.StencilStoreOp,
			StencilClearValue: ds.StencilClearValue,
		}
	}
	is.rp = is.enc.BeginRenderPass(desc)
	is.beginPass()
	return nil
}

func (is *issuer) EndRenderPass() error {
	if is.rp == nil {
		return fmt.Errorf("end render pass: %w", errNoPass)
	}
	is.rp.End()
	is.rp = nil
	return nil
}

func (is *issuer) BeginComputePass() error {
	is.cp = is.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "dawn_compute_pass"})
	is.beginPass()
	return nil
}

func (is *issuer) EndComputePass() error {
	if is.cp == nil {
		return fmt.Errorf("end compute pass: %w", errNoPass)
	}
	is.cp.End()
	is.cp = nil
	return nil
}

// beginPass forgets pass-scoped bindings; push constant values persist.
func (is *issuer) beginPass() {
	is.pushSlot = -1
	is.pushDirty = true
}

func halOrigin(o gputypes.Origin3D) hal.Origin3D {
	return hal.Origin3D{X: o.X, Y: o.Y, Z: o.Z}
}

func halExtent(e gputypes.Extent3D) hal.Extent3D {
	return hal.Extent3D{Width: e.Width, Height: e.Height, DepthOrArrayLayers: e.DepthOrArrayLayers}
}

func imageCopyTexture(tc *dawn.TextureCopy) hal.ImageCopyTexture {
	return hal.ImageCopyTexture{
		Texture:  nativeTexture(tc.Texture.Get()).raw,
		MipLevel: tc.MipLevel,
		Origin:   halOrigin(tc.Origin),
	}
}

func bufferTextureCopy(bc *dawn.BufferCopy, tc *dawn.TextureCopy, size gputypes.Extent3D) []hal.BufferTextureCopy {
	return []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       bc.Offset,
			BytesPerRow:  bc.RowPitch,
			RowsPerImage: bc.ImageHeight,
		},
		TextureBase: imageCopyTexture(tc),
		Size:        halExtent(size),
	}}
}

func (is *issuer) CopyBufferToBuffer(cmd *dawn.CopyBufferToBufferCmd) error {
	is.enc.CopyBufferToBuffer(rawBuffer(cmd.Source.Buffer.Get()), rawBuffer(cmd.Destination.Buffer.Get()),
		[]hal.BufferCopy{{SrcOffset: cmd.Source.Offset, DstOffset: cmd.Destination.Offset, Size: cmd.Size}})
	return nil
}

func (is *issuer) CopyBufferToTexture(cmd *dawn.CopyBufferToTextureCmd) error {
	is.enc.CopyBufferToTexture(rawBuffer(cmd.Source.Buffer.Get()), nativeTexture(cmd.Destination.Texture.Get()).raw,
		bufferTextureCopy(&cmd.Source, &cmd.Destination, cmd.CopySize))
	return nil
}

func (is *issuer) CopyTextureToBuffer(cmd *dawn.CopyTextureToBufferCmd) error {
	is.enc.CopyTextureToBuffer(nativeTexture(cmd.Source.Texture.Get()).raw, rawBuffer(cmd.Destination.Buffer.Get()),
		bufferTextureCopy(&cmd.Destination, &cmd.Source, cmd.CopySize))
	return nil
}

func (is *issuer) CopyTextureToTexture(cmd *dawn.CopyTextureToTextureCmd) error {
	is.enc.CopyTextureToTexture(nativeTexture(cmd.Source.Texture.Get()).raw, nativeTexture(cmd.Destination.Texture.Get()).raw,
		[]hal.TextureCopy{{
			SrcBase: imageCopyTexture(&cmd.Source),
			DstBase: imageCopyTexture(&cmd.Destination),
			Size:    halExtent(cmd.CopySize),
		}})
	return nil
}

// computePass and renderPass return the open pass or an error naming op.
func (is *issuer) computePass(op string) (hal.ComputePassEncoder, error) {
	if is.cp == nil {
		return nil, fmt.Errorf("%s: %w", op, errNoPass)
	}
	return is.cp, nil
}

func (is *issuer) renderPass(op string) (hal.RenderPassEncoder, error) {
	if is.rp == nil {
		return nil, fmt.Errorf("%s: %w", op, errNoPass)
	}
	return is.rp, nil
}

// flushPushConstants binds the current push constant values before work
// is issued, if they changed since the last bind.
func (is *issuer) flushPushConstants(bind func(index uint32, group hal.BindGroup, offsets []uint32)) error {
	if is.pushSlot < 0 || !is.pushDirty {
		return nil
	}
	if is.ring == nil {
		ring, err := newPushRing(is.b.device, is.b.queue, is.b.pushLayout, is.b.opts.pushConstantCapacity)
		if err != nil {
			return err
		}
		is.ring = ring
	}
	off, err := is.ring.push(&is.pushValues)
	if err != nil {
		return err
	}
	bind(uint32(is.pushSlot), is.ring.group, []uint32{off})
	is.pushDirty = false
	return nil
}

func (is *issuer) beforeDispatch(op string) (hal.ComputePassEncoder, error) {
	cp, err := is.computePass(op)
	if err != nil {
		return nil, err
	}
	return cp, is.flushPushConstants(cp.SetBindGroup)
}

func (is *issuer) beforeDraw(op string) (hal.RenderPassEncoder, error) {
	rp, err := is.renderPass(op)
	if err != nil {
		return nil, err
	}
	return rp, is.flushPushConstants(rp.SetBindGroup)
}

func (is *issuer) Dispatch(cmd *dawn.DispatchCmd) error {
	cp, err := is.beforeDispatch("dispatch")
	if err != nil {
		return err
	}
	cp.Dispatch(cmd.X, cmd.Y, cmd.Z)
	return nil
}

func (is *issuer) DispatchIndirect(cmd *dawn.DispatchIndirectCmd) error {
	cp, err := is.beforeDispatch("dispatch indirect")
	if err != nil {
		return err
	}
	cp.DispatchIndirect(rawBuffer(cmd.IndirectBuffer.Get()), cmd.IndirectOffset)
	return nil
}

func (is *issuer) Draw(cmd *dawn.DrawCmd) error {
	rp, err := is.beforeDraw("draw")
	if err != nil {
		return err
	}
	rp.Draw(cmd.VertexCount, cmd.InstanceCount, cmd.FirstVertex, cmd.FirstInstance)
	return nil
}

func (is *issuer) DrawIndexed(cmd *dawn.DrawIndexedCmd) error {
	rp, err := is.beforeDraw("draw indexed")
	if err != nil {
		return err
	}
	rp.DrawIndexed(cmd.IndexCount, cmd.InstanceCount, cmd.FirstIndex, cmd.BaseVertex, cmd.FirstInstance)
	return nil
}

func (is *issuer) DrawIndirect(cmd *dawn.DrawIndirectCmd) error {
	rp, err := is.beforeDraw("draw indirect")
	if err != nil {
		return err
	}
	rp.DrawIndirect(rawBuffer(cmd.IndirectBuffer.Get()), cmd.IndirectOffset)
	return nil
}

func (is *issuer) DrawIndexedIndirect(cmd *dawn.DrawIndexedIndirectCmd) error {
	rp, err := is.beforeDraw("draw indexed indirect")
	if err != nil {
		return err
	}
	rp.DrawIndexedIndirect(rawBuffer(cmd.IndirectBuffer.Get()), cmd.IndirectOffset)
	return nil
}

func (is *issuer) SetComputePipeline(p *dawn.ComputePipeline) error {
	cp, err := is.computePass("set compute pipeline")
	if err != nil {
		return err
	}
	np := p.Native().(*computePipeline)
	cp.SetPipeline(np.raw)
	is.pushSlot = np.pushSlot
	is.pushDirty = true
	return nil
}

func (is *issuer) SetRenderPipeline(p *dawn.RenderPipeline) error {
	rp, err := is.renderPass("set render pipeline")
	if err != nil {
		return err
	}
	np := p.Native().(*renderPipeline)
	rp.SetPipeline(np.raw)
	is.pushSlot = np.pushSlot
	is.pushDirty = true
	return nil
}

func (is *issuer) SetPushConstants(_ dawn.ShaderStage, offset uint32, values []uint32) error {
	copy(is.pushValues[offset:], values)
	is.pushDirty = true
	return nil
}

func (is *issuer) SetStencilReference(reference uint32) error {
	rp, err := is.renderPass("set stencil reference")
	if err != nil {
		return err
	}
	rp.SetStencilReference(reference)
	return nil
}

func (is *issuer) SetScissorRect(cmd *dawn.SetScissorRectCmd) error {
	rp, err := is.renderPass("set scissor rect")
	if err != nil {
		return err
	}
	rp.SetScissorRect(cmd.X, cmd.Y, cmd.Width, cmd.Height)
	return nil
}

func (is *issuer) SetViewport(cmd *dawn.SetViewportCmd) error {
	rp, err := is.renderPass("set viewport")
	if err != nil {
		return err
	}
	rp.SetViewport(cmd.X, cmd.Y, cmd.Width, cmd.Height, cmd.MinDepth, cmd.MaxDepth)
	return nil
}

func (is *issuer) SetBlendColor(color gputypes.Color) error {
	rp, err := is.renderPass("set blend color")
	if err != nil {
		return err
	}
	rp.SetBlendConstant(&color)
	return nil
}

func (is *issuer) SetBindGroup(index uint32, group *dawn.BindGroup, dynamicOffsets []uint32) error {
	raw := group.Native().(*bindGroup).raw
	switch {
	case is.rp != nil:
		is.rp.SetBindGroup(index, raw, dynamicOffsets)
	case is.cp != nil:
		is.cp.SetBindGroup(index, raw, dynamicOffsets)
	default:
		return fmt.Errorf("set bind group: %w", errNoPass)
	}
	return nil
}

func (is *issuer) SetIndexBuffer(cmd *dawn.SetIndexBufferCmd) error {
	rp, err := is.renderPass("set index buffer")
	if err != nil {
		return err
	}
	rp.SetIndexBuffer(rawBuffer(cmd.Buffer.Get()), cmd.Format, cmd.Offset)
	return nil
}

func (is *issuer) SetVertexBuffers(startSlot uint32, buffers []dawn.Ref[*dawn.Buffer], offsets []uint64) error {
	rp, err := is.renderPass("set vertex buffers")
	if err != nil {
		return err
	}
	for i := range buffers {
		rp.SetVertexBuffer(startSlot+uint32(i), rawBuffer(buffers[i].Get()), offsets[i])
	}
	return nil
}

func (is *issuer) PushDebugGroup(label string) error {
	is.debugDepth++
	slogger().Debug("native: debug group", "label", label, "depth", is.debugDepth)
	return nil
}

func (is *issuer) PopDebugGroup() error {
	is.debugDepth--
	return nil
}

func (is *issuer) InsertDebugMarker(label string) error {
	slogger().Debug("native: debug marker", "label", label, "depth", is.debugDepth)
	return nil
}
