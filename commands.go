package dawn

import "github.com/gogpu/gputypes"

// Limits enforced by the encoder.
const (
	// MaxBindGroups is the number of bind group slots in a pipeline.
	MaxBindGroups = 4

	// MaxPushConstants is the number of uint32 push constant slots.
	MaxPushConstants = 32

	// MaxColorAttachments is the number of color targets in a render pass.
	MaxColorAttachments = 4

	// MaxVertexBuffers is the number of vertex buffer slots.
	MaxVertexBuffers = 16

	// RowPitchAlignment is the required alignment of buffer row pitch in
	// buffer/texture copies.
	RowPitchAlignment = 256

	// DynamicOffsetAlignment is the required alignment of dynamic offsets.
	DynamicOffsetAlignment = 256
)

// ColorAttachmentInfo describes one color target of a render pass.
type ColorAttachmentInfo struct {
	View          Ref[*Texture]
	ResolveTarget Ref[*Texture]
	MipLevel      uint32
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearColor    gputypes.Color
}

// DepthStencilAttachmentInfo describes the depth/stencil target of a render pass.
type DepthStencilAttachmentInfo struct {
	View              Ref[*Texture]
	DepthLoadOp       gputypes.LoadOp
	DepthStoreOp      gputypes.StoreOp
	DepthClearValue   float32
	StencilLoadOp     gputypes.LoadOp
	StencilStoreOp    gputypes.StoreOp
	StencilClearValue uint32
}

// BeginRenderPassCmd opens a render pass.
type BeginRenderPassCmd struct {
	ColorAttachments     [MaxColorAttachments]ColorAttachmentInfo
	ColorAttachmentCount uint32
	DepthStencil         DepthStencilAttachmentInfo
	Width, Height        uint32
}

func (BeginRenderPassCmd) Command() Command { return CmdBeginRenderPass }

func (c *BeginRenderPassCmd) release() {
	for i := range c.ColorAttachments {
		c.ColorAttachments[i].View.Release()
		c.ColorAttachments[i].ResolveTarget.Release()
	}
	c.DepthStencil.View.Release()
}

// EndRenderPassCmd closes the current render pass.
type EndRenderPassCmd struct{}

func (EndRenderPassCmd) Command() Command { return CmdEndRenderPass }

// BeginComputePassCmd opens a compute pass.
type BeginComputePassCmd struct{}

func (BeginComputePassCmd) Command() Command { return CmdBeginComputePass }

// EndComputePassCmd closes the current compute pass.
type EndComputePassCmd struct{}

func (EndComputePassCmd) Command() Command { return CmdEndComputePass }

// BufferCopy is the buffer side of a copy.
// RowPitch and ImageHeight are only used by buffer/texture copies.
type BufferCopy struct {
	Buffer      Ref[*Buffer]
	Offset      uint64
	RowPitch    uint32
	ImageHeight uint32
}

// TextureCopy is the texture side of a copy.
type TextureCopy struct {
	Texture  Ref[*Texture]
	MipLevel uint32
	Origin   gputypes.Origin3D
}

// CopyBufferToBufferCmd copies Size bytes between buffers.
type CopyBufferToBufferCmd struct {
	Source      BufferCopy
	Destination BufferCopy
	Size        uint64
}

func (CopyBufferToBufferCmd) Command() Command { return CmdCopyBufferToBuffer }

func (c *CopyBufferToBufferCmd) release() {
	c.Source.Buffer.Release()
	c.Destination.Buffer.Release()
}

// CopyBufferToTextureCmd uploads buffer rows into a texture region.
type CopyBufferToTextureCmd struct {
	Source      BufferCopy
	Destination TextureCopy
	CopySize    gputypes.Extent3D
}

func (CopyBufferToTextureCmd) Command() Command { return CmdCopyBufferToTexture }

func (c *CopyBufferToTextureCmd) release() {
	c.Source.Buffer.Release()
	c.Destination.Texture.Release()
}

// CopyTextureToBufferCmd reads a texture region back into buffer rows.
type CopyTextureToBufferCmd struct {
	Source      TextureCopy
	Destination BufferCopy
	CopySize    gputypes.Extent3D
}

func (CopyTextureToBufferCmd) Command() Command { return CmdCopyTextureToBuffer }

func (c *CopyTextureToBufferCmd) release() {
	c.Source.Texture.Release()
	c.Destination.Buffer.Release()
}

// CopyTextureToTextureCmd copies a region between textures.
type CopyTextureToTextureCmd struct {
	Source      TextureCopy
	Destination TextureCopy
	CopySize    gputypes.Extent3D
}

func (CopyTextureToTextureCmd) Command() Command { return CmdCopyTextureToTexture }

func (c *CopyTextureToTextureCmd) release() {
	c.Source.Texture.Release()
	c.Destination.Texture.Release()
}

// DispatchCmd runs X*Y*Z workgroups.
type DispatchCmd struct {
	X, Y, Z uint32
}

func (DispatchCmd) Command() Command { return CmdDispatch }

// DispatchIndirectCmd reads workgroup counts from a buffer.
type DispatchIndirectCmd struct {
	IndirectBuffer Ref[*Buffer]
	IndirectOffset uint64
}

func (DispatchIndirectCmd) Command() Command { return CmdDispatchIndirect }

func (c *DispatchIndirectCmd) release() { c.IndirectBuffer.Release() }

// DrawCmd draws non-indexed primitives.
type DrawCmd struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (DrawCmd) Command() Command { return CmdDraw }

// DrawIndexedCmd draws indexed primitives.
type DrawIndexedCmd struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

func (DrawIndexedCmd) Command() Command { return CmdDrawIndexed }

// DrawIndirectCmd reads draw arguments from a buffer.
type DrawIndirectCmd struct {
	IndirectBuffer Ref[*Buffer]
	IndirectOffset uint64
}

func (DrawIndirectCmd) Command() Command { return CmdDrawIndirect }

func (c *DrawIndirectCmd) release() { c.IndirectBuffer.Release() }

// DrawIndexedIndirectCmd reads indexed draw arguments from a buffer.
type DrawIndexedIndirectCmd struct {
	IndirectBuffer Ref[*Buffer]
	IndirectOffset uint64
}

func (DrawIndexedIndirectCmd) Command() Command { return CmdDrawIndexedIndirect }

func (c *DrawIndexedIndirectCmd) release() { c.IndirectBuffer.Release() }

// SetComputePipelineCmd binds a compute pipeline.
type SetComputePipelineCmd struct {
	Pipeline Ref[*ComputePipeline]
}

func (SetComputePipelineCmd) Command() Command { return CmdSetComputePipeline }

func (c *SetComputePipelineCmd) release() { c.Pipeline.Release() }

// SetRenderPipelineCmd binds a render pipeline.
type SetRenderPipelineCmd struct {
	Pipeline Ref[*RenderPipeline]
}

func (SetRenderPipelineCmd) Command() Command { return CmdSetRenderPipeline }

func (c *SetRenderPipelineCmd) release() { c.Pipeline.Release() }

// SetPushConstantsCmd writes Count uint32 values starting at slot Offset
// for the given stages. The values follow as trailing data.
type SetPushConstantsCmd struct {
	Stages ShaderStage
	Offset uint32
	Count  uint32
}

func (SetPushConstantsCmd) Command() Command { return CmdSetPushConstants }

// SetStencilReferenceCmd sets the stencil reference value.
type SetStencilReferenceCmd struct {
	Reference uint32
}

func (SetStencilReferenceCmd) Command() Command { return CmdSetStencilReference }

// SetScissorRectCmd sets the scissor rectangle.
type SetScissorRectCmd struct {
	X, Y, Width, Height uint32
}

func (SetScissorRectCmd) Command() Command { return CmdSetScissorRect }

// SetViewportCmd sets the viewport transform.
type SetViewportCmd struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

func (SetViewportCmd) Command() Command { return CmdSetViewport }

// SetBlendColorCmd sets the constant blend color.
type SetBlendColorCmd struct {
	Color gputypes.Color
}

func (SetBlendColorCmd) Command() Command { return CmdSetBlendColor }

// SetBindGroupCmd binds Group at Index. DynamicOffsetCount uint32 offsets
// follow as trailing data.
type SetBindGroupCmd struct {
	Index              uint32
	Group              Ref[*BindGroup]
	DynamicOffsetCount uint32
}

func (SetBindGroupCmd) Command() Command { return CmdSetBindGroup }

func (c *SetBindGroupCmd) release() { c.Group.Release() }

// SetIndexBufferCmd binds the index buffer.
type SetIndexBufferCmd struct {
	Buffer Ref[*Buffer]
	Format gputypes.IndexFormat
	Offset uint64
}

func (SetIndexBufferCmd) Command() Command { return CmdSetIndexBuffer }

func (c *SetIndexBufferCmd) release() { c.Buffer.Release() }

// SetVertexBuffersCmd binds Count vertex buffers starting at StartSlot.
// Count Ref[*Buffer] handles follow as trailing data, then Count uint64
// offsets.
type SetVertexBuffersCmd struct {
	StartSlot uint32
	Count     uint32
}

func (SetVertexBuffersCmd) Command() Command { return CmdSetVertexBuffers }

// PushDebugGroupCmd opens a debug group. Length label bytes follow.
type PushDebugGroupCmd struct {
	Length uint32
}

func (PushDebugGroupCmd) Command() Command { return CmdPushDebugGroup }

// PopDebugGroupCmd closes the innermost debug group.
type PopDebugGroupCmd struct{}

func (PopDebugGroupCmd) Command() Command { return CmdPopDebugGroup }

// InsertDebugMarkerCmd inserts a single debug label. Length label bytes follow.
type InsertDebugMarkerCmd struct {
	Length uint32
}

func (InsertDebugMarkerCmd) Command() Command { return CmdInsertDebugMarker }

// TransitionBufferUsageCmd moves Buffer to Usage before later commands use it.
type TransitionBufferUsageCmd struct {
	Buffer Ref[*Buffer]
	Usage  gputypes.BufferUsage
}

func (TransitionBufferUsageCmd) Command() Command { return CmdTransitionBufferUsage }

func (c *TransitionBufferUsageCmd) release() { c.Buffer.Release() }

// TransitionTextureUsageCmd moves Texture to Usage before later commands use it.
type TransitionTextureUsageCmd struct {
	Texture Ref[*Texture]
	Usage   gputypes.TextureUsage
}

func (TransitionTextureUsageCmd) Command() Command { return CmdTransitionTextureUsage }

func (c *TransitionTextureUsageCmd) release() { c.Texture.Release() }
