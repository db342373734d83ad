package dawn

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// BufferBarrier moves a buffer between usages.
type BufferBarrier struct {
	Buffer   *Buffer
	From, To gputypes.BufferUsage
}

// TextureBarrier moves a texture between usages.
type TextureBarrier struct {
	Texture  *Texture
	From, To gputypes.TextureUsage
}

// CommandIssuer is what a backend implements to replay a stream through
// ExecuteCommands. Each method issues one record; records and slices are
// only valid for the duration of the call. A non-nil error aborts replay.
//
// Embed NopIssuer to accept every command and override only the ones the
// backend acts on.
type CommandIssuer interface {
	// Barriers issues one run of consecutive usage transitions.
	Barriers(buffers []BufferBarrier, textures []TextureBarrier) error

	BeginRenderPass(cmd *BeginRenderPassCmd) error
	EndRenderPass() error
	BeginComputePass() error
	EndComputePass() error

	CopyBufferToBuffer(cmd *CopyBufferToBufferCmd) error
	CopyBufferToTexture(cmd *CopyBufferToTextureCmd) error
	CopyTextureToBuffer(cmd *CopyTextureToBufferCmd) error
	CopyTextureToTexture(cmd *CopyTextureToTextureCmd) error

	Dispatch(cmd *DispatchCmd) error
	DispatchIndirect(cmd *DispatchIndirectCmd) error
	Draw(cmd *DrawCmd) error
	DrawIndexed(cmd *DrawIndexedCmd) error
	DrawIndirect(cmd *DrawIndirectCmd) error
	DrawIndexedIndirect(cmd *DrawIndexedIndirectCmd) error

	SetComputePipeline(p *ComputePipeline) error
	SetRenderPipeline(p *RenderPipeline) error
	SetPushConstants(stages ShaderStage, offset uint32, values []uint32) error
	SetStencilReference(reference uint32) error
	SetScissorRect(cmd *SetScissorRectCmd) error
	SetViewport(cmd *SetViewportCmd) error
	SetBlendColor(color gputypes.Color) error
	SetBindGroup(index uint32, group *BindGroup, dynamicOffsets []uint32) error
	SetIndexBuffer(cmd *SetIndexBufferCmd) error
	SetVertexBuffers(startSlot uint32, buffers []Ref[*Buffer], offsets []uint64) error

	PushDebugGroup(label string) error
	PopDebugGroup() error
	InsertDebugMarker(label string) error
}

// NopIssuer accepts every command and issues nothing.
type NopIssuer struct{}

var _ CommandIssuer = NopIssuer{}

func (NopIssuer) Barriers([]BufferBarrier, []TextureBarrier) error          { return nil }
func (NopIssuer) BeginRenderPass(*BeginRenderPassCmd) error                 { return nil }
func (NopIssuer) EndRenderPass() error                                      { return nil }
func (NopIssuer) BeginComputePass() error                                   { return nil }
func (NopIssuer) EndComputePass() error                                     { return nil }
func (NopIssuer) CopyBufferToBuffer(*CopyBufferToBufferCmd) error           { return nil }
func (NopIssuer) CopyBufferToTexture(*CopyBufferToTextureCmd) error         { return nil }
func (NopIssuer) CopyTextureToBuffer(*CopyTextureToBufferCmd) error         { return nil }
func (NopIssuer) CopyTextureToTexture(*CopyTextureToTextureCmd) error       { return nil }
func (NopIssuer) Dispatch(*DispatchCmd) error                               { return nil }
func (NopIssuer) DispatchIndirect(*DispatchIndirectCmd) error               { return nil }
func (NopIssuer) Draw(*DrawCmd) error                                       { return nil }
func (NopIssuer) DrawIndexed(*DrawIndexedCmd) error                         { return nil }
func (NopIssuer) DrawIndirect(*DrawIndirectCmd) error                       { return nil }
func (NopIssuer) DrawIndexedIndirect(*DrawIndexedIndirectCmd) error         { return nil }
func (NopIssuer) SetComputePipeline(*ComputePipeline) error                 { return nil }
func (NopIssuer) SetRenderPipeline(*RenderPipeline) error                   { return nil }
func (NopIssuer) SetPushConstants(ShaderStage, uint32, []uint32) error      { return nil }
func (NopIssuer) SetStencilReference(uint32) error                          { return nil }
func (NopIssuer) SetScissorRect(*SetScissorRectCmd) error                   { return nil }
func (NopIssuer) SetViewport(*SetViewportCmd) error                         { return nil }
func (NopIssuer) SetBlendColor(gputypes.Color) error                        { return nil }
func (NopIssuer) SetBindGroup(uint32, *BindGroup, []uint32) error           { return nil }
func (NopIssuer) SetIndexBuffer(*SetIndexBufferCmd) error                   { return nil }
func (NopIssuer) SetVertexBuffers(uint32, []Ref[*Buffer], []uint64) error   { return nil }
func (NopIssuer) PushDebugGroup(string) error                               { return nil }
func (NopIssuer) PopDebugGroup() error                                      { return nil }
func (NopIssuer) InsertDebugMarker(string) error                            { return nil }

// transitionBatch collects a run of consecutive transition records. The
// records keep their resources alive until the run is flushed.
type transitionBatch struct {
	buffers  []BufferBarrier
	textures []TextureBarrier
	records  []releaser
}

// addBuffer records c. The buffer's tracked usage changes only once the
// run's barriers are issued, so earlier barriers of the run are consulted
// for the current state.
func (b *transitionBatch) addBuffer(c *TransitionBufferUsageCmd) {
	buf := c.Buffer.Get()
	from := buf.Usage()
	for i := len(b.buffers) - 1; i >= 0; i-- {
		if b.buffers[i].Buffer == buf {
			from = b.buffers[i].To
			break
		}
	}
	if from != c.Usage {
		b.buffers = append(b.buffers, BufferBarrier{Buffer: buf, From: from, To: c.Usage})
	}
	b.records = append(b.records, c)
}

func (b *transitionBatch) addTexture(c *TransitionTextureUsageCmd) {
	tex := c.Texture.Get()
	from := tex.Usage()
	for i := len(b.textures) - 1; i >= 0; i-- {
		if b.textures[i].Texture == tex {
			from = b.textures[i].To
			break
		}
	}
	if from != c.Usage {
		b.textures = append(b.textures, TextureBarrier{Texture: tex, From: from, To: c.Usage})
	}
	b.records = append(b.records, c)
}

func (b *transitionBatch) flush(issuer CommandIssuer) error {
	if len(b.records) == 0 {
		return nil
	}
	if len(b.buffers) > 0 || len(b.textures) > 0 {
		if err := issuer.Barriers(b.buffers, b.textures); err != nil {
			return fmt.Errorf("transitions: %w", err)
		}
	}
	for _, bb := range b.buffers {
		bb.Buffer.UpdateUsageInternal(bb.To)
	}
	for _, tb := range b.textures {
		tb.Texture.UpdateUsageInternal(tb.To)
	}
	for _, r := range b.records {
		r.release()
	}
	clear(b.records)
	clear(b.buffers)
	clear(b.textures)
	b.buffers, b.textures, b.records = b.buffers[:0], b.textures[:0], b.records[:0]
	return nil
}

// ExecuteCommands replays the stream in it through issuer. Every record is
// released right after it is issued and every transition run is issued
// as one Barriers call. On error replay stops; handles of the records not
// yet issued are released when the iterator is released.
func ExecuteCommands(it *CommandIterator, issuer CommandIssuer) error {
	var batch transitionBatch
	it.Reset()
	for {
		cmd, ok := it.NextCommandID()
		if !ok {
			break
		}
		switch cmd {
		case CmdTransitionBufferUsage:
			batch.addBuffer(NextCommand[TransitionBufferUsageCmd](it))
			continue
		case CmdTransitionTextureUsage:
			batch.addTexture(NextCommand[TransitionTextureUsageCmd](it))
			continue
		}
		if err := batch.flush(issuer); err != nil {
			return err
		}
		if err := issueCommand(it, cmd, issuer); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	if err := batch.flush(issuer); err != nil {
		return err
	}
	it.DataWasDestroyed()
	return nil
}

// issue reads one record, hands it to fn and releases its handles.
func issue[T any, PT recordPtr[T]](it *CommandIterator, fn func(PT) error) error {
	c := NextCommand[T, PT](it)
	if err := fn(c); err != nil {
		return err
	}
	if r, ok := any(c).(releaser); ok {
		r.release()
	}
	return nil
}

func readLabel(it *CommandIterator, n uint32) string {
	return string(NextData[byte](it, int(n)))
}

func issueCommand(it *CommandIterator, cmd Command, is CommandIssuer) error {
	switch cmd {
	case CmdBeginRenderPass:
		return issue(it, is.BeginRenderPass)
	case CmdEndRenderPass:
		return issue(it, func(*EndRenderPassCmd) error { return is.EndRenderPass() })
	case CmdBeginComputePass:
		return issue(it, func(*BeginComputePassCmd) error { return is.BeginComputePass() })
	case CmdEndComputePass:
		return issue(it, func(*EndComputePassCmd) error { return is.EndComputePass() })
	case CmdCopyBufferToBuffer:
		return issue(it, is.CopyBufferToBuffer)
	case CmdCopyBufferToTexture:
		return issue(it, is.CopyBufferToTexture)
	case CmdCopyTextureToBuffer:
		return issue(it, is.CopyTextureToBuffer)
	case CmdCopyTextureToTexture:
		return issue(it, is.CopyTextureToTexture)
	case CmdDispatch:
		return issue(it, is.Dispatch)
	case CmdDispatchIndirect:
		return issue(it, is.DispatchIndirect)
	case CmdDraw:
		return issue(it, is.Draw)
	case CmdDrawIndexed:
		return issue(it, is.DrawIndexed)
	case CmdDrawIndirect:
		return issue(it, is.DrawIndirect)
	case CmdDrawIndexedIndirect:
		return issue(it, is.DrawIndexedIndirect)
	case CmdSetComputePipeline:
		return issue(it, func(c *SetComputePipelineCmd) error { return is.SetComputePipeline(c.Pipeline.Get()) })
	case CmdSetRenderPipeline:
		return issue(it, func(c *SetRenderPipelineCmd) error { return is.SetRenderPipeline(c.Pipeline.Get()) })
	case CmdSetPushConstants:
		return issue(it, func(c *SetPushConstantsCmd) error {
			return is.SetPushConstants(c.Stages, c.Offset, NextData[uint32](it, int(c.Count)))
		})
	case CmdSetStencilReference:
		return issue(it, func(c *SetStencilReferenceCmd) error { return is.SetStencilReference(c.Reference) })
	case CmdSetScissorRect:
		return issue(it, is.SetScissorRect)
	case CmdSetViewport:
		return issue(it, is.SetViewport)
	case CmdSetBlendColor:
		return issue(it, func(c *SetBlendColorCmd) error { return is.SetBlendColor(c.Color) })
	case CmdSetBindGroup:
		return issue(it, func(c *SetBindGroupCmd) error {
			return is.SetBindGroup(c.Index, c.Group.Get(), NextData[uint32](it, int(c.DynamicOffsetCount)))
		})
	case CmdSetIndexBuffer:
		return issue(it, is.SetIndexBuffer)
	case CmdSetVertexBuffers:
		return issue(it, func(c *SetVertexBuffersCmd) error {
			buffers := NextData[Ref[*Buffer]](it, int(c.Count))
			offsets := NextData[uint64](it, int(c.Count))
			if err := is.SetVertexBuffers(c.StartSlot, buffers, offsets); err != nil {
				return err
			}
			for i := range buffers {
				buffers[i].Release()
			}
			return nil
		})
	case CmdPushDebugGroup:
		return issue(it, func(c *PushDebugGroupCmd) error { return is.PushDebugGroup(readLabel(it, c.Length)) })
	case CmdPopDebugGroup:
		return issue(it, func(*PopDebugGroupCmd) error { return is.PopDebugGroup() })
	case CmdInsertDebugMarker:
		return issue(it, func(c *InsertDebugMarkerCmd) error { return is.InsertDebugMarker(readLabel(it, c.Length)) })
	}
	panic(fmt.Errorf("%w: no issuer for %s", ErrCommandMismatch, cmd))
}
