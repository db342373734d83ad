package dawn

// Command is the tag that identifies which record follows in a command
// stream. The set is closed: every tag has exactly one record type.
type Command uint8

const (
	// Pass boundaries
	CmdBeginRenderPass  Command = iota // Begin a render pass
	CmdEndRenderPass                   // End the current render pass
	CmdBeginComputePass                // Begin a compute pass
	CmdEndComputePass                  // End the current compute pass

	// Copies (outside passes)
	CmdCopyBufferToBuffer
	CmdCopyBufferToTexture
	CmdCopyTextureToBuffer
	CmdCopyTextureToTexture

	// Work
	CmdDispatch
	CmdDispatchIndirect
	CmdDraw
	CmdDrawIndexed
	CmdDrawIndirect
	CmdDrawIndexedIndirect

	// State
	CmdSetComputePipeline
	CmdSetRenderPipeline
	CmdSetPushConstants // trailing: Count uint32 values
	CmdSetStencilReference
	CmdSetScissorRect
	CmdSetViewport
	CmdSetBlendColor
	CmdSetBindGroup // trailing: DynamicOffsetCount uint32 offsets
	CmdSetIndexBuffer
	CmdSetVertexBuffers // trailing: Count Ref[*Buffer], then Count uint64 offsets

	// Debug
	CmdPushDebugGroup // trailing: Length label bytes
	CmdPopDebugGroup
	CmdInsertDebugMarker // trailing: Length label bytes

	// Resource usage (outside passes)
	CmdTransitionBufferUsage
	CmdTransitionTextureUsage

	commandCount
)

var commandNames = [...]string{
	CmdBeginRenderPass:        "BeginRenderPass",
	CmdEndRenderPass:          "EndRenderPass",
	CmdBeginComputePass:       "BeginComputePass",
	CmdEndComputePass:         "EndComputePass",
	CmdCopyBufferToBuffer:     "CopyBufferToBuffer",
	CmdCopyBufferToTexture:    "CopyBufferToTexture",
	CmdCopyTextureToBuffer:    "CopyTextureToBuffer",
	CmdCopyTextureToTexture:   "CopyTextureToTexture",
	CmdDispatch:               "Dispatch",
	CmdDispatchIndirect:       "DispatchIndirect",
	CmdDraw:                   "Draw",
	CmdDrawIndexed:            "DrawIndexed",
	CmdDrawIndirect:           "DrawIndirect",
	CmdDrawIndexedIndirect:    "DrawIndexedIndirect",
	CmdSetComputePipeline:     "SetComputePipeline",
	CmdSetRenderPipeline:      "SetRenderPipeline",
	CmdSetPushConstants:       "SetPushConstants",
	CmdSetStencilReference:    "SetStencilReference",
	CmdSetScissorRect:         "SetScissorRect",
	CmdSetViewport:            "SetViewport",
	CmdSetBlendColor:          "SetBlendColor",
	CmdSetBindGroup:           "SetBindGroup",
	CmdSetIndexBuffer:         "SetIndexBuffer",
	CmdSetVertexBuffers:       "SetVertexBuffers",
	CmdPushDebugGroup:         "PushDebugGroup",
	CmdPopDebugGroup:          "PopDebugGroup",
	CmdInsertDebugMarker:      "InsertDebugMarker",
	CmdTransitionBufferUsage:  "TransitionBufferUsage",
	CmdTransitionTextureUsage: "TransitionTextureUsage",
}

// String returns the tag name.
func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "Unknown"
}

// IsTransition reports whether c is one of the resource usage transitions.
func (c Command) IsTransition() bool {
	return c == CmdTransitionBufferUsage || c == CmdTransitionTextureUsage
}

// Record is implemented by every fixed-size command record.
// Command returns the tag the record is stored under.
type Record interface {
	Command() Command
}

// releaser is implemented by records that own Ref handles.
// release must be safe to call more than once.
type releaser interface {
	release()
}
