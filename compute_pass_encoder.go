package dawn

// ComputePassEncoder records dispatch commands. It is returned even when
// BeginComputePass fails so calls can keep chaining; they are ignored.
type ComputePassEncoder struct {
	passEncoder
	pipeline *ComputePipeline
}

// BeginComputePass opens a compute pass.
func (e *CommandEncoder) BeginComputePass() *ComputePassEncoder {
	p := &ComputePassEncoder{}
	if !e.ready("BeginComputePass") {
		p.parent, p.name, p.ended = e, "ComputePass", true
		return p
	}
	p.start(e, "ComputePass")
	if allocRecord[BeginComputePassCmd](e, p.alloc) == nil {
		p.abandon()
	}
	return p
}

// SetPipeline binds a compute pipeline for later dispatches.
func (p *ComputePassEncoder) SetPipeline(pipeline *ComputePipeline) {
	if !p.ready("SetPipeline") || !p.owned("SetPipeline", pipeline) {
		return
	}
	cmd := allocRecord[SetComputePipelineCmd](p.parent, p.alloc)
	if cmd == nil {
		return
	}
	cmd.Pipeline = NewRef(pipeline)
	p.pipeline = pipeline
}

func (p *ComputePassEncoder) readyToDispatch(op string) bool {
	if !p.ready(op) {
		return false
	}
	if p.pipeline == nil {
		p.setError(validationErrorf("ComputePass.%s: no pipeline set", op))
		return false
	}
	return true
}

// Dispatch runs x*y*z workgroups.
func (p *ComputePassEncoder) Dispatch(x, y, z uint32) {
	if !p.readyToDispatch("Dispatch") {
		return
	}
	if cmd := allocRecord[DispatchCmd](p.parent, p.alloc); cmd != nil {
		cmd.X, cmd.Y, cmd.Z = x, y, z
	}
}

// DispatchIndirect runs workgroup counts read from buffer at offset.
func (p *ComputePassEncoder) DispatchIndirect(buffer *Buffer, offset uint64) {
	if !p.readyToDispatch("DispatchIndirect") ||
		!p.checkIndirect("DispatchIndirect", buffer, offset, dispatchIndirectSize) {
		return
	}
	if cmd := allocRecord[DispatchIndirectCmd](p.parent, p.alloc); cmd != nil {
		cmd.IndirectBuffer = NewRef(buffer)
		cmd.IndirectOffset = offset
	}
}

// End closes the compute pass.
func (p *ComputePassEncoder) End() {
	p.end(func() bool {
		return allocRecord[EndComputePassCmd](p.parent, p.alloc) != nil
	})
}
