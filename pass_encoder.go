package dawn

// passEncoder is the part shared by render and compute pass encoders.
// Pass commands go to a pass-local allocator; End computes the pass
// resource usage, records the transitions it needs into the parent stream
// and splices the pass after them.
type passEncoder struct {
	parent *CommandEncoder
	alloc  *CommandAllocator
	usage  passUsage
	ended  bool
	name   string

	debugDepth int
}

func (p *passEncoder) start(parent *CommandEncoder, name string) {
	p.parent = parent
	p.name = name
	p.alloc = NewCommandAllocator(parent.device.opts.commandLimit)
	parent.state = encoderInPass
}

func (p *passEncoder) setError(err error) { p.parent.setError(err) }

func (p *passEncoder) ready(op string) bool {
	if p.parent.err != nil {
		return false
	}
	if p.ended {
		p.setError(validationErrorf("%s.%s: pass already ended", p.name, op))
		return false
	}
	return true
}

func (p *passEncoder) owned(op string, objs ...deviceChild) bool {
	return p.parent.checkOwned(p.name+"."+op, objs...)
}

// SetBindGroup binds group at index. dynamicOffsets must match the
// layout's dynamic bindings and be multiples of DynamicOffsetAlignment.
func (p *passEncoder) SetBindGroup(index uint32, group *BindGroup, dynamicOffsets ...uint32) {
	const op = "SetBindGroup"
	if !p.ready(op) || !p.owned(op, group) {
		return
	}
	if index >= MaxBindGroups {
		p.setError(validationErrorf("%s.%s: index %d, at most %d bind groups", p.name, op, index, MaxBindGroups))
		return
	}
	if want := group.Layout().DynamicOffsetCount(); uint32(len(dynamicOffsets)) != want {
		p.setError(validationErrorf("%s.%s: %d dynamic offsets for a layout with %d", p.name, op, len(dynamicOffsets), want))
		return
	}
	for _, off := range dynamicOffsets {
		if off%DynamicOffsetAlignment != 0 {
			p.setError(validationErrorf("%s.%s: dynamic offset %d is not a multiple of %d", p.name, op, off, DynamicOffsetAlignment))
			return
		}
	}
	cmd := allocRecord[SetBindGroupCmd](p.parent, p.alloc)
	if cmd == nil {
		return
	}
	cmd.Index = index
	cmd.Group = NewRef(group)
	cmd.DynamicOffsetCount = uint32(len(dynamicOffsets))
	copy(allocData[uint32](p.parent, p.alloc, len(dynamicOffsets)), dynamicOffsets)
	p.usage.addBindGroup(group)
}

// SetPushConstants writes values into push constant slots starting at
// offset for the given stages.
func (p *passEncoder) SetPushConstants(stages ShaderStage, offset uint32, values []uint32) {
	const op = "SetPushConstants"
	if !p.ready(op) {
		return
	}
	if stages == ShaderStageNone {
		p.setError(validationErrorf("%s.%s: no stages", p.name, op))
		return
	}
	if uint64(offset)+uint64(len(values)) > MaxPushConstants {
		p.setError(validationErrorf("%s.%s: slots [%d, +%d) exceed %d push constants", p.name, op, offset, len(values), MaxPushConstants))
		return
	}
	cmd := allocRecord[SetPushConstantsCmd](p.parent, p.alloc)
	if cmd == nil {
		return
	}
	cmd.Stages = stages
	cmd.Offset = offset
	cmd.Count = uint32(len(values))
	copy(allocData[uint32](p.parent, p.alloc, len(values)), values)
}

// PushDebugGroup opens a debug group inside the pass.
func (p *passEncoder) PushDebugGroup(label string) {
	if !p.ready("PushDebugGroup") {
		return
	}
	if recordLabel[PushDebugGroupCmd](p.parent, p.alloc, label) {
		p.debugDepth++
	}
}

// PopDebugGroup closes the innermost debug group opened in the pass.
func (p *passEncoder) PopDebugGroup() {
	if !p.ready("PopDebugGroup") {
		return
	}
	if p.debugDepth == 0 {
		p.setError(validationErrorf("%s.PopDebugGroup: no open debug group", p.name))
		return
	}
	if allocRecord[PopDebugGroupCmd](p.parent, p.alloc) != nil {
		p.debugDepth--
	}
}

// InsertDebugMarker records a single debug label inside the pass.
func (p *passEncoder) InsertDebugMarker(label string) {
	if !p.ready("InsertDebugMarker") {
		return
	}
	recordLabel[InsertDebugMarkerCmd](p.parent, p.alloc, label)
}

// end closes the pass. record appends the pass's End record.
func (p *passEncoder) end(record func() bool) {
	if !p.ready("End") {
		p.abandon()
		return
	}
	switch {
	case p.debugDepth != 0:
		p.setError(validationErrorf("%s.End: %d debug groups still open", p.name, p.debugDepth))
	default:
		if err := p.usage.validate(); err != nil {
			p.setError(err)
		}
	}
	if p.parent.err != nil || !record() {
		p.abandon()
		return
	}

	parent := p.parent
	parent.state = encoderRecording
	for _, b := range p.usage.bufOrder {
		if !parent.useBuffer(b, p.usage.buffers[b]) {
			p.abandon()
			return
		}
	}
	for _, t := range p.usage.texOrder {
		if !parent.useTexture(t, p.usage.textures[t]) {
			p.abandon()
			return
		}
	}
	parent.alloc.Append(p.alloc)
	if err := parent.alloc.Err(); err != nil {
		parent.setError(err)
	}
	p.ended = true
}

// abandon drops the pass stream and returns the parent to recording.
func (p *passEncoder) abandon() {
	if p.alloc != nil {
		p.alloc.Reset()
	}
	if !p.ended && p.parent.state == encoderInPass {
		p.parent.state = encoderRecording
	}
	p.ended = true
}
