package dawn

import (
	"errors"
	"testing"
)

// expectPanic runs fn and checks that it panics with an error wrapping target.
func expectPanic(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, target) {
			t.Errorf("recovered %v, want a panic wrapping %v", r, target)
		}
	}()
	fn()
}

func finishedStream(build func(a *CommandAllocator)) *CommandIterator {
	a := NewCommandAllocator(0)
	build(a)
	return a.Finish()
}

func TestIteratorRequiresReset(t *testing.T) {
	it := finishedStream(func(a *CommandAllocator) { Allocate[DrawCmd](a) })
	defer it.Release()
	expectPanic(t, ErrIteratorState, func() { it.NextCommandID() })
}

func TestIteratorEndOfStreamOnce(t *testing.T) {
	it := finishedStream(func(a *CommandAllocator) { Allocate[PopDebugGroupCmd](a) })
	defer it.Release()
	it.Reset()
	it.NextCommandID()
	NextCommand[PopDebugGroupCmd](it)
	if _, ok := it.NextCommandID(); ok {
		t.Fatal("NextCommandID() = true at the end of the stream")
	}
	expectPanic(t, ErrIteratorState, func() { it.NextCommandID() })

	it.Reset()
	if cmd, ok := it.NextCommandID(); !ok || cmd != CmdPopDebugGroup {
		t.Errorf("after Reset NextCommandID() = %s, %v", cmd, ok)
	}
	SkipCommand(it, CmdPopDebugGroup)
}

func TestIteratorEmptyStream(t *testing.T) {
	it := finishedStream(func(*CommandAllocator) {})
	defer it.Release()
	if !it.IsEmpty() || it.Len() != 0 {
		t.Fatalf("IsEmpty() = %v, Len() = %d", it.IsEmpty(), it.Len())
	}
	it.Reset()
	if _, ok := it.NextCommandID(); ok {
		t.Error("NextCommandID() = true on an empty stream")
	}
}

func TestIteratorTypeMismatch(t *testing.T) {
	it := finishedStream(func(a *CommandAllocator) { Allocate[DrawCmd](a) })
	defer it.Release()
	it.Reset()
	it.NextCommandID()
	expectPanic(t, ErrCommandMismatch, func() { NextCommand[DispatchCmd](it) })
	expectPanic(t, ErrCommandMismatch, func() { SkipCommand(it, CmdDispatch) })
	SkipCommand(it, CmdDraw)
}

func TestIteratorUnreadRecordPanics(t *testing.T) {
	it := finishedStream(func(a *CommandAllocator) {
		Allocate[DrawCmd](a)
		Allocate[DrawCmd](a)
	})
	defer it.Release()
	it.Reset()
	it.NextCommandID()
	expectPanic(t, ErrIteratorState, func() { it.NextCommandID() })
}

func TestIteratorTrailingDataChecks(t *testing.T) {
	it := finishedStream(func(a *CommandAllocator) {
		Allocate[SetPushConstantsCmd](a).Count = 2
		AllocateData[uint32](a, 2)
	})
	defer it.Release()
	it.Reset()
	it.NextCommandID()
	expectPanic(t, ErrIteratorState, func() { NextData[uint32](it, 2) })

	NextCommand[SetPushConstantsCmd](it)
	expectPanic(t, ErrCommandMismatch, func() { NextData[uint64](it, 2) })
	expectPanic(t, ErrCommandMismatch, func() { NextData[uint32](it, 3) })
	if got := NextData[uint32](it, 2); len(got) != 2 {
		t.Errorf("NextData() returned %d values", len(got))
	}
	expectPanic(t, ErrIteratorState, func() { NextData[uint32](it, 2) })
}

func TestIteratorVertexBufferTrailingOrder(t *testing.T) {
	d, _ := newTestDevice(t)
	b0 := mustBuffer(t, d, "b0", 64, bufferUsageAll)
	b1 := mustBuffer(t, d, "b1", 64, bufferUsageAll)
	defer b0.Release()
	defer b1.Release()

	it := finishedStream(func(a *CommandAllocator) {
		c := Allocate[SetVertexBuffersCmd](a)
		c.StartSlot, c.Count = 2, 2
		refs := AllocateData[Ref[*Buffer]](a, 2)
		refs[0], refs[1] = NewRef(b0), NewRef(b1)
		offs := AllocateData[uint64](a, 2)
		offs[0], offs[1] = 8, 16
	})
	defer it.Release()
	it.Reset()
	it.NextCommandID()
	c := NextCommand[SetVertexBuffersCmd](it)
	refs := NextData[Ref[*Buffer]](it, int(c.Count))
	offs := NextData[uint64](it, int(c.Count))
	if refs[0].Get() != b0 || refs[1].Get() != b1 || offs[0] != 8 || offs[1] != 16 {
		t.Errorf("slot %d: buffers %v %v offsets %v", c.StartSlot, refs[0].Get(), refs[1].Get(), offs)
	}
}

func TestIteratorReleaseSweepsUnread(t *testing.T) {
	d, _ := newTestDevice(t)
	buf := mustBuffer(t, d, "b", 64, bufferUsageAll)
	defer buf.Release()

	it := finishedStream(func(a *CommandAllocator) {
		Allocate[DrawIndirectCmd](a).IndirectBuffer = NewRef(buf)
		Allocate[DispatchIndirectCmd](a).IndirectBuffer = NewRef(buf)
	})
	if got := buf.RefCount(); got != 3 {
		t.Fatalf("RefCount() = %d, want 3", got)
	}
	it.Release()
	it.Release()
	if got := buf.RefCount(); got != 1 {
		t.Errorf("RefCount() after Release = %d, want 1", got)
	}
	if !it.IsEmpty() {
		t.Error("released iterator still holds records")
	}
}
