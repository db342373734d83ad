package dawn

import (
	"fmt"
	"reflect"
)

type iteratorState uint8

const (
	iteratorNotStarted iteratorState = iota
	iteratorIterating
	iteratorExhausted
)

var iteratorStateNames = [...]string{
	iteratorNotStarted: "NotStarted",
	iteratorIterating:  "Iterating",
	iteratorExhausted:  "Exhausted",
}

func (s iteratorState) String() string {
	if int(s) < len(iteratorStateNames) {
		return iteratorStateNames[s]
	}
	return "Unknown"
}

// CommandIterator replays a finished command stream. It owns the stream's
// storage: records still holding references when the iterator is released
// are swept, so a discarded stream never leaks.
//
// State machine:
//
//	NotStarted --Reset--> Iterating --NextCommandID returns false--> Exhausted
//
// Only Reset is valid outside Iterating. Misuse panics with a value
// wrapping ErrIteratorState or ErrCommandMismatch.
type CommandIterator struct {
	storage commandStorage
	state   iteratorState

	next    int
	cur     int
	pending bool
	span    uint32

	dataDestroyed bool
}

// Len returns the number of records in the stream.
func (it *CommandIterator) Len() int { return len(it.storage.slots) }

// IsEmpty reports whether the stream has no records.
func (it *CommandIterator) IsEmpty() bool { return len(it.storage.slots) == 0 }

// Reset rewinds to the first record.
func (it *CommandIterator) Reset() {
	it.state = iteratorIterating
	it.next = 0
	it.cur = 0
	it.pending = false
	it.span = 0
}

func (it *CommandIterator) mustIterate(op string) {
	if it.state != iteratorIterating {
		panic(fmt.Errorf("%w: %s in state %s", ErrIteratorState, op, it.state))
	}
}

// NextCommandID advances to the next record and returns its tag. It
// returns false exactly once, at the end of the stream, and moves the
// iterator to Exhausted. The record of the previous tag must have been
// read with NextCommand or passed over with SkipCommand.
func (it *CommandIterator) NextCommandID() (Command, bool) {
	it.mustIterate("NextCommandID")
	if it.pending {
		s := it.storage.slots[it.cur]
		panic(fmt.Errorf("%w: %s record was neither read nor skipped", ErrIteratorState, s.cmd))
	}
	if it.next >= len(it.storage.slots) {
		it.state = iteratorExhausted
		return 0, false
	}
	it.cur = it.next
	it.next++
	it.pending = true
	it.span = it.storage.slots[it.cur].firstSpan
	return it.storage.slots[it.cur].cmd, true
}

// NextCommand returns the record for the tag just read by NextCommandID.
// Reading a record as a type other than the one stored under its tag
// panics with ErrCommandMismatch.
func NextCommand[T any, PT recordPtr[T]](it *CommandIterator) PT {
	it.mustIterate("NextCommand")
	if !it.pending {
		panic(fmt.Errorf("%w: NextCommand without a pending tag", ErrIteratorState))
	}
	s := it.storage.slots[it.cur]
	pool, ok := it.storage.records[s.cmd].(*typedRecordPool[T, PT])
	if !ok {
		var zero T
		panic(fmt.Errorf("%w: %s record read as %T", ErrCommandMismatch, s.cmd, zero))
	}
	it.pending = false
	return PT(&pool.chunks[s.chunk][s.index])
}

// NextData returns the next trailing array of the current record. The
// element type and count must match what was allocated.
func NextData[T any](it *CommandIterator, count int) []T {
	it.mustIterate("NextData")
	if it.pending {
		panic(fmt.Errorf("%w: NextData before the record was read", ErrIteratorState))
	}
	s := it.storage.slots[it.cur]
	if it.span >= s.firstSpan+s.spanCount {
		panic(fmt.Errorf("%w: no trailing data left for %s", ErrIteratorState, s.cmd))
	}
	sp := it.storage.spans[it.span]
	if typ := reflect.TypeFor[T](); sp.typ != typ || sp.count != uint32(count) {
		panic(fmt.Errorf("%w: %s trailing data is %d x %v, read as %d x %v",
			ErrCommandMismatch, s.cmd, sp.count, sp.typ, count, typ))
	}
	it.span++
	if sp.count == 0 {
		return nil
	}
	return it.storage.data[sp.typ].(*typedDataPool[T]).span(sp)
}

// record returns the pending record without knowing its type.
func (it *CommandIterator) record() Record {
	it.mustIterate("record")
	if !it.pending {
		panic(fmt.Errorf("%w: no pending record", ErrIteratorState))
	}
	s := it.storage.slots[it.cur]
	it.pending = false
	return it.storage.records[s.cmd].record(s.chunk, s.index)
}

// releaseData releases handles held in the unread trailing arrays of the
// current record and moves past them.
func (it *CommandIterator) releaseData() {
	s := it.storage.slots[it.cur]
	end := s.firstSpan + s.spanCount
	for ; it.span < end; it.span++ {
		sp := it.storage.spans[it.span]
		if sp.count > 0 {
			it.storage.data[sp.typ].releaseSpan(sp)
		}
	}
}

// DataWasDestroyed records that a walk already released every handle in
// the stream, so Release skips the sweep.
func (it *CommandIterator) DataWasDestroyed() {
	it.dataDestroyed = true
}

// Consumed reports whether the stream's handles have been released.
func (it *CommandIterator) Consumed() bool {
	return it.dataDestroyed
}

// Release sweeps any handle the stream still holds and drops its storage.
// The iterator is left empty in the NotStarted state. Release is
// idempotent.
func (it *CommandIterator) Release() {
	n := len(it.storage.slots)
	if !it.dataDestroyed && n > 0 {
		it.storage.sweep()
		Logger().Debug("dawn: swept command stream", "records", n)
	}
	it.storage.clear()
	it.state = iteratorNotStarted
	it.next, it.cur, it.span = 0, 0, 0
	it.pending = false
	it.dataDestroyed = true
}
