package dawn

import "fmt"

// FreeCommands walks the whole stream and releases every handle held by
// its records and trailing arrays, without issuing anything. It is the
// cleanup path for a stream that is discarded unexecuted. A stream whose
// handles were already released is rejected with ErrCommandsConsumed.
func FreeCommands(it *CommandIterator) error {
	if it.dataDestroyed {
		return ErrCommandsConsumed
	}
	it.Reset()
	for {
		if _, ok := it.NextCommandID(); !ok {
			break
		}
		if r, ok := it.record().(releaser); ok {
			r.release()
		}
		it.releaseData()
	}
	it.DataWasDestroyed()
	return nil
}

// SkipCommand moves past the record for cmd and its trailing data without
// releasing anything. cmd must be the tag just returned by NextCommandID.
// Handles in skipped records are released when the iterator is released.
func SkipCommand(it *CommandIterator, cmd Command) {
	it.mustIterate("SkipCommand")
	if !it.pending {
		panic(fmt.Errorf("%w: SkipCommand without a pending tag", ErrIteratorState))
	}
	s := it.storage.slots[it.cur]
	if s.cmd != cmd {
		panic(fmt.Errorf("%w: skipping %s record as %s", ErrCommandMismatch, s.cmd, cmd))
	}
	it.pending = false
	it.span = s.firstSpan + s.spanCount
}
