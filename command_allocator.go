package dawn

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

const (
	recordsPerChunk = 64
	minDataChunk    = 256
)

// slot is one entry of the tag stream. The record lives in the typed pool
// of its tag; its trailing arrays are the spans [firstSpan, firstSpan+spanCount).
type slot struct {
	cmd       Command
	chunk     uint32
	index     uint32
	firstSpan uint32
	spanCount uint32
}

// dataSpan locates one trailing array in the typed data pool for typ.
type dataSpan struct {
	typ   reflect.Type
	chunk uint32
	off   uint32
	count uint32
}

type recordPtr[T any] interface {
	*T
	Record
}

type recordPool interface {
	record(chunk, index uint32) Record
	sweep()
	adopt(other recordPool) uint32
}

// typedRecordPool stores records of one type in fixed-capacity chunks.
// Chunks are never grown in place, so record pointers stay valid until
// the storage is cleared.
type typedRecordPool[T any, PT recordPtr[T]] struct {
	chunks [][]T
}

func (p *typedRecordPool[T, PT]) alloc(a *CommandAllocator) (PT, uint32, uint32, bool) {
	n := len(p.chunks)
	if n == 0 || len(p.chunks[n-1]) == cap(p.chunks[n-1]) {
		var zero T
		if !a.reserve(int(unsafe.Sizeof(zero)) * recordsPerChunk) {
			return nil, 0, 0, false
		}
		p.chunks = append(p.chunks, make([]T, 0, recordsPerChunk))
		n++
	}
	c := p.chunks[n-1]
	i := len(c)
	p.chunks[n-1] = c[:i+1]
	return PT(&p.chunks[n-1][i]), uint32(n - 1), uint32(i), true
}

func (p *typedRecordPool[T, PT]) record(chunk, index uint32) Record {
	return PT(&p.chunks[chunk][index])
}

func (p *typedRecordPool[T, PT]) sweep() {
	if _, ok := any(PT(new(T))).(releaser); !ok {
		return
	}
	for _, c := range p.chunks {
		for i := range c {
			any(PT(&c[i])).(releaser).release()
		}
	}
}

func (p *typedRecordPool[T, PT]) adopt(other recordPool) uint32 {
	o := other.(*typedRecordPool[T, PT])
	base := uint32(len(p.chunks))
	p.chunks = append(p.chunks, o.chunks...)
	o.chunks = nil
	return base
}

// refReleaser is implemented by *Ref[T] elements of trailing arrays.
type refReleaser interface {
	Release()
}

type dataPool interface {
	releaseSpan(sp dataSpan)
	sweep()
	adopt(other dataPool) uint32
}

// typedDataPool stores trailing arrays of one element type.
type typedDataPool[T any] struct {
	chunks     [][]T
	releasable bool
}

func newTypedDataPool[T any]() *typedDataPool[T] {
	_, ok := any(new(T)).(refReleaser)
	return &typedDataPool[T]{releasable: ok}
}

func (p *typedDataPool[T]) alloc(a *CommandAllocator, count int) ([]T, uint32, uint32, bool) {
	last := len(p.chunks) - 1
	if last < 0 || cap(p.chunks[last])-len(p.chunks[last]) < count {
		size := max(minDataChunk, count)
		var zero T
		if !a.reserve(int(unsafe.Sizeof(zero)) * size) {
			return nil, 0, 0, false
		}
		p.chunks = append(p.chunks, make([]T, 0, size))
		last++
	}
	c := p.chunks[last]
	off := len(c)
	p.chunks[last] = c[:off+count]
	return p.chunks[last][off : off+count : off+count], uint32(last), uint32(off), true
}

func (p *typedDataPool[T]) span(sp dataSpan) []T {
	end := sp.off + sp.count
	return p.chunks[sp.chunk][sp.off:end:end]
}

func (p *typedDataPool[T]) releaseSpan(sp dataSpan) {
	if !p.releasable || sp.count == 0 {
		return
	}
	s := p.span(sp)
	for i := range s {
		any(&s[i]).(refReleaser).Release()
	}
}

func (p *typedDataPool[T]) sweep() {
	if !p.releasable {
		return
	}
	for _, c := range p.chunks {
		for i := range c {
			any(&c[i]).(refReleaser).Release()
		}
	}
}

func (p *typedDataPool[T]) adopt(other dataPool) uint32 {
	o := other.(*typedDataPool[T])
	base := uint32(len(p.chunks))
	p.chunks = append(p.chunks, o.chunks...)
	o.chunks = nil
	return base
}

var slotPool = sync.Pool{
	New: func() any {
		s := make([]slot, 0, 256)
		return &s
	},
}

// commandStorage is the memory behind one command stream. It moves from
// the allocator to the iterator at Finish.
type commandStorage struct {
	slots   []slot
	spans   []dataSpan
	records [commandCount]recordPool
	data    map[reflect.Type]dataPool
}

// sweep releases every handle still held by records and trailing arrays.
// Released Refs are empty, so sweeping after a consuming walk is harmless.
func (s *commandStorage) sweep() {
	for _, p := range s.records {
		if p != nil {
			p.sweep()
		}
	}
	for _, p := range s.data {
		p.sweep()
	}
}

func (s *commandStorage) clear() {
	if s.slots != nil {
		slots := s.slots[:0]
		slotPool.Put(&slots)
	}
	*s = commandStorage{}
}

// CommandAllocator is the append-only arena behind a command stream being
// recorded. Records of each type live in their own chunked pool and
// trailing arrays live in per-element-type side tables, so every returned
// pointer is naturally aligned and stays valid until Reset.
//
// A CommandAllocator is not safe for concurrent use.
type CommandAllocator struct {
	storage  commandStorage
	limit    int
	used     int
	err      error
	finished bool
}

// NewCommandAllocator returns an empty allocator in the recording state.
// A limit greater than zero caps the bytes of chunk memory the allocator
// may reserve; exceeding it makes further allocations fail with
// ErrOutOfMemory.
func NewCommandAllocator(limit int) *CommandAllocator {
	return &CommandAllocator{limit: limit}
}

// Err returns the allocation failure, if any.
func (a *CommandAllocator) Err() error { return a.err }

// Len returns the number of records appended so far.
func (a *CommandAllocator) Len() int { return len(a.storage.slots) }

// BytesReserved returns the chunk memory reserved so far.
func (a *CommandAllocator) BytesReserved() int { return a.used }

func (a *CommandAllocator) reserve(n int) bool {
	if a.limit > 0 && a.used+n > a.limit {
		a.err = fmt.Errorf("%w: command allocator limit of %d bytes exceeded", ErrOutOfMemory, a.limit)
		return false
	}
	a.used += n
	return true
}

func (a *CommandAllocator) checkRecording() {
	if a.finished {
		panic(ErrAllocatorFinished)
	}
}

// Allocate appends a zeroed record of type T under its tag and returns a
// pointer for the caller to fill in. It returns nil once the allocator has
// run out of memory; see Err.
//
//	draw := dawn.Allocate[dawn.DrawCmd](alloc)
//	draw.VertexCount = 3
func Allocate[T any, PT recordPtr[T]](a *CommandAllocator) PT {
	a.checkRecording()
	if a.err != nil {
		return nil
	}
	var zero T
	tag := PT(&zero).Command()
	pool, ok := a.storage.records[tag].(*typedRecordPool[T, PT])
	if !ok {
		if a.storage.records[tag] != nil {
			panic(fmt.Errorf("%w: %T stored under %s", ErrCommandMismatch, zero, tag))
		}
		pool = &typedRecordPool[T, PT]{}
		a.storage.records[tag] = pool
	}
	rec, chunk, index, ok := pool.alloc(a)
	if !ok {
		return nil
	}
	if a.storage.slots == nil {
		a.storage.slots = *slotPool.Get().(*[]slot)
	}
	a.storage.slots = append(a.storage.slots, slot{
		cmd:       tag,
		chunk:     chunk,
		index:     index,
		firstSpan: uint32(len(a.storage.spans)),
	})
	return rec
}

// AllocateData appends a zeroed trailing array of count elements to the
// most recent record and returns it. The record holding count must be
// allocated first. It returns nil once the allocator has run out of memory.
func AllocateData[T any](a *CommandAllocator, count int) []T {
	a.checkRecording()
	if len(a.storage.slots) == 0 {
		panic(fmt.Errorf("%w: AllocateData before any record", ErrIteratorState))
	}
	if a.err != nil {
		return nil
	}
	typ := reflect.TypeFor[T]()
	sp := dataSpan{typ: typ, count: uint32(count)}
	var out []T
	if count > 0 {
		if a.storage.data == nil {
			a.storage.data = make(map[reflect.Type]dataPool)
		}
		pool, ok := a.storage.data[typ].(*typedDataPool[T])
		if !ok {
			pool = newTypedDataPool[T]()
			a.storage.data[typ] = pool
		}
		var chunk, off uint32
		out, chunk, off, ok = pool.alloc(a, count)
		if !ok {
			return nil
		}
		sp.chunk, sp.off = chunk, off
	}
	a.storage.spans = append(a.storage.spans, sp)
	a.storage.slots[len(a.storage.slots)-1].spanCount++
	return out
}

// Append moves every record of other to the end of a, in order, and leaves
// other empty. Encoders use it to splice a finished pass into its parent
// stream. Record pointers handed out by other stay valid.
func (a *CommandAllocator) Append(other *CommandAllocator) {
	a.checkRecording()
	other.checkRecording()
	if other.err != nil && a.err == nil {
		a.err = other.err
	}

	var recordBase [commandCount]uint32
	for tag, p := range other.storage.records {
		if p == nil {
			continue
		}
		if a.storage.records[tag] == nil {
			a.storage.records[tag] = p
			continue
		}
		recordBase[tag] = a.storage.records[tag].adopt(p)
	}

	dataBase := make(map[reflect.Type]uint32, len(other.storage.data))
	for typ, p := range other.storage.data {
		if a.storage.data == nil {
			a.storage.data = make(map[reflect.Type]dataPool)
		}
		if mine, ok := a.storage.data[typ]; ok {
			dataBase[typ] = mine.adopt(p)
		} else {
			a.storage.data[typ] = p
		}
	}

	spanBase := uint32(len(a.storage.spans))
	for _, sp := range other.storage.spans {
		if sp.count > 0 {
			sp.chunk += dataBase[sp.typ]
		}
		a.storage.spans = append(a.storage.spans, sp)
	}
	if a.storage.slots == nil && len(other.storage.slots) > 0 {
		a.storage.slots = *slotPool.Get().(*[]slot)
	}
	for _, s := range other.storage.slots {
		s.chunk += recordBase[s.cmd]
		s.firstSpan += spanBase
		a.storage.slots = append(a.storage.slots, s)
	}
	a.used += other.used

	other.storage.clear()
	other.used = 0
	other.err = nil
}

// Finish freezes the recorded stream and hands its storage to a new
// iterator. The allocator is left finished and empty; Reset returns it to
// the recording state.
func (a *CommandAllocator) Finish() *CommandIterator {
	a.checkRecording()
	it := &CommandIterator{storage: a.storage}
	a.storage = commandStorage{}
	a.finished = true
	return it
}

// Reset releases every handle still held by unfinished records, drops the
// backing chunks and returns a to the empty recording state.
func (a *CommandAllocator) Reset() {
	a.storage.sweep()
	a.storage.clear()
	a.used = 0
	a.err = nil
	a.finished = false
}
