package dawn

import (
	"fmt"
	"sync/atomic"
)

// RefCounted is embedded by every object a command record can hold.
// The creator owns the first reference; the object is destroyed when the
// count drops to zero.
type RefCounted struct {
	refs    atomic.Int64
	destroy func()
}

func (r *RefCounted) initRefs(destroy func()) {
	r.refs.Store(1)
	r.destroy = destroy
}

// AddRef takes one more reference.
func (r *RefCounted) AddRef() {
	if r.refs.Add(1) <= 1 {
		panic("dawn: AddRef on a destroyed object")
	}
}

// Release drops one reference and destroys the object when it was the last.
func (r *RefCounted) Release() {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		if r.destroy != nil {
			r.destroy()
		}
	case n < 0:
		panic(fmt.Sprintf("dawn: Release on an object with %d references", n+1))
	}
}

// RefCount returns the current number of references.
func (r *RefCounted) RefCount() int64 {
	return r.refs.Load()
}

// refCounter is the constraint for objects that can be held by a Ref.
type refCounter interface {
	comparable
	AddRef()
	Release()
}

// Ref is a strong handle owned by a command record. NewRef takes a
// reference and Release gives it back; a released Ref is empty, so the
// same handle can never be released twice.
type Ref[T refCounter] struct {
	obj T
}

// NewRef returns a Ref holding one new reference to obj.
// A zero obj yields an empty Ref.
func NewRef[T refCounter](obj T) Ref[T] {
	var zero T
	if obj != zero {
		obj.AddRef()
	}
	return Ref[T]{obj: obj}
}

// Get returns the referenced object, or the zero value for an empty Ref.
func (r Ref[T]) Get() T {
	return r.obj
}

// Valid reports whether r still holds a reference.
func (r Ref[T]) Valid() bool {
	var zero T
	return r.obj != zero
}

// Release drops the held reference and empties r.
func (r *Ref[T]) Release() {
	var zero T
	if r.obj == zero {
		return
	}
	obj := r.obj
	r.obj = zero
	obj.Release()
}
