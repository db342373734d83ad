package dawn

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
)

// Queue submits command buffers to its device's backend. Submissions are
// serialized; each buffer is replayed to completion before the next.
type Queue struct {
	device *Device
	mu     sync.Mutex
}

// Submit validates every buffer and then executes them in order. A buffer
// listed twice fails validation. A backend error loses the device and
// leaves the remaining buffers unsubmitted; they can still be released.
func (q *Queue) Submit(cbs ...*CommandBuffer) error {
	d := q.device
	if err := d.checkAlive(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := d.checkAlive(); err != nil {
		return err
	}

	seen := make(map[*CommandBuffer]struct{}, len(cbs))
	for _, cb := range cbs {
		cb.mu.Lock()
		err := cb.validateSubmit(d)
		cb.mu.Unlock()
		if err == nil {
			if _, dup := seen[cb]; dup {
				err = validationErrorf("submit: command buffer %q listed twice", cb.label)
			}
			seen[cb] = struct{}{}
		}
		if err != nil {
			return d.consumeError(err)
		}
	}

	for i, cb := range cbs {
		cb.mu.Lock()
		err := cb.execute(d.backend)
		cb.mu.Unlock()
		if err != nil {
			d.logger().Error("dawn: execution failed", "label", cb.label, "index", i, "err", err)
			return d.lose(fmt.Errorf("execute %q: %w", cb.label, err))
		}
	}
	d.logger().Debug("dawn: submitted", "buffers", len(cbs))
	return nil
}

// WriteBuffer uploads data into b at offset. b must allow CopyDst, and
// offset and len(data) must be multiples of 4.
func (q *Queue) WriteBuffer(b *Buffer, offset uint64, data []byte) error {
	d := q.device
	if err := d.checkAlive(); err != nil {
		return err
	}
	switch {
	case b == nil || b.Device() != d:
		return d.consumeError(validationErrorf("WriteBuffer: buffer does not belong to this device"))
	case b.AllowedUsage()&gputypes.BufferUsageCopyDst == 0:
		return d.consumeError(validationErrorf("WriteBuffer: buffer %q lacks CopyDst usage", b.Label()))
	case offset%4 != 0 || len(data)%4 != 0:
		return d.consumeError(validationErrorf("WriteBuffer: offset %d and size %d must be multiples of 4", offset, len(data)))
	}
	if err := validateBufferRange(b, offset, uint64(len(data))); err != nil {
		return d.consumeError(err)
	}
	if len(data) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := d.checkAlive(); err != nil {
		return err
	}
	if err := d.backend.WriteBuffer(b, offset, data); err != nil {
		return d.lose(fmt.Errorf("write buffer %q: %w", b.Label(), err))
	}
	return nil
}
