package native

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/dawn"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Push constants are emulated with a uniform buffer bound at the bind
// group slot after the pipeline's own groups. Every update of the shadow
// values takes a fresh slot of a per-submission ring, bound with a dynamic
// offset, so earlier draws keep the values they were recorded with.
const (
	pushConstantBytes  = dawn.MaxPushConstants * 4
	pushConstantStride = dawn.DynamicOffsetAlignment
)

func createPushConstantLayout(dev hal.Device) (hal.BindGroupLayout, error) {
	return dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "dawn_push_constants_layout",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment | gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   pushConstantBytes,
			},
		}},
	})
}

// pushRing is the push constant storage of one submission.
type pushRing struct {
	dev      hal.Device
	queue    hal.Queue
	buf      hal.Buffer
	group    hal.BindGroup
	capacity int
	next     int
	scratch  [pushConstantBytes]byte
}

func newPushRing(dev hal.Device, queue hal.Queue, layout hal.BindGroupLayout, capacity int) (*pushRing, error) {
	buf, err := dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "dawn_push_constants",
		Size:  uint64(capacity) * pushConstantStride,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create push constant buffer: %w", err)
	}
	group, err := dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "dawn_push_constants",
		Layout: layout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: pushConstantBytes}},
		},
	})
	if err != nil {
		dev.DestroyBuffer(buf)
		return nil, fmt.Errorf("create push constant bind group: %w", err)
	}
	return &pushRing{dev: dev, queue: queue, buf: buf, group: group, capacity: capacity}, nil
}

// push uploads values into the next slot and returns its dynamic offset.
func (r *pushRing) push(values *[dawn.MaxPushConstants]uint32) (uint32, error) {
	if r.next >= r.capacity {
		return 0, fmt.Errorf("%w (%d updates)", ErrPushConstantRingFull, r.capacity)
	}
	off := uint32(r.next * pushConstantStride)
	for i, v := range values {
		binary.LittleEndian.PutUint32(r.scratch[i*4:], v)
	}
	r.queue.WriteBuffer(r.buf, uint64(off), r.scratch[:])
	r.next++
	return off, nil
}

func (r *pushRing) destroy() {
	r.dev.DestroyBindGroup(r.group)
	r.dev.DestroyBuffer(r.buf)
}
