// Package native provides a dawn backend that replays command streams on a
// gogpu/wgpu hal device.
//
// Importing the package registers two backends:
//   - "vulkan": the first discrete or integrated Vulkan adapter
//   - "noop": the hal noop device, which accepts every call
//
// A device owned by a host application is adopted with NewFromProvider.
// Each Execute records one hal command buffer and submits it with its own
// fence. Tick retires finished submissions and WaitIdle waits for all of
// them.
package native

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/dawn"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan hal backend
)

// Registered backend names.
const (
	NameVulkan = "vulkan"
	NameNoop   = "noop"
)

func init() {
	dawn.Register(NameVulkan, func() (dawn.Backend, error) {
		api, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil, fmt.Errorf("%w: vulkan", ErrAPIUnavailable)
		}
		return Open(api)
	})
	dawn.Register(NameNoop, func() (dawn.Backend, error) {
		return Open(noop.API{}, WithName(NameNoop))
	})
}

// submission is one Execute in flight on the GPU.
type submission struct {
	serial uint64
	fence  hal.Fence
	cmdBuf hal.CommandBuffer
	ring   *pushRing
}

// Backend replays dawn command streams on a hal device. Its methods are
// serialized by the dawn queue; the internal lock only guards against
// Tick and Destroy racing with it.
type Backend struct {
	opts options

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool

	pushLayout hal.BindGroupLayout

	mu        sync.Mutex
	inflight  []submission
	serial    uint64
	destroyed bool
}

var _ dawn.Backend = (*Backend)(nil)

// Open creates an instance of api, opens its preferred adapter and returns
// a backend owning the device.
func Open(api hal.Backend, opts ...Option) (*Backend, error) {
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	b, err := newBackend(openDev.Device, openDev.Queue, false, opts)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	b.instance = instance
	slogger().Info("native: device opened", "backend", b.opts.name, "adapter", selected.Info.Name)
	return b, nil
}

// NewFromProvider returns a backend on the hal device and queue of a host
// provider, such as a gogpu window. The provider keeps ownership of the
// device: Destroy releases only what the backend created.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHalProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHalProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHalProvider)
	}
	return newBackend(device, queue, true, opts)
}

func newBackend(device hal.Device, queue hal.Queue, external bool, opts []Option) (*Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	layout, err := createPushConstantLayout(device)
	if err != nil {
		return nil, fmt.Errorf("create push constant layout: %w", err)
	}
	return &Backend{
		opts:       o,
		device:     device,
		queue:      queue,
		external:   external,
		pushLayout: layout,
	}, nil
}

// Name implements dawn.Backend.
func (b *Backend) Name() string { return b.opts.name }

// SetLogger receives the dawn logger.
func (b *Backend) SetLogger(l *slog.Logger) { setLogger(l) }

// Device returns the hal device.
func (b *Backend) Device() hal.Device { return b.device }

func (b *Backend) alive() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	return nil
}

// release runs destroy on the device unless the backend is gone.
func (b *Backend) release(destroy func(hal.Device)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	destroy(b.device)
}

// WriteBuffer uploads data through the hal queue.
func (b *Backend) WriteBuffer(buf *dawn.Buffer, offset uint64, data []byte) error {
	if err := b.alive(); err != nil {
		return err
	}
	b.queue.WriteBuffer(rawBuffer(buf), offset, data)
	return nil
}

// Execute records commands into one hal command buffer and submits it.
// Nothing is submitted when replay fails.
func (b *Backend) Execute(commands *dawn.CommandIterator) error {
	if err := b.alive(); err != nil {
		return err
	}
	enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "dawn_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("dawn_commands"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	is := newIssuer(b, enc)
	if err := dawn.ExecuteCommands(commands, is); err != nil {
		is.abort()
		enc.DiscardEncoding()
		return err
	}
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		is.abort()
		return fmt.Errorf("end encoding: %w", err)
	}
	fence, err := b.device.CreateFence()
	if err != nil {
		is.abort()
		b.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("create fence: %w", err)
	}
	if err := b.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		is.abort()
		b.device.DestroyFence(fence)
		b.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("submit: %w", err)
	}

	b.mu.Lock()
	b.serial++
	b.inflight = append(b.inflight, submission{serial: b.serial, fence: fence, cmdBuf: cmdBuf, ring: is.ring})
	serial := b.serial
	b.mu.Unlock()
	slogger().Debug("native: submitted", "serial", serial, "barriers", is.barriers)
	return nil
}

func (b *Backend) retire(s submission) {
	b.device.FreeCommandBuffer(s.cmdBuf)
	b.device.DestroyFence(s.fence)
	if s.ring != nil {
		s.ring.destroy()
	}
}

// Tick retires submissions whose fence has signaled.
func (b *Backend) Tick() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	done := 0
	for _, s := range b.inflight {
		ok, err := b.device.Wait(s.fence, 1, 0)
		if err != nil {
			return fmt.Errorf("poll submission %d: %w", s.serial, err)
		}
		if !ok {
			break
		}
		b.retire(s)
		done++
	}
	b.inflight = b.inflight[done:]
	return nil
}

// waitSlice bounds one fence wait so WaitIdle notices cancellation.
const waitSlice = 10 * time.Millisecond

// WaitIdle waits for every submission in order and retires it.
func (b *Backend) WaitIdle(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return ErrDestroyed
	}
	return b.waitIdleLocked(ctx)
}

func (b *Backend) waitIdleLocked(ctx context.Context) error {
	for len(b.inflight) > 0 {
		s := b.inflight[0]
		deadline := time.Now().Add(b.opts.waitTimeout)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := b.device.Wait(s.fence, 1, waitSlice)
			if err != nil {
				return fmt.Errorf("wait for submission %d: %w", s.serial, err)
			}
			if ok {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: submission %d after %v", ErrWaitTimeout, s.serial, b.opts.waitTimeout)
			}
		}
		b.retire(s)
		b.inflight = b.inflight[1:]
	}
	return nil
}

// Destroy waits for outstanding work and releases the device unless it
// belongs to a provider.
func (b *Backend) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	if err := b.waitIdleLocked(context.Background()); err != nil {
		slogger().Warn("native: destroy with work in flight", "err", err)
		for _, s := range b.inflight {
			b.retire(s)
		}
		b.inflight = nil
	}
	b.destroyed = true
	b.device.DestroyBindGroupLayout(b.pushLayout)
	if !b.external {
		b.device.Destroy()
	}
	if b.instance != nil {
		b.instance.Destroy()
	}
	slogger().Info("native: backend destroyed", "backend", b.opts.name)
}
