// Package null provides a dawn backend that issues nothing.
//
// Execution only applies usage transitions to the frontend objects; every
// other record is skipped and its handles are released with the stream.
// Buffers keep a host shadow so WriteBuffer results can be inspected.
// The backend is registered as "null":
//
//	import _ "github.com/gogpu/dawn/backend/null"
//
//	dev, err := dawn.NewDevice("null")
package null

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/dawn"
)

// Name is the registered backend name.
const Name = "null"

func init() {
	dawn.Register(Name, func() (dawn.Backend, error) {
		return New(), nil
	})
}

// Backend is the null dawn backend. It is safe for concurrent use.
type Backend struct {
	mu        sync.Mutex
	counts    map[dawn.Command]int
	executed  int
	failNext  error
	destroyed bool

	live atomic.Int64
}

// New returns a null backend.
func New() *Backend {
	return &Backend{counts: make(map[dawn.Command]int)}
}

var _ dawn.Backend = (*Backend)(nil)

// Name implements dawn.Backend.
func (b *Backend) Name() string { return Name }

// SetLogger receives the dawn logger.
func (b *Backend) SetLogger(l *slog.Logger) { setLogger(l) }

// ErrDestroyed is returned for writes to a buffer whose handle is gone.
var ErrDestroyed = errors.New("null: buffer destroyed")

// handle is the native object of every null resource.
type handle struct {
	owner *Backend

	mu        sync.Mutex // guards data and destroyed
	data      []byte
	destroyed bool
}

func (b *Backend) newHandle(size uint64) *handle {
	b.live.Add(1)
	h := &handle{owner: b}
	if size > 0 {
		h.data = make([]byte, size)
	}
	return h
}

func (h *handle) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	h.data, h.destroyed = nil, true
	h.owner.live.Add(-1)
}

func (b *Backend) CreateBuffer(buf *dawn.Buffer) (dawn.NativeObject, error) {
	return b.newHandle(buf.Size()), nil
}

func (b *Backend) CreateTexture(*dawn.Texture) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

func (b *Backend) CreateShaderModule(*dawn.ShaderModule) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

func (b *Backend) CreateBindGroupLayout(*dawn.BindGroupLayout) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

func (b *Backend) CreateBindGroup(*dawn.BindGroup) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

func (b *Backend) CreatePipelineLayout(*dawn.PipelineLayout) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

func (b *Backend) CreateRenderPipeline(*dawn.RenderPipeline) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

func (b *Backend) CreateComputePipeline(*dawn.ComputePipeline) (dawn.NativeObject, error) {
	return b.newHandle(0), nil
}

// WriteBuffer copies data into the buffer's host shadow.
func (b *Backend) WriteBuffer(buf *dawn.Buffer, offset uint64, data []byte) error {
	h, ok := buf.Native().(*handle)
	if !ok || h.owner != b {
		return fmt.Errorf("null: buffer %q has no null handle", buf.Label())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return fmt.Errorf("write to %q: %w", buf.Label(), ErrDestroyed)
	}
	if offset > uint64(len(h.data)) || uint64(len(data)) > uint64(len(h.data))-offset {
		return fmt.Errorf("null: write of %d bytes at %d overflows buffer %q", len(data), offset, buf.Label())
	}
	copy(h.data[offset:], data)
	return nil
}

// Contents returns a copy of the host shadow of buf.
func (b *Backend) Contents(buf *dawn.Buffer) []byte {
	h, ok := buf.Native().(*handle)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.data...)
}

// FailNextExecute makes the next Execute return err without walking the
// stream. It simulates a native failure that loses the device.
func (b *Backend) FailNextExecute(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

// Execute applies the stream's usage transitions and skips everything else.
func (b *Backend) Execute(it *dawn.CommandIterator) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return dawn.ErrDeviceLost
	}
	if err := b.failNext; err != nil {
		b.failNext = nil
		return err
	}

	records := 0
	it.Reset()
	for {
		cmd, ok := it.NextCommandID()
		if !ok {
			break
		}
		switch cmd {
		case dawn.CmdTransitionBufferUsage:
			c := dawn.NextCommand[dawn.TransitionBufferUsageCmd](it)
			c.Buffer.Get().UpdateUsageInternal(c.Usage)
			c.Buffer.Release()
		case dawn.CmdTransitionTextureUsage:
			c := dawn.NextCommand[dawn.TransitionTextureUsageCmd](it)
			c.Texture.Get().UpdateUsageInternal(c.Usage)
			c.Texture.Release()
		default:
			dawn.SkipCommand(it, cmd)
		}
		b.counts[cmd]++
		records++
	}
	b.executed++
	slogger().Debug("null: executed", "records", records)
	return nil
}

// Count returns how many records tagged cmd have been executed.
func (b *Backend) Count(cmd dawn.Command) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[cmd]
}

// Executed returns the number of streams executed.
func (b *Backend) Executed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executed
}

// LiveObjects returns the number of native handles not yet destroyed.
func (b *Backend) LiveObjects() int64 { return b.live.Load() }

func (b *Backend) Tick() error { return nil }

func (b *Backend) WaitIdle(ctx context.Context) error { return ctx.Err() }

func (b *Backend) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	b.mu.Unlock()
	slogger().Info("null: backend destroyed")
}
