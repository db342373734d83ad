package dawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/dawn/internal/shadercache"
)

// Device owns a backend, its queue and every object created from it.
//
// Device loss is terminal: after it, object creation, encoding Finish and
// submission fail immediately with an error wrapping ErrDeviceLost.
// Device methods are safe for concurrent use.
type Device struct {
	backend Backend
	queue   *Queue
	opts    deviceOptions
	shaders *shadercache.Cache

	mu         sync.Mutex
	lostReason error
	destroyed  bool
}

// NewDevice opens the backend registered under backendName and returns a
// device driving it.
func NewDevice(backendName string, opts ...DeviceOption) (*Device, error) {
	b, err := OpenBackend(backendName)
	if err != nil {
		return nil, err
	}
	return NewDeviceWithBackend(b, opts...), nil
}

// NewDeviceWithBackend returns a device driving an already opened backend.
// The device takes ownership of b.
func NewDeviceWithBackend(b Backend, opts ...DeviceOption) *Device {
	o := defaultDeviceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{backend: b, opts: o}
	if o.shaderCache > 0 {
		d.shaders = shadercache.New(o.shaderCache)
	}
	d.queue = &Queue{device: d}
	trackDevice(d)
	propagateLogger(b, d.logger())
	d.logger().Info("dawn: device created", "backend", b.Name(), "label", o.label)
	return d
}

func (d *Device) logger() *slog.Logger {
	if d.opts.logger != nil {
		return d.opts.logger
	}
	return Logger()
}

// Label returns the device debug label.
func (d *Device) Label() string { return d.opts.label }

// Backend returns the backend driven by the device.
func (d *Device) Backend() Backend { return d.backend }

// Queue returns the device queue.
func (d *Device) Queue() *Queue { return d.queue }

// IsLost reports whether the device has been lost.
func (d *Device) IsLost() bool {
	return d.LostReason() != nil
}

// LostReason returns why the device was lost, or nil.
func (d *Device) LostReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lostReason
}

// checkAlive returns the loss reason for a lost device.
func (d *Device) checkAlive() error {
	return d.LostReason()
}

// lose moves the device to the lost state and fires the lost callback once.
func (d *Device) lose(cause error) error {
	d.mu.Lock()
	if d.lostReason != nil {
		reason := d.lostReason
		d.mu.Unlock()
		return reason
	}
	reason := cause
	if !errors.Is(cause, ErrDeviceLost) {
		reason = fmt.Errorf("%w: %w", ErrDeviceLost, cause)
	}
	d.lostReason = reason
	d.mu.Unlock()

	d.logger().Warn("dawn: device lost", "backend", d.backend.Name(), "reason", cause)
	if d.opts.onLost != nil {
		d.opts.onLost(reason)
	}
	return reason
}

// consumeError reports err through the error callback and returns it.
// Device loss errors are not reported twice.
func (d *Device) consumeError(err error) error {
	if err == nil || errors.Is(err, ErrDeviceLost) {
		return err
	}
	if d.opts.onError != nil {
		d.opts.onError(err)
	}
	return err
}

// Destroy loses the device with reason "destroyed" and releases the
// backend. Objects still referenced elsewhere keep their frontend state
// but their native handles are gone.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	d.lose(errors.New("destroyed"))
	d.queue.mu.Lock()
	d.backend.Destroy()
	d.queue.mu.Unlock()
	untrackDevice(d)
}

// Tick lets the backend reclaim resources of finished GPU work.
func (d *Device) Tick() error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	d.queue.mu.Lock()
	err := d.backend.Tick()
	d.queue.mu.Unlock()
	if err != nil {
		return d.lose(err)
	}
	return nil
}

// WaitIdle blocks until all submitted work has finished or ctx ends.
func (d *Device) WaitIdle(ctx context.Context) error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	d.queue.mu.Lock()
	err := d.backend.WaitIdle(ctx)
	d.queue.mu.Unlock()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return d.lose(err)
	}
	return nil
}

// attachNative finishes object creation: it runs create on the backend and
// stores the handle, or drops the object and reports the error.
func attachNative[T refCounter](d *Device, obj T, o *object, create func() (NativeObject, error)) (T, error) {
	var zero T
	n, err := create()
	if err != nil {
		obj.Release()
		return zero, d.consumeError(fmt.Errorf("dawn: %s backend: %w", d.backend.Name(), err))
	}
	o.native = n
	return obj, nil
}

// owns reports whether every non-nil object was created by d.
func (d *Device) owns(objs ...deviceChild) bool {
	for _, o := range objs {
		if o == nil || reflect.ValueOf(o).IsNil() {
			continue
		}
		if o.Device() != d {
			return false
		}
	}
	return true
}

// CreateBuffer creates a buffer.
func (d *Device) CreateBuffer(desc *BufferDescriptor) (*Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("buffer: nil descriptor"))
	}
	if desc.Usage == 0 {
		return nil, d.consumeError(validationErrorf("buffer %q: usage must not be empty", desc.Label))
	}
	b := &Buffer{size: desc.Size, allowed: desc.Usage}
	b.init(d, desc.Label, nil)
	return attachNative(d, b, &b.object, func() (NativeObject, error) { return d.backend.CreateBuffer(b) })
}

// CreateTexture creates a texture. Zero MipLevelCount, SampleCount and
// depth default to 1; a zero Dimension defaults to 2D.
func (d *Device) CreateTexture(desc *TextureDescriptor) (*Texture, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("texture: nil descriptor"))
	}
	td := *desc
	if td.MipLevelCount == 0 {
		td.MipLevelCount = 1
	}
	if td.SampleCount == 0 {
		td.SampleCount = 1
	}
	if td.Size.DepthOrArrayLayers == 0 {
		td.Size.DepthOrArrayLayers = 1
	}
	if td.Dimension == 0 {
		td.Dimension = gputypes.TextureDimension2D
	}
	switch {
	case td.Usage == 0:
		return nil, d.consumeError(validationErrorf("texture %q: usage must not be empty", td.Label))
	case td.Size.Width == 0 || td.Size.Height == 0:
		return nil, d.consumeError(validationErrorf("texture %q: empty size %dx%d", td.Label, td.Size.Width, td.Size.Height))
	case td.MipLevelCount > 32 || td.Size.Width>>(td.MipLevelCount-1) == 0 && td.Size.Height>>(td.MipLevelCount-1) == 0:
		return nil, d.consumeError(validationErrorf("texture %q: too many mip levels (%d)", td.Label, td.MipLevelCount))
	}
	t := &Texture{desc: td}
	t.init(d, td.Label, nil)
	return attachNative(d, t, &t.object, func() (NativeObject, error) { return d.backend.CreateTexture(t) })
}

func (d *Device) compile(src string) ([]uint32, error) {
	if d.shaders == nil {
		return compileWGSL(src)
	}
	return d.shaders.GetOrCompile(src, compileWGSL)
}

// ShaderCacheStats reports the shader compilation cache counters. All
// fields are zero when the cache is disabled.
func (d *Device) ShaderCacheStats() ShaderCacheStats {
	if d.shaders == nil {
		return ShaderCacheStats{}
	}
	s := d.shaders.Stats()
	return ShaderCacheStats{Modules: s.Len, Capacity: s.Capacity, Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions}
}

// ShaderCacheStats holds shader compilation cache counters.
type ShaderCacheStats struct {
	Modules   int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// CreateShaderModule compiles WGSL source into a shader module.
func (d *Device) CreateShaderModule(desc *ShaderModuleDescriptor) (*ShaderModule, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("shader module: nil descriptor"))
	}
	spirv, err := d.compile(desc.WGSL)
	if err != nil {
		return nil, d.consumeError(fmt.Errorf("%w: shader module %q: %w", ErrValidation, desc.Label, err))
	}
	m := &ShaderModule{source: desc.WGSL, spirv: spirv}
	m.init(d, desc.Label, nil)
	return attachNative(d, m, &m.object, func() (NativeObject, error) { return d.backend.CreateShaderModule(m) })
}

// CreateBindGroupLayout creates a bind group layout.
func (d *Device) CreateBindGroupLayout(desc *BindGroupLayoutDescriptor) (*BindGroupLayout, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("bind group layout: nil descriptor"))
	}
	seen := make(map[uint32]bool, len(desc.Entries))
	var dynamic uint32
	for _, e := range desc.Entries {
		if seen[e.Binding] {
			return nil, d.consumeError(validationErrorf("bind group layout %q: binding %d declared twice", desc.Label, e.Binding))
		}
		seen[e.Binding] = true
		switch {
		case e.Buffer != nil:
			if e.Buffer.HasDynamicOffset {
				dynamic++
			}
		case e.Texture != nil:
		default:
			return nil, d.consumeError(validationErrorf("bind group layout %q: binding %d has no buffer or texture layout", desc.Label, e.Binding))
		}
	}
	l := &BindGroupLayout{
		entries:            append([]gputypes.BindGroupLayoutEntry(nil), desc.Entries...),
		dynamicOffsetCount: dynamic,
	}
	l.init(d, desc.Label, nil)
	return attachNative(d, l, &l.object, func() (NativeObject, error) { return d.backend.CreateBindGroupLayout(l) })
}

// bufferBindingUsage returns the buffer usage a layout entry requires.
func bufferBindingUsage(t gputypes.BufferBindingType) gputypes.BufferUsage {
	switch t {
	case gputypes.BufferBindingTypeStorage, gputypes.BufferBindingTypeReadOnlyStorage:
		return gputypes.BufferUsageStorage
	default:
		return gputypes.BufferUsageUniform
	}
}

// CreateBindGroup creates a bind group. Every layout entry needs exactly
// one matching resource with the right usage.
func (d *Device) CreateBindGroup(desc *BindGroupDescriptor) (*BindGroup, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("bind group: nil descriptor"))
	}
	fail := func(format string, args ...any) (*BindGroup, error) {
		return nil, d.consumeError(validationErrorf("bind group %q: "+format, append([]any{desc.Label}, args...)...))
	}
	if desc.Layout == nil {
		return fail("nil layout")
	}
	if !d.owns(desc.Layout) {
		return fail("layout %q belongs to another device", desc.Layout.Label())
	}
	layout := desc.Layout.Entries()
	if len(desc.Entries) != len(layout) {
		return fail("%d entries for a layout with %d", len(desc.Entries), len(layout))
	}
	byBinding := make(map[uint32]BindGroupEntry, len(desc.Entries))
	for _, e := range desc.Entries {
		byBinding[e.Binding] = e
	}
	var bufUses []bufferUse
	var texUses []textureUse
	for _, le := range layout {
		e, ok := byBinding[le.Binding]
		if !ok {
			return fail("missing binding %d", le.Binding)
		}
		switch {
		case le.Buffer != nil:
			if e.Buffer == nil || e.Texture != nil {
				return fail("binding %d needs a buffer", le.Binding)
			}
			if !d.owns(e.Buffer) {
				return fail("binding %d: buffer %q belongs to another device", le.Binding, e.Buffer.Label())
			}
			usage := bufferBindingUsage(le.Buffer.Type)
			if e.Buffer.AllowedUsage()&usage == 0 {
				return fail("binding %d: buffer %q lacks usage %v", le.Binding, e.Buffer.Label(), usage)
			}
			size := e.Size
			if size == 0 && e.Offset <= e.Buffer.Size() {
				size = e.Buffer.Size() - e.Offset
			}
			if e.Offset > e.Buffer.Size() || size > e.Buffer.Size()-e.Offset {
				return fail("binding %d: range [%d, +%d) outside buffer of %d bytes", le.Binding, e.Offset, size, e.Buffer.Size())
			}
			bufUses = append(bufUses, bufferUse{buffer: e.Buffer, usage: usage})
		case le.Texture != nil:
			if e.Texture == nil || e.Buffer != nil {
				return fail("binding %d needs a texture", le.Binding)
			}
			if !d.owns(e.Texture) {
				return fail("binding %d: texture %q belongs to another device", le.Binding, e.Texture.Label())
			}
			if e.Texture.AllowedUsage()&gputypes.TextureUsageTextureBinding == 0 {
				return fail("binding %d: texture %q lacks TextureBinding usage", le.Binding, e.Texture.Label())
			}
			texUses = append(texUses, textureUse{texture: e.Texture, usage: gputypes.TextureUsageTextureBinding})
		}
	}

	g := &BindGroup{
		layout:  NewRef(desc.Layout),
		entries: append([]BindGroupEntry(nil), desc.Entries...),
		bufUses: bufUses,
		texUses: texUses,
	}
	for _, u := range bufUses {
		g.buffers = append(g.buffers, NewRef(u.buffer))
	}
	for _, u := range texUses {
		g.textures = append(g.textures, NewRef(u.texture))
	}
	g.init(d, desc.Label, g.releaseResources)
	return attachNative(d, g, &g.object, func() (NativeObject, error) { return d.backend.CreateBindGroup(g) })
}

// CreatePipelineLayout creates a pipeline layout.
func (d *Device) CreatePipelineLayout(desc *PipelineLayoutDescriptor) (*PipelineLayout, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("pipeline layout: nil descriptor"))
	}
	if len(desc.BindGroupLayouts) > MaxBindGroups {
		return nil, d.consumeError(validationErrorf("pipeline layout %q: %d bind group layouts, at most %d",
			desc.Label, len(desc.BindGroupLayouts), MaxBindGroups))
	}
	l := &PipelineLayout{pushConstantStages: desc.PushConstantStages}
	for i, bgl := range desc.BindGroupLayouts {
		if bgl == nil {
			return nil, d.consumeError(validationErrorf("pipeline layout %q: nil bind group layout %d", desc.Label, i))
		}
		if !d.owns(bgl) {
			return nil, d.consumeError(validationErrorf("pipeline layout %q: bind group layout %d belongs to another device", desc.Label, i))
		}
	}
	for _, bgl := range desc.BindGroupLayouts {
		l.groups = append(l.groups, NewRef(bgl))
	}
	l.init(d, desc.Label, func() {
		for i := range l.groups {
			l.groups[i].Release()
		}
	})
	return attachNative(d, l, &l.object, func() (NativeObject, error) { return d.backend.CreatePipelineLayout(l) })
}

// CreateRenderPipeline creates a render pipeline.
func (d *Device) CreateRenderPipeline(desc *RenderPipelineDescriptor) (*RenderPipeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("render pipeline: nil descriptor"))
	}
	switch {
	case desc.Layout == nil:
		return nil, d.consumeError(validationErrorf("render pipeline %q: nil layout", desc.Label))
	case desc.Vertex.Module == nil:
		return nil, d.consumeError(validationErrorf("render pipeline %q: nil vertex module", desc.Label))
	case desc.Fragment != nil && desc.Fragment.Module == nil:
		return nil, d.consumeError(validationErrorf("render pipeline %q: nil fragment module", desc.Label))
	case !d.owns(desc.Layout, desc.Vertex.Module) || desc.Fragment != nil && !d.owns(desc.Fragment.Module):
		return nil, d.consumeError(validationErrorf("render pipeline %q: layout or module belongs to another device", desc.Label))
	case desc.Fragment != nil && len(desc.Fragment.Targets) > MaxColorAttachments:
		return nil, d.consumeError(validationErrorf("render pipeline %q: %d color targets, at most %d",
			desc.Label, len(desc.Fragment.Targets), MaxColorAttachments))
	case len(desc.Vertex.Buffers) > MaxVertexBuffers:
		return nil, d.consumeError(validationErrorf("render pipeline %q: %d vertex buffers, at most %d",
			desc.Label, len(desc.Vertex.Buffers), MaxVertexBuffers))
	}
	p := &RenderPipeline{desc: *desc, layout: NewRef(desc.Layout)}
	if p.desc.SampleCount == 0 {
		p.desc.SampleCount = 1
	}
	p.modules = append(p.modules, NewRef(desc.Vertex.Module))
	if desc.Fragment != nil {
		frag := *desc.Fragment
		p.desc.Fragment = &frag
		p.modules = append(p.modules, NewRef(desc.Fragment.Module))
	}
	p.init(d, desc.Label, func() {
		p.layout.Release()
		for i := range p.modules {
			p.modules[i].Release()
		}
	})
	return attachNative(d, p, &p.object, func() (NativeObject, error) { return d.backend.CreateRenderPipeline(p) })
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *ComputePipelineDescriptor) (*ComputePipeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, d.consumeError(validationErrorf("compute pipeline: nil descriptor"))
	}
	switch {
	case desc.Layout == nil:
		return nil, d.consumeError(validationErrorf("compute pipeline %q: nil layout", desc.Label))
	case desc.Module == nil:
		return nil, d.consumeError(validationErrorf("compute pipeline %q: nil module", desc.Label))
	case !d.owns(desc.Layout, desc.Module):
		return nil, d.consumeError(validationErrorf("compute pipeline %q: layout or module belongs to another device", desc.Label))
	}
	p := &ComputePipeline{desc: *desc, layout: NewRef(desc.Layout), module: NewRef(desc.Module)}
	p.init(d, desc.Label, func() {
		p.layout.Release()
		p.module.Release()
	})
	return attachNative(d, p, &p.object, func() (NativeObject, error) { return d.backend.CreateComputePipeline(p) })
}

// CreateCommandEncoder starts recording a new command stream.
func (d *Device) CreateCommandEncoder(label string) *CommandEncoder {
	return newCommandEncoder(d, label)
}
