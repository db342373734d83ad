package dawn

import "context"

// NativeObject is a backend handle owned by a frontend object. Destroy is
// called once, when the frontend object's last reference is released.
type NativeObject interface {
	Destroy()
}

// Backend is one native graphics API target.
//
// Create methods return the native handle for a validated frontend object;
// backends without native state return a nil NativeObject. Execute replays
// a finished command stream and is the only way streams reach a backend.
// A non-nil error from Execute or WriteBuffer is fatal: the device that
// owns the backend is lost.
type Backend interface {
	// Name returns the registered backend name.
	Name() string

	CreateBuffer(b *Buffer) (NativeObject, error)
	CreateTexture(t *Texture) (NativeObject, error)
	CreateShaderModule(m *ShaderModule) (NativeObject, error)
	CreateBindGroupLayout(l *BindGroupLayout) (NativeObject, error)
	CreateBindGroup(g *BindGroup) (NativeObject, error)
	CreatePipelineLayout(l *PipelineLayout) (NativeObject, error)
	CreateRenderPipeline(p *RenderPipeline) (NativeObject, error)
	CreateComputePipeline(p *ComputePipeline) (NativeObject, error)

	// WriteBuffer uploads data into b at offset.
	WriteBuffer(b *Buffer, offset uint64, data []byte) error

	// Execute consumes commands. Every handle in the stream must be
	// released by the time Execute returns or when the caller releases
	// the iterator afterwards.
	Execute(commands *CommandIterator) error

	// Tick reclaims resources of finished GPU work.
	Tick() error

	// WaitIdle blocks until submitted GPU work has finished or ctx ends.
	WaitIdle(ctx context.Context) error

	// Destroy releases the backend. No other method is called afterwards.
	Destroy()
}
