// Command dawndemo records a small upload, compute and readback workload
// and replays it on a dawn backend.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/dawn"
	"github.com/gogpu/dawn/backend/null"
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/dawn/backend/native"
)

const doubleWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2u;
}
`

func main() {
	var (
		backend  = flag.String("backend", null.Name, "backend name ("+strings.Join(dawn.Backends(), ", ")+")")
		frames   = flag.Int("frames", 3, "number of command buffers to submit")
		elements = flag.Int("elements", 1024, "number of u32 values to process")
		verbose  = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	if *verbose {
		dawn.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	dev, err := dawn.NewDevice(*backend,
		dawn.WithLabel("dawndemo"),
		dawn.WithErrorCallback(func(err error) { log.Printf("validation: %v", err) }),
	)
	if err != nil {
		log.Fatalf("Failed to open backend %q: %v", *backend, err)
	}
	defer dev.Destroy()

	start := time.Now()
	if err := run(dev, *frames, *elements); err != nil {
		log.Fatalf("Failed: %v", err)
	}
	if err := dev.WaitIdle(context.Background()); err != nil {
		log.Fatalf("WaitIdle: %v", err)
	}
	log.Printf("%d frames on %s in %v", *frames, dev.Backend().Name(), time.Since(start))

	if nb, ok := dev.Backend().(*null.Backend); ok {
		report(nb)
	}
	s := dev.ShaderCacheStats()
	log.Printf("shader cache: %d modules, %d hits, %d misses", s.Modules, s.Hits, s.Misses)
}

type workload struct {
	data     *dawn.Buffer
	readback *dawn.Buffer
	group    *dawn.BindGroup
	pipeline *dawn.ComputePipeline
	size     uint64
	groups   uint32
}

func (w *workload) release() {
	w.pipeline.Release()
	w.group.Release()
	w.readback.Release()
	w.data.Release()
}

func newWorkload(dev *dawn.Device, elements int) (*workload, error) {
	size := uint64(elements) * 4
	size = (size + 255) &^ 255

	data, err := dev.CreateBuffer(&dawn.BufferDescriptor{
		Label: "data",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	readback, err := dev.CreateBuffer(&dawn.BufferDescriptor{
		Label: "readback",
		Size:  size,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead,
	})
	if err != nil {
		data.Release()
		return nil, err
	}

	layout, err := dev.CreateBindGroupLayout(&dawn.BindGroupLayoutDescriptor{
		Label: "data",
		Entries: []gputypes.BindGroupLayoutEntry{{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}},
	})
	if err != nil {
		readback.Release()
		data.Release()
		return nil, err
	}
	defer layout.Release()

	group, err := dev.CreateBindGroup(&dawn.BindGroupDescriptor{
		Label:   "data",
		Layout:  layout,
		Entries: []dawn.BindGroupEntry{{Binding: 0, Buffer: data, Size: size}},
	})
	if err != nil {
		readback.Release()
		data.Release()
		return nil, err
	}

	pipeline, err := newPipeline(dev, layout)
	if err != nil {
		group.Release()
		readback.Release()
		data.Release()
		return nil, err
	}
	return &workload{
		data:     data,
		readback: readback,
		group:    group,
		pipeline: pipeline,
		size:     size,
		groups:   uint32((elements + 63) / 64),
	}, nil
}

func newPipeline(dev *dawn.Device, layout *dawn.BindGroupLayout) (*dawn.ComputePipeline, error) {
	module, err := dev.CreateShaderModule(&dawn.ShaderModuleDescriptor{Label: "double", WGSL: doubleWGSL})
	if err != nil {
		return nil, err
	}
	defer module.Release()
	pl, err := dev.CreatePipelineLayout(&dawn.PipelineLayoutDescriptor{
		Label:            "double",
		BindGroupLayouts: []*dawn.BindGroupLayout{layout},
	})
	if err != nil {
		return nil, err
	}
	defer pl.Release()
	return dev.CreateComputePipeline(&dawn.ComputePipelineDescriptor{
		Label:      "double",
		Layout:     pl,
		Module:     module,
		EntryPoint: "main",
	})
}

// frame doubles every value and copies the result to the readback buffer.
func (w *workload) frame(dev *dawn.Device, n int) (*dawn.CommandBuffer, error) {
	enc := dev.CreateCommandEncoder(fmt.Sprintf("frame %d", n))
	enc.PushDebugGroup("double")
	pass := enc.BeginComputePass()
	pass.SetPipeline(w.pipeline)
	pass.SetBindGroup(0, w.group)
	pass.Dispatch(w.groups, 1, 1)
	pass.End()
	enc.PopDebugGroup()
	enc.CopyBufferToBuffer(w.data, 0, w.readback, 0, w.size)
	return enc.Finish()
}

func run(dev *dawn.Device, frames, elements int) error {
	w, err := newWorkload(dev, elements)
	if err != nil {
		return fmt.Errorf("create workload: %w", err)
	}
	defer w.release()

	seed := make([]byte, w.size)
	for i := 0; i < elements; i++ {
		binary.LittleEndian.PutUint32(seed[i*4:], uint32(i))
	}
	if err := dev.Queue().WriteBuffer(w.data, 0, seed); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	for i := 0; i < frames; i++ {
		cb, err := w.frame(dev, i)
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", i, err)
		}
		if err := dev.Queue().Submit(cb); err != nil {
			return fmt.Errorf("submit frame %d: %w", i, err)
		}
		if err := dev.Tick(); err != nil {
			return fmt.Errorf("tick: %w", err)
		}
	}
	return nil
}

func report(b *null.Backend) {
	log.Printf("null backend executed %d streams", b.Executed())
	for _, cmd := range []dawn.Command{
		dawn.CmdTransitionBufferUsage,
		dawn.CmdBeginComputePass,
		dawn.CmdSetComputePipeline,
		dawn.CmdSetBindGroup,
		dawn.CmdDispatch,
		dawn.CmdCopyBufferToBuffer,
	} {
		log.Printf("  %-24s %d", cmd, b.Count(cmd))
	}
}
