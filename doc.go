// Package dawn records GPU work into command streams and replays them on a
// native graphics backend.
//
// # Overview
//
// A Device owns a Backend and creates GPU objects from it. Work is recorded
// with a CommandEncoder into a compact, append-only command stream, frozen
// into a CommandBuffer by Finish and handed to the backend by Queue.Submit.
// Recording never talks to the backend; replay never validates.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/dawn"
//	    _ "github.com/gogpu/dawn/backend/null"
//	)
//
//	dev, err := dawn.NewDevice("null")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	src, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 256, Usage: gputypes.BufferUsageCopySrc})
//	dst, _ := dev.CreateBuffer(&dawn.BufferDescriptor{Size: 256, Usage: gputypes.BufferUsageCopyDst})
//
//	enc := dev.CreateCommandEncoder("upload")
//	enc.CopyBufferToBuffer(src, 0, dst, 0, 256)
//	cb, err := enc.Finish()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = dev.Queue().Submit(cb)
//
// # Command Streams
//
// A stream is a sequence of records, each stored under a Command tag. Records
// may be followed by trailing arrays (dynamic offsets, push constant values,
// vertex buffer handles, debug labels). CommandAllocator writes streams and
// CommandIterator reads them back; reading a record as the wrong type panics
// instead of reinterpreting memory.
//
// Records hold Ref handles to the objects they use. Every Ref is released
// exactly once: by ExecuteCommands as each record is issued, by FreeCommands
// for a stream that is dropped unexecuted, or by the sweep when the iterator
// is released after a failed or partial replay.
//
// # Resource Usage
//
// Buffers and textures are in one usage at a time. The encoder inserts
// transition records wherever a command needs a different usage, and pass
// encoders insert the transitions for everything a pass touches before the
// pass begins. Replay applies transitions in batches through
// CommandIssuer.Barriers.
//
// # Backends
//
// Backends register by name, following the database/sql driver pattern:
//
//	import _ "github.com/gogpu/dawn/backend/null"   // "null": counts and skips
//	import _ "github.com/gogpu/dawn/backend/native" // "vulkan", "noop": gogpu/wgpu HAL
//
// A backend implements Execute on top of ExecuteCommands and a
// CommandIssuer; the walk, the transition batching and the release
// discipline live in this package.
//
// # Errors
//
// Encoding errors are deferred: the first one is kept, later calls are
// ignored and Finish reports it together with an error CommandBuffer.
// Backend execution errors lose the device. All errors wrap ErrValidation,
// ErrOutOfMemory or ErrDeviceLost.
package dawn

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0-alpha.1"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0

	// VersionPrerelease is the prerelease identifier
	VersionPrerelease = "alpha.1"
)
