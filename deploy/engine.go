package deploy

// Engine is the capability set the deployment core consumes from a concrete
// execution substrate. One engine value is chosen per process at start-up
// (in-process goroutines, TCP-connected processes, ...); the protocol code
// never branches on which one it got.
//
// Implementations live under deploy/engine; this package owns the interface
// so that the core and its tests depend only on the contract.
//
// All blocking operations block indefinitely. There are no timeouts: a peer
// that never responds produces a hang that only a group-wide abort (or an
// operator) resolves.
type Engine interface {
	// Index is this participant's position in the instance list, in
	// [0, Count). The coordinator is always index 0.
	Index() int

	// Count is the total number of participants in the job.
	Count() int

	// IsCoordinator reports whether this participant drives the deployment.
	IsCoordinator() bool

	// Register installs a handler for inbound RPCs with the given name.
	// Handlers run while the participant is parked in Listen.
	Register(name string, h Handler) error

	// Listen blocks until exactly one inbound RPC arrives, services it with
	// the registered handler, and returns. An RPC with no registered handler
	// or an abort signal ends the listen with an error.
	Listen() error

	// Call requests the named RPC on the target participant and blocks until
	// the target has finished servicing it. Calls to self are not permitted.
	Call(target int, name string, arg []byte) error

	// Reply submits the return value for the RPC currently being serviced.
	// Only valid from inside a handler.
	Reply(buf []byte)

	// ReturnValue collects the return value produced by the target while
	// servicing this participant's most recent Call to it.
	ReturnValue(target int) ([]byte, error)

	// Allocate creates a zero-initialized local buffer.
	Allocate(size int) Buffer

	// Publish registers a buffer in the tag's global namespace under the
	// given slot key. The buffer stays resident on this participant; remote
	// participants reach it through Lookup after the tag's Barrier.
	Publish(tag, key string, b Buffer) error

	// Lookup resolves a published buffer. The returned handle is backed by
	// the publisher's memory; it is only guaranteed to resolve after every
	// group member has passed the tag's Barrier.
	Lookup(tag, key string) (Buffer, error)

	// Barrier blocks until every participant in the job has entered the
	// barrier for this tag. It is a collective: all participants must call
	// it, in the same tag order, or the job hangs.
	Barrier(tag string) error

	// DetectTopology probes (or emulates) this participant's hardware.
	DetectTopology() (Topology, error)

	// Finalize releases the engine after a successful run.
	Finalize() error

	// Abort signals a group-wide abort: every participant's blocking engine
	// operations fail promptly and every participant must exit nonzero.
	Abort(code int)
}

// Handler services one inbound RPC. It may produce a return value for the
// caller via Engine.Reply.
type Handler func(arg []byte)

// Buffer is a fixed-size region of shared memory. Buffers allocated locally
// are plain process memory; handles obtained via Engine.Lookup may be backed
// by another participant's memory, with each operation forwarded to the
// owner.
type Buffer interface {
	// Size is the buffer length in bytes.
	Size() int

	// ReadAt copies len(p) bytes starting at off into p.
	ReadAt(p []byte, off int) error

	// WriteAt copies p into the buffer starting at off.
	WriteAt(p []byte, off int) error

	// Bytes exposes the backing storage when the buffer is resident in this
	// process. Remote handles report ok=false; callers needing zero-copy
	// views (the channel consumer) always own the buffer they view.
	Bytes() ([]byte, bool)

	// Atomically runs fn while holding the buffer's lock, serializing it
	// against every other Atomically section on the same buffer across all
	// participants. The channel code funnels every cursor update through the
	// sizes-metadata buffer's lock.
	Atomically(fn func() error) error
}
