// Package local runs every participant of a job inside one process, each on
// its own goroutine. RPCs travel over in-memory inboxes and published
// buffers are plain shared slices, which makes this engine the reference
// substrate for tests and single-machine experiments.
package local

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/deployr-hpc/deployr/deploy"
)

// Hub owns the state shared by all participants of one in-process job: the
// RPC inboxes, the published-buffer namespace, the barriers and the abort
// latch. Build one hub per job and hand each goroutine its engine from
// Engines.
type Hub struct {
	topologies []deploy.Topology
	inboxes    []chan *rpcRequest

	memMu sync.RWMutex
	mem   map[memKey]*memBuffer

	barrierMu sync.Mutex
	barriers  map[string]*barrierState

	abortOnce sync.Once
	abortCode *atomic.Int32
	abortCh   chan struct{}
}

type memKey struct {
	tag string
	key string
}

// rpcRequest carries one call from caller to target. The target's handler
// fills reply through Engine.Reply; done closes when servicing finishes.
type rpcRequest struct {
	name  string
	arg   []byte
	reply []byte
	done  chan struct{}
}

type barrierState struct {
	arrived int
	release chan struct{}
}

// NewHub builds a hub for one participant per entry of topologies. Each
// participant's DetectTopology reports its entry, which is how emulated
// host shapes reach the deployment protocol.
func NewHub(topologies []deploy.Topology) (*Hub, error) {
	if len(topologies) == 0 {
		return nil, errors.New("a job needs at least one participant topology")
	}
	h := &Hub{
		topologies: topologies,
		inboxes:    make([]chan *rpcRequest, len(topologies)),
		mem:        make(map[memKey]*memBuffer),
		barriers:   make(map[string]*barrierState),
		abortCode:  atomic.NewInt32(0),
		abortCh:    make(chan struct{}),
	}
	for i := range h.inboxes {
		h.inboxes[i] = make(chan *rpcRequest)
	}
	return h, nil
}

// Count returns the number of participants in the job.
func (h *Hub) Count() int {
	return len(h.topologies)
}

// Engines returns one engine per participant, index order. Each engine must
// be used by exactly one goroutine.
func (h *Hub) Engines() []*Engine {
	engines := make([]*Engine, h.Count())
	for i := range engines {
		engines[i] = &Engine{
			hub:      h,
			index:    i,
			handlers: make(map[string]deploy.Handler),
			returns:  make(map[int][]byte),
		}
	}
	return engines
}

// Abort trips the job-wide abort latch. The first code wins; every blocked
// engine operation fails promptly afterwards.
func (h *Hub) Abort(code int) {
	h.abortOnce.Do(func() {
		h.abortCode.Store(int32(code))
		close(h.abortCh)
	})
}

// AbortCode reports whether the job aborted and with which code.
func (h *Hub) AbortCode() (int, bool) {
	select {
	case <-h.abortCh:
		return int(h.abortCode.Load()), true
	default:
		return 0, false
	}
}

func (h *Hub) abortErr() error {
	return errors.WithMessagef(deploy.ErrAborted, "group abort, code %d", int(h.abortCode.Load()))
}

func (h *Hub) publish(tag, key string, b *memBuffer) error {
	h.memMu.Lock()
	defer h.memMu.Unlock()
	k := memKey{tag: tag, key: key}
	if _, exists := h.mem[k]; exists {
		return errors.Errorf("buffer %q already published under tag %q", key, tag)
	}
	h.mem[k] = b
	return nil
}

func (h *Hub) lookup(tag, key string) (*memBuffer, error) {
	h.memMu.RLock()
	defer h.memMu.RUnlock()
	b, ok := h.mem[memKey{tag: tag, key: key}]
	if !ok {
		return nil, errors.Errorf("no buffer %q under tag %q, lookup is only guaranteed after the tag's barrier", key, tag)
	}
	return b, nil
}

// barrier blocks the caller until all participants arrive, then releases
// the whole generation at once. The per-tag state resets so the same tag
// can be used for later rounds.
func (h *Hub) barrier(tag string) error {
	h.barrierMu.Lock()
	st, ok := h.barriers[tag]
	if !ok {
		st = &barrierState{release: make(chan struct{})}
		h.barriers[tag] = st
	}
	st.arrived++
	if st.arrived == h.Count() {
		st.arrived = 0
		close(st.release)
		st.release = make(chan struct{})
		h.barrierMu.Unlock()
		return nil
	}
	release := st.release
	h.barrierMu.Unlock()

	select {
	case <-release:
		return nil
	case <-h.abortCh:
		return h.abortErr()
	}
}

// Engine is one participant's view of the hub.
//
// Thread-safety: each engine belongs to a single goroutine; only Abort may
// be called from anywhere.
type Engine struct {
	hub      *Hub
	index    int
	handlers map[string]deploy.Handler
	current  *rpcRequest
	returns  map[int][]byte
}

var _ deploy.Engine = (*Engine)(nil)

func (e *Engine) Index() int {
	return e.index
}

func (e *Engine) Count() int {
	return e.hub.Count()
}

func (e *Engine) IsCoordinator() bool {
	return e.index == 0
}

func (e *Engine) Register(name string, h deploy.Handler) error {
	if h == nil {
		panic("local: Register called with nil handler")
	}
	if _, exists := e.handlers[name]; exists {
		return errors.Errorf("handler %q already registered on participant %d", name, e.index)
	}
	e.handlers[name] = h
	return nil
}

// Listen parks until one inbound RPC arrives and services it with the
// registered handler. An unregistered RPC name fails the listen; the caller
// stays blocked until the job-wide abort that such a failure triggers.
func (e *Engine) Listen() error {
	var req *rpcRequest
	select {
	case req = <-e.hub.inboxes[e.index]:
	case <-e.hub.abortCh:
		return e.hub.abortErr()
	}

	h, ok := e.handlers[req.name]
	if !ok {
		return errors.Errorf("participant %d received RPC %q with no registered handler", e.index, req.name)
	}
	e.current = req
	h(req.arg)
	e.current = nil
	close(req.done)
	return nil
}

// Call delivers the named RPC to target and blocks until target finishes
// servicing it inside Listen.
func (e *Engine) Call(target int, name string, arg []byte) error {
	if target == e.index {
		return errors.Errorf("participant %d may not call itself", e.index)
	}
	if target < 0 || target >= e.Count() {
		return errors.Errorf("call target %d out of range [0, %d)", target, e.Count())
	}

	req := &rpcRequest{name: name, arg: arg, done: make(chan struct{})}
	select {
	case e.hub.inboxes[target] <- req:
	case <-e.hub.abortCh:
		return e.hub.abortErr()
	}
	select {
	case <-req.done:
	case <-e.hub.abortCh:
		return e.hub.abortErr()
	}
	e.returns[target] = req.reply
	return nil
}

func (e *Engine) Reply(buf []byte) {
	if e.current == nil {
		panic("local: Reply outside of a handler")
	}
	e.current.reply = append([]byte(nil), buf...)
}

func (e *Engine) ReturnValue(target int) ([]byte, error) {
	val, ok := e.returns[target]
	if !ok {
		return nil, errors.Errorf("no completed call from participant %d to %d", e.index, target)
	}
	return val, nil
}

func (e *Engine) Allocate(size int) deploy.Buffer {
	return newMemBuffer(size)
}

func (e *Engine) Publish(tag, key string, b deploy.Buffer) error {
	mb, ok := b.(*memBuffer)
	if !ok {
		return errors.Errorf("buffer published under tag %q was not allocated by this engine", tag)
	}
	return e.hub.publish(tag, key, mb)
}

func (e *Engine) Lookup(tag, key string) (deploy.Buffer, error) {
	return e.hub.lookup(tag, key)
}

func (e *Engine) Barrier(tag string) error {
	return e.hub.barrier(tag)
}

func (e *Engine) DetectTopology() (deploy.Topology, error) {
	return e.hub.topologies[e.index], nil
}

// Finalize is a no-op: in-process participants share the hub's lifetime.
func (e *Engine) Finalize() error {
	return nil
}

func (e *Engine) Abort(code int) {
	e.hub.Abort(code)
}
