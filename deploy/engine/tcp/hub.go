package tcp

import (
	"sync"

	"github.com/pkg/errors"
)

// directory is every participant's way to the coordinator-backed namespace:
// the published-buffer registry, the barriers and the job abort. The
// coordinator holds the hub itself; workers go through RPC.
type directory interface {
	publish(tag, key string, ref bufferRef) error
	lookup(tag, key string) (bufferRef, error)
	barrierArrive(tag string) error
	abortJob(code int)
}

// bufferRef locates one published buffer: which participant owns it and its
// id in that participant's table.
type bufferRef struct {
	Owner int
	ID    uint64
	Size  int
}

type memKey struct {
	tag string
	key string
}

type barrierState struct {
	arrived int
	release chan struct{}
}

// hub is the coordinator's job-wide state.
type hub struct {
	count  int
	engine *Engine

	mu        sync.Mutex
	addrs     []string
	nextIndex int
	joinDone  chan struct{}
	registry  map[memKey]bufferRef
	barriers  map[string]*barrierState
}

var _ directory = (*hub)(nil)

func newHub(count int, e *Engine, coordinatorAddr string) *hub {
	h := &hub{
		count:     count,
		engine:    e,
		addrs:     make([]string, count),
		nextIndex: 1,
		joinDone:  make(chan struct{}),
		registry:  make(map[memKey]bufferRef),
		barriers:  make(map[string]*barrierState),
	}
	h.addrs[0] = coordinatorAddr
	if count == 1 {
		close(h.joinDone)
	}
	return h
}

func (h *hub) peerAddrs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.addrs))
	copy(out, h.addrs)
	return out
}

// join assigns the next free index to a worker and parks it until the whole
// job has assembled.
func (h *hub) join(serveAddr string) (JoinReply, error) {
	h.mu.Lock()
	if h.nextIndex >= h.count {
		h.mu.Unlock()
		return JoinReply{}, errors.Errorf("job already has all %d participants", h.count)
	}
	index := h.nextIndex
	h.nextIndex++
	h.addrs[index] = serveAddr
	if h.nextIndex == h.count {
		close(h.joinDone)
	}
	h.mu.Unlock()

	select {
	case <-h.joinDone:
	case <-h.engine.latch.ch:
		return JoinReply{}, h.engine.latch.err()
	}
	return JoinReply{Index: index, Count: h.count, Addrs: h.peerAddrs()}, nil
}

func (h *hub) publish(tag, key string, ref bufferRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := memKey{tag: tag, key: key}
	if _, exists := h.registry[k]; exists {
		return errors.Errorf("buffer %q already published under tag %q", key, tag)
	}
	h.registry[k] = ref
	return nil
}

func (h *hub) lookup(tag, key string) (bufferRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, ok := h.registry[memKey{tag: tag, key: key}]
	if !ok {
		return bufferRef{}, errors.Errorf("no buffer %q under tag %q, lookup is only guaranteed after the tag's barrier", key, tag)
	}
	return ref, nil
}

func (h *hub) barrierArrive(tag string) error {
	h.mu.Lock()
	st, ok := h.barriers[tag]
	if !ok {
		st = &barrierState{release: make(chan struct{})}
		h.barriers[tag] = st
	}
	st.arrived++
	if st.arrived == h.count {
		st.arrived = 0
		close(st.release)
		st.release = make(chan struct{})
		h.mu.Unlock()
		return nil
	}
	release := st.release
	h.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-h.engine.latch.ch:
		return h.engine.latch.err()
	}
}

// abortJob trips the coordinator's latch and delivers the stop to every
// worker before returning, so the requesting process can exit immediately
// after its own call completes.
func (h *hub) abortJob(code int) {
	h.engine.latch.trip(code)
	addrs := h.peerAddrs()
	var wg sync.WaitGroup
	for i := 1; i < len(addrs); i++ {
		if addrs[i] == "" {
			continue
		}
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			client, err := h.engine.clientFor(target)
			if err != nil {
				return
			}
			var ack Ack
			_ = client.Call("Peer.Stop", &StopArgs{Code: code}, &ack)
		}(i)
	}
	wg.Wait()
}

// remoteDirectory is a worker's RPC view of the coordinator hub.
type remoteDirectory struct {
	e *Engine
}

var _ directory = (*remoteDirectory)(nil)

func (d *remoteDirectory) publish(tag, key string, ref bufferRef) error {
	var ack Ack
	return d.e.call(0, "Hub.Publish", &PublishArgs{Tag: tag, Key: key, Ref: ref}, &ack)
}

func (d *remoteDirectory) lookup(tag, key string) (bufferRef, error) {
	var reply LookupReply
	if err := d.e.call(0, "Hub.Lookup", &LookupArgs{Tag: tag, Key: key}, &reply); err != nil {
		return bufferRef{}, err
	}
	return reply.Ref, nil
}

func (d *remoteDirectory) barrierArrive(tag string) error {
	var ack Ack
	return d.e.call(0, "Hub.BarrierArrive", &BarrierArgs{Tag: tag}, &ack)
}

// abortJob goes over a bare client call: the local latch is already tripped
// by the time it runs, and the engine's usual call path would bail out on
// the latch instead of delivering the abort.
func (d *remoteDirectory) abortJob(code int) {
	client, err := d.e.clientFor(0)
	if err != nil {
		return
	}
	var ack Ack
	_ = client.Call("Hub.AbortJob", &AbortArgs{Code: code}, &ack)
}
