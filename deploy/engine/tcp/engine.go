// Package tcp connects one process per participant over TCP. Participant 0
// is the coordinator: it runs the rendezvous, the published-buffer directory
// and the barriers. Every participant serves its own RPC endpoint, so calls
// and remote buffer accesses flow directly between the two peers involved.
package tcp

import (
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/deployr-hpc/deployr/deploy"
	"github.com/deployr-hpc/deployr/deploy/engine/probe"
)

// dialRetryInterval paces reconnect attempts while a peer's endpoint is not
// up yet. Joining blocks indefinitely, like every other engine operation.
const dialRetryInterval = 200 * time.Millisecond

// Engine is one process's participant endpoint.
//
// Thread-safety: the deploy protocol drives each engine from a single
// goroutine; only Abort may be called from anywhere. The RPC service
// goroutines touch only the inbox, the buffer table and the latch.
type Engine struct {
	index int
	count int
	addrs []string

	listener net.Listener
	hub      *hub
	dir      directory

	clientsMu sync.Mutex
	clients   map[int]*rpc.Client

	handlers map[string]deploy.Handler
	inbox    chan *rpcRequest
	current  *rpcRequest
	returns  map[int][]byte

	buffers *bufferTable
	latch   *abortLatch

	extrasPath string
}

var _ deploy.Engine = (*Engine)(nil)

// rpcRequest carries one inbound call from its service goroutine to the
// participant goroutine parked in Listen.
type rpcRequest struct {
	name  string
	arg   []byte
	reply []byte
	done  chan struct{}
}

type abortLatch struct {
	once sync.Once
	code *atomic.Int32
	ch   chan struct{}
}

func newAbortLatch() *abortLatch {
	return &abortLatch{code: atomic.NewInt32(0), ch: make(chan struct{})}
}

func (l *abortLatch) trip(code int) {
	l.once.Do(func() {
		l.code.Store(int32(code))
		close(l.ch)
	})
}

func (l *abortLatch) tripped() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *abortLatch) err() error {
	return errors.WithMessagef(deploy.ErrAborted, "group abort, code %d", int(l.code.Load()))
}

func newEngine() *Engine {
	return &Engine{
		clients:  make(map[int]*rpc.Client),
		handlers: make(map[string]deploy.Handler),
		inbox:    make(chan *rpcRequest),
		returns:  make(map[int][]byte),
		buffers:  newBufferTable(),
		latch:    newAbortLatch(),
	}
}

// StartCoordinator binds the coordinator endpoint and blocks until count-1
// workers have joined. The returned engine is participant 0.
func StartCoordinator(listenAddr string, count int) (*Engine, error) {
	if count < 1 {
		return nil, errors.Errorf("participant count must be at least 1, got %d", count)
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding coordinator endpoint %s", listenAddr)
	}

	e := newEngine()
	e.index = 0
	e.count = count
	e.listener = ln
	e.hub = newHub(count, e, ln.Addr().String())
	e.dir = e.hub

	srv := rpc.NewServer()
	if err := srv.RegisterName("Peer", &PeerService{e: e}); err != nil {
		return nil, errors.Wrap(err, "registering peer service")
	}
	if err := srv.RegisterName("Hub", &HubService{h: e.hub}); err != nil {
		return nil, errors.Wrap(err, "registering hub service")
	}
	go acceptLoop(srv, ln)

	logrus.WithFields(logrus.Fields{
		"addr":  ln.Addr().String(),
		"count": count,
	}).Info("coordinator waiting for workers")
	select {
	case <-e.hub.joinDone:
	case <-e.latch.ch:
		return nil, e.latch.err()
	}
	e.addrs = e.hub.peerAddrs()
	return e, nil
}

// JoinJob binds a worker endpoint on bindAddr (host:0 picks a free port),
// dials the coordinator and blocks in the rendezvous until the whole job
// has assembled. The returned engine carries the index the coordinator
// assigned.
func JoinJob(coordinatorAddr, bindAddr string) (*Engine, error) {
	if bindAddr == "" {
		bindAddr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding worker endpoint %s", bindAddr)
	}

	e := newEngine()
	e.listener = ln
	e.dir = &remoteDirectory{e: e}

	srv := rpc.NewServer()
	if err := srv.RegisterName("Peer", &PeerService{e: e}); err != nil {
		return nil, errors.Wrap(err, "registering peer service")
	}
	go acceptLoop(srv, ln)

	client, err := dialRetry(coordinatorAddr)
	if err != nil {
		return nil, err
	}
	var welcome JoinReply
	if err := client.Call("Hub.Join", &JoinArgs{ServeAddr: ln.Addr().String()}, &welcome); err != nil {
		return nil, errors.Wrapf(err, "joining job at %s", coordinatorAddr)
	}
	e.index = welcome.Index
	e.count = welcome.Count
	e.addrs = welcome.Addrs
	e.clients[0] = client
	logrus.WithFields(logrus.Fields{
		"participant": e.index,
		"count":       e.count,
	}).Info("joined job")
	return e, nil
}

func acceptLoop(srv *rpc.Server, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go srv.ServeConn(conn)
	}
}

func dialRetry(addr string) (*rpc.Client, error) {
	for {
		client, err := rpc.Dial("tcp", addr)
		if err == nil {
			return client, nil
		}
		logrus.WithField("addr", addr).WithError(err).Debug("endpoint not reachable yet, retrying")
		time.Sleep(dialRetryInterval)
	}
}

// clientFor returns a cached connection to the target participant, dialing
// on first use.
func (e *Engine) clientFor(target int) (*rpc.Client, error) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	if client, ok := e.clients[target]; ok {
		return client, nil
	}
	client, err := rpc.Dial("tcp", e.addrs[target])
	if err != nil {
		return nil, errors.Wrapf(err, "dialing participant %d at %s", target, e.addrs[target])
	}
	e.clients[target] = client
	return client, nil
}

// call issues one RPC and waits for it, bailing out when the job aborts. A
// transport error after the latch tripped is reported as the abort.
func (e *Engine) call(target int, method string, args, reply interface{}) error {
	client, err := e.clientFor(target)
	if err != nil {
		return err
	}
	pending := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case done := <-pending.Done:
		if done.Error != nil {
			if e.latch.tripped() {
				return e.latch.err()
			}
			return errors.Wrapf(done.Error, "%s on participant %d", method, target)
		}
		return nil
	case <-e.latch.ch:
		return e.latch.err()
	}
}

func (e *Engine) Index() int {
	return e.index
}

func (e *Engine) Count() int {
	return e.count
}

func (e *Engine) IsCoordinator() bool {
	return e.index == 0
}

func (e *Engine) Register(name string, h deploy.Handler) error {
	if h == nil {
		panic("tcp: Register called with nil handler")
	}
	if _, exists := e.handlers[name]; exists {
		return errors.Errorf("handler %q already registered on participant %d", name, e.index)
	}
	e.handlers[name] = h
	return nil
}

// Listen parks until one inbound RPC arrives and services it. The remote
// caller stays blocked inside its Call for exactly that long.
func (e *Engine) Listen() error {
	var req *rpcRequest
	select {
	case req = <-e.inbox:
	case <-e.latch.ch:
		return e.latch.err()
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

func (e *Engine) Call(target int, name string, arg []byte) error {
	if target == e.index {
		return errors.Errorf("participant %d may not call itself", e.index)
	}
	if target < 0 || target >= e.count {
		return errors.Errorf("call target %d out of range [0, %d)", target, e.count)
	}
	var reply InvokeReply
	if err := e.call(target, "Peer.Invoke", &InvokeArgs{Name: name, Arg: arg}, &reply); err != nil {
		return err
	}
	e.returns[target] = reply.Ret
	return nil
}

func (e *Engine) Reply(buf []byte) {
	if e.current == nil {
		panic("tcp: Reply outside of a handler")
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
	return e.buffers.allocate(size)
}

func (e *Engine) Publish(tag, key string, b deploy.Buffer) error {
	lb, ok := b.(*localBuffer)
	if !ok {
		return errors.Errorf("buffer published under tag %q was not allocated by this engine", tag)
	}
	return e.dir.publish(tag, key, bufferRef{Owner: e.index, ID: lb.id, Size: lb.Size()})
}

func (e *Engine) Lookup(tag, key string) (deploy.Buffer, error) {
	ref, err := e.dir.lookup(tag, key)
	if err != nil {
		return nil, err
	}
	if ref.Owner == e.index {
		return e.buffers.get(ref.ID)
	}
	return &remoteBuffer{e: e, ref: ref}, nil
}

func (e *Engine) Barrier(tag string) error {
	return e.dir.barrierArrive(tag)
}

// SetExtrasPath names a YAML file of devices the kernel probe cannot see,
// merged into the detected topology. Call it before the job starts.
func (e *Engine) SetExtrasPath(path string) {
	e.extrasPath = path
}

func (e *Engine) DetectTopology() (deploy.Topology, error) {
	return probe.DetectWith(e.extrasPath)
}

// Finalize tears down the endpoint and its peer connections.
func (e *Engine) Finalize() error {
	e.clientsMu.Lock()
	for _, client := range e.clients {
		_ = client.Close()
	}
	e.clients = make(map[int]*rpc.Client)
	e.clientsMu.Unlock()
	return e.listener.Close()
}

// Abort trips the group-wide abort. The directory fans the signal out to
// every participant before this call returns, so the process may exit right
// after.
func (e *Engine) Abort(code int) {
	e.latch.trip(code)
	e.dir.abortJob(code)
}
