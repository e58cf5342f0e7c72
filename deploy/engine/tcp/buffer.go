package tcp

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/deployr-hpc/deployr/deploy"
)

// localBuffer is a buffer resident in this process, addressable by peers
// through its table id. ReadAt and WriteAt do not take the lock; remote
// peers serialize through BufLock/BufUnlock and local code through
// Atomically, which share the same mutex.
type localBuffer struct {
	id   uint64
	data []byte
	mu   sync.Mutex
}

var _ deploy.Buffer = (*localBuffer)(nil)

func (b *localBuffer) Size() int {
	return len(b.data)
}

func (b *localBuffer) checkRange(n, off int) error {
	if off < 0 || off+n > len(b.data) {
		return errors.Errorf("access [%d, %d) outside buffer of %d bytes", off, off+n, len(b.data))
	}
	return nil
}

func (b *localBuffer) ReadAt(p []byte, off int) error {
	if err := b.checkRange(len(p), off); err != nil {
		return err
	}
	copy(p, b.data[off:])
	return nil
}

func (b *localBuffer) WriteAt(p []byte, off int) error {
	if err := b.checkRange(len(p), off); err != nil {
		return err
	}
	copy(b.data[off:], p)
	return nil
}

func (b *localBuffer) Bytes() ([]byte, bool) {
	return b.data, true
}

func (b *localBuffer) Atomically(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn()
}

// bufferTable tracks the buffers this participant allocated.
type bufferTable struct {
	mu     sync.Mutex
	nextID uint64
	bufs   map[uint64]*localBuffer
}

func newBufferTable() *bufferTable {
	return &bufferTable{bufs: make(map[uint64]*localBuffer)}
}

func (t *bufferTable) allocate(size int) *localBuffer {
	if size < 0 {
		panic("tcp: Allocate called with negative size")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := &localBuffer{id: t.nextID, data: make([]byte, size)}
	t.nextID++
	t.bufs[b.id] = b
	return b
}

func (t *bufferTable) get(id uint64) (*localBuffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bufs[id]
	if !ok {
		return nil, errors.Errorf("no buffer with id %d", id)
	}
	return b, nil
}

// remoteBuffer is a handle to a buffer owned by another participant. Every
// operation is forwarded to the owner; Atomically holds the owner-side lock
// across the callback so the section excludes the owner's own Atomically
// sections too.
type remoteBuffer struct {
	e   *Engine
	ref bufferRef
}

var _ deploy.Buffer = (*remoteBuffer)(nil)

func (b *remoteBuffer) Size() int {
	return b.ref.Size
}

func (b *remoteBuffer) ReadAt(p []byte, off int) error {
	var reply BufReadReply
	err := b.e.call(b.ref.Owner, "Peer.BufRead", &BufReadArgs{ID: b.ref.ID, Off: off, Len: len(p)}, &reply)
	if err != nil {
		return err
	}
	if len(reply.Data) != len(p) {
		return errors.Errorf("owner returned %d bytes, wanted %d", len(reply.Data), len(p))
	}
	copy(p, reply.Data)
	return nil
}

func (b *remoteBuffer) WriteAt(p []byte, off int) error {
	var ack Ack
	return b.e.call(b.ref.Owner, "Peer.BufWrite", &BufWriteArgs{ID: b.ref.ID, Off: off, Data: p}, &ack)
}

func (b *remoteBuffer) Bytes() ([]byte, bool) {
	return nil, false
}

func (b *remoteBuffer) Atomically(fn func() error) error {
	var ack Ack
	if err := b.e.call(b.ref.Owner, "Peer.BufLock", &BufLockArgs{ID: b.ref.ID}, &ack); err != nil {
		return err
	}
	fnErr := fn()
	if err := b.e.call(b.ref.Owner, "Peer.BufUnlock", &BufLockArgs{ID: b.ref.ID}, &ack); err != nil && fnErr == nil {
		fnErr = err
	}
	return fnErr
}
