package local

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/deployr-hpc/deployr/deploy"
)

// memBuffer is a plain in-process byte region. ReadAt and WriteAt do not
// take the lock; cross-participant coordination happens through Atomically,
// whose sections are mutually exclusive per buffer.
type memBuffer struct {
	data []byte
	mu   sync.Mutex
}

var _ deploy.Buffer = (*memBuffer)(nil)

func newMemBuffer(size int) *memBuffer {
	if size < 0 {
		panic("local: Allocate called with negative size")
	}
	return &memBuffer{data: make([]byte, size)}
}

func (b *memBuffer) Size() int {
	return len(b.data)
}

func (b *memBuffer) checkRange(n, off int) error {
	if off < 0 || off+n > len(b.data) {
		return errors.Errorf("access [%d, %d) outside buffer of %d bytes", off, off+n, len(b.data))
	}
	return nil
}

func (b *memBuffer) ReadAt(p []byte, off int) error {
	if err := b.checkRange(len(p), off); err != nil {
		return err
	}
	copy(p, b.data[off:])
	return nil
}

func (b *memBuffer) WriteAt(p []byte, off int) error {
	if err := b.checkRange(len(p), off); err != nil {
		return err
	}
	copy(b.data[off:], p)
	return nil
}

func (b *memBuffer) Bytes() ([]byte, bool) {
	return b.data, true
}

func (b *memBuffer) Atomically(fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn()
}
