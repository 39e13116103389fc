package bus

import (
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// maxPooledBuffer controls the largest buffer returned to the pool.
// Larger payloads are dropped after use so resident memory stays bounded.
const maxPooledBuffer = 256 * 1024

var framePool = sync.Pool{New: func() any { return &Frame{} }}

// Frame is one marshaled outbound payload staged for a connection writer.
// Consumers must call Done exactly once after writing it.
type Frame struct {
	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Bytes returns the frame payload. Valid until Done is called.
func (f *Frame) Bytes() []byte {
	if f.buf == nil {
		return nil
	}
	return f.buf.B
}

// Done releases pooled resources. Safe to call more than once. The once
// guard must not be reset here while Do still holds it; newFrame resets
// it before reuse.
func (f *Frame) Done() {
	f.once.Do(func() {
		if f.buf != nil {
			if cap(f.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(f.buf)
			}
			f.buf = nil
		}
		framePool.Put(f)
	})
}

func newFrame(payload []byte) *Frame {
	f := framePool.Get().(*Frame)
	f.once = sync.Once{}
	f.buf = bytebufferpool.Get()
	f.buf.B = append(f.buf.B[:0], payload...)
	return f
}

// Conn is one live transport connection owned by a client identity. The
// transport layer drains Out and writes frames to the socket.
type Conn struct {
	ID       string
	ClientID string

	out     chan *Frame
	reg     *Registry
	closed  atomic.Bool
	dropped uint64
}

// Out returns the channel of staged outbound frames. It is closed when
// the connection is unregistered.
func (c *Conn) Out() <-chan *Frame { return c.out }

// Dropped returns how many frames were discarded because the buffer was
// full.
func (c *Conn) Dropped() uint64 { return atomic.LoadUint64(&c.dropped) }

// push stages a frame without blocking. A slow consumer loses frames
// rather than stalling the bus; drops are counted.
func (c *Conn) push(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	f := newFrame(payload)
	select {
	case c.out <- f:
		return true
	default:
		f.Done()
		atomic.AddUint64(&c.dropped, 1)
		return false
	}
}
