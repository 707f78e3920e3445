package audio

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by writes to a closed buffer.
var ErrClosed = errors.New("audio buffer closed")

// ringBuffer is a bounded byte queue between the decode loop and the device.
// Write blocks while the buffer is full; Read never blocks so the device
// callback is not stalled.
type ringBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	r      int // read index
	n      int // bytes queued
	closed bool
}

func newRingBuffer(size int) *ringBuffer {
	if size < 1 {
		size = 1
	}
	rb := &ringBuffer{buf: make([]byte, size)}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Write queues all of p, waiting for the reader to make room as needed.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for len(p) > 0 {
		for rb.n == len(rb.buf) && !rb.closed {
			rb.cond.Wait()
		}
		if rb.closed {
			return written, ErrClosed
		}

		w := (rb.r + rb.n) % len(rb.buf)
		space := len(rb.buf) - rb.n
		chunk := min(len(p), space, len(rb.buf)-w)
		copy(rb.buf[w:], p[:chunk])
		rb.n += chunk
		written += chunk
		p = p[chunk:]
	}
	return written, nil
}

// Read drains up to len(p) queued bytes. An empty open buffer yields (0, nil).
func (rb *ringBuffer) Read(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n == 0 {
		if rb.closed {
			return 0, io.EOF
		}
		return 0, nil
	}

	read := 0
	for read < len(p) && rb.n > 0 {
		chunk := min(len(p)-read, rb.n, len(rb.buf)-rb.r)
		copy(p[read:], rb.buf[rb.r:rb.r+chunk])
		rb.r = (rb.r + chunk) % len(rb.buf)
		rb.n -= chunk
		read += chunk
	}
	rb.cond.Broadcast()
	return read, nil
}

// Seek discards everything queued. It exists so oto resets its own buffer
// when the player is seeked.
func (rb *ringBuffer) Seek(offset int64, whence int) (int64, error) {
	rb.Reset()
	return 0, nil
}

// Reset discards everything queued and wakes blocked writers.
func (rb *ringBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.r, rb.n = 0, 0
	rb.cond.Broadcast()
}

// Len returns the number of queued bytes.
func (rb *ringBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}

// Close unblocks writers; queued bytes remain readable.
func (rb *ringBuffer) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
	return nil
}
