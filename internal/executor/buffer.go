package executor

import "sync"

// boundedBuffer keeps the first max bytes written to it and drops the
// rest. Safe for concurrent use; the child's stderr pipe writes from a
// different goroutine than the one reading the excerpt.
type boundedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{buf: make([]byte, 0, max), max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	if rem := b.max - len(b.buf); rem > 0 {
		if len(p) > rem {
			b.buf = append(b.buf, p[:rem]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	b.mu.Unlock()
	return len(p), nil
}

// Excerpt returns up to n leading bytes of the captured output.
func (b *boundedBuffer) Excerpt(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) > n {
		return string(b.buf[:n])
	}
	return string(b.buf)
}
