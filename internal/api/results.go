package api

import (
	"sync"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
)

// ResultBuffer keeps the most recent send results in a fixed-size ring.
// Add is the dispatch result handler.
type ResultBuffer struct {
	mu    sync.RWMutex
	buf   []domain.SendResult
	next  int
	full  bool
	total int64
}

// NewResultBuffer creates a ring holding up to size results.
func NewResultBuffer(size int) *ResultBuffer {
	if size < 1 {
		size = 1
	}
	return &ResultBuffer{buf: make([]domain.SendResult, size)}
}

// Add stores r, evicting the oldest result when full.
func (b *ResultBuffer) Add(r domain.SendResult) {
	b.mu.Lock()
	b.buf[b.next] = r
	b.next = (b.next + 1) % len(b.buf)
	if b.next == 0 {
		b.full = true
	}
	b.total++
	b.mu.Unlock()
}

// Recent returns up to n results, oldest first. n <= 0 returns everything
// held.
func (b *ResultBuffer) Recent(n int) []domain.SendResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]domain.SendResult, n)
	start := b.next - n
	if start < 0 {
		start += len(b.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = b.buf[(start+i)%len(b.buf)]
	}
	return out
}

// Total is the number of results ever added.
func (b *ResultBuffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
