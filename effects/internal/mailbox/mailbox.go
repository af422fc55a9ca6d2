// Package mailbox provides the unbounded inbox that feeds the scheduler loop.
package mailbox

import "sync"

// Mailbox is a multi-producer, single-consumer FIFO. Push never blocks, so
// producers running on the consumer goroutine cannot deadlock it.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed chan struct{}
	isShut bool
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Push appends v. It reports false once the mailbox is closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.isShut {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain takes every queued item in push order.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Signal fires after at least one Push since the last receive.
func (m *Mailbox[T]) Signal() <-chan struct{} { return m.signal }

// Closed is closed by Close.
func (m *Mailbox[T]) Closed() <-chan struct{} { return m.closed }

// Close rejects further pushes. Items already queued can still be drained.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isShut {
		return
	}
	m.isShut = true
	close(m.closed)
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
