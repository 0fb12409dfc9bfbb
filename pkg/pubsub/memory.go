package pubsub

import (
	"context"
	"sync"
)

const listenerBuffer = 100

// MemoryBus connects fan-outs inside one process. It backs single-instance
// deployments and lets tests run several "processes" against one bus.
type MemoryBus struct {
	mu        sync.Mutex
	listeners map[*memoryListener]struct{}
	closed    bool
}

type memoryListener struct {
	ch   chan *Envelope
	done chan struct{}
	once sync.Once
}

func (l *memoryListener) stop() {
	l.once.Do(func() { close(l.done) })
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{listeners: make(map[*memoryListener]struct{})}
}

// Publish hands env to every listener. A listener whose buffer is full
// misses the envelope, as a slow Redis subscriber would.
func (m *MemoryBus) Publish(ctx context.Context, env *Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for l := range m.listeners {
		select {
		case l.ch <- env:
		default:
		}
	}
	return nil
}

// Listen registers a listener that lives until ctx is done or Close.
func (m *MemoryBus) Listen(ctx context.Context) (<-chan *Envelope, error) {
	l := &memoryListener{
		ch:   make(chan *Envelope, listenerBuffer),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.listeners[l] = struct{}{}
	m.mu.Unlock()

	out := make(chan *Envelope, listenerBuffer)
	go func() {
		defer close(out)
		defer m.remove(l)
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case env := <-l.ch:
				select {
				case out <- env:
				case <-ctx.Done():
					return
				case <-l.done:
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemoryBus) remove(l *memoryListener) {
	m.mu.Lock()
	delete(m.listeners, l)
	m.mu.Unlock()
}

// Close stops every listener. Publish and Listen fail afterwards.
func (m *MemoryBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for l := range m.listeners {
		l.stop()
	}
	return nil
}
