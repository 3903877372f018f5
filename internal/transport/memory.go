package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrBusClosed is returned by Publish after the bus has been closed.
var ErrBusClosed = errors.New("memory bus closed")

// Bus is an in-process broadcast channel. It backs the single-process
// dual-display mode (both screens driven from one box) and the tests.
// Each subscriber gets its own buffered queue drained by a dedicated
// goroutine, so delivery is asynchronous and per-sender ordering holds
// while a slow subscriber never blocks the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*busSub
	nextID int
	closed bool
}

type busSub struct {
	ch   chan []byte
	done chan struct{}
}

// NewBus creates an empty in-process bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*busSub)}
}

// Endpoint returns a Transport handle attached to the bus. Every handle
// hears every publication, including its own.
func (b *Bus) Endpoint() Transport {
	return &memTransport{bus: b}
}

// Close tears down the bus; all subscriber goroutines exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.done)
		delete(b.subs, id)
	}
}

func (b *Bus) publish(data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	targets := make([]*busSub, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- data:
		default:
			// Fire-and-forget: a full queue drops the message.
			log.Debug().Msg("memory bus subscriber queue full, dropping message")
		}
	}
	return nil
}

func (b *Bus) subscribe(fn Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	s := &busSub{
		ch:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	go func() {
		for {
			select {
			case <-s.done:
				return
			case data := <-s.ch:
				fn(data)
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[id]; ok && cur == s {
			close(s.done)
			delete(b.subs, id)
		}
	}
	return cancel, nil
}

type memTransport struct {
	bus *Bus
}

func (t *memTransport) Publish(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.bus.publish(data)
}

func (t *memTransport) Subscribe(fn Handler) (func(), error) {
	return t.bus.subscribe(fn)
}

func (t *memTransport) Ready() bool {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	return !t.bus.closed
}

func (t *memTransport) Close() error {
	return nil
}
