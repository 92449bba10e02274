package realtime

import (
	"context"
	"errors"
	"sync"

	"collab-service/internal/models"
)

// ErrBusClosed is returned after Close.
var ErrBusClosed = errors.New("bus closed")

// Envelope is a server frame addressed to every connection attached to a room.
// Connections whose id equals OriginConnID are skipped.
type Envelope struct {
	RoomID       string             `json:"room_id"`
	OriginConnID string             `json:"origin_conn_id,omitempty"`
	Frame        models.ServerFrame `json:"frame"`
}

// Bus fans room envelopes out to every service instance.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

// LocalBus is an in-process Bus for single-instance deployments and tests.
// Publish waits for every subscriber to accept the envelope, so a
// subscriber must keep draining its channel.
type LocalBus struct {
	mu        sync.RWMutex
	subs      []*localSub
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

type localSub struct {
	ch   chan Envelope
	done chan struct{}
}

const localSubBuffer = 256

// NewLocalBus constructs an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{done: make(chan struct{})}
}

// Publish delivers env to every subscriber. It returns early only when ctx
// ends or the bus closes.
func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- env:
		case <-sub.done:
		case <-b.done:
			return ErrBusClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a new subscriber; the channel closes when ctx ends or the bus closes.
func (b *LocalBus) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &localSub{ch: make(chan Envelope, localSubBuffer), done: make(chan struct{})}
	b.subs = append(b.subs, sub)

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		// release blocked publishers before taking the write lock
		close(sub.done)
		b.remove(sub)
	}()
	return sub.ch, nil
}

func (b *LocalBus) remove(target *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close closes every subscriber channel.
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	return nil
}
