// Package stream fans domain notices out to live subscribers such as SSE clients.
package stream

import (
	"context"
	"sync"

	"campushub.org/internal/eventbus"
	"campushub.org/internal/obs"
)

const bufferSize = 16

type subscriber struct {
	ch chan eventbus.Notice
	// events restricts delivery to these event ids; empty means all.
	events map[string]struct{}
}

func (s subscriber) wants(n eventbus.Notice) bool {
	if len(s.events) == 0 {
		return true
	}
	_, ok := s.events[n.EventID]
	return ok
}

// Stream delivers notices to every matching subscriber without ever blocking
// the publisher. A subscriber whose buffer is full misses the notice.
type Stream struct {
	mu   sync.RWMutex
	subs map[uint64]subscriber
	seq  uint64
}

var _ eventbus.Publisher = (*Stream)(nil)

func New() *Stream {
	return &Stream{subs: make(map[uint64]subscriber)}
}

// Subscribe returns a channel of notices for the given event ids, or for all
// events when none are given. The channel is closed once ctx ends.
func (s *Stream) Subscribe(ctx context.Context, eventIDs ...string) <-chan eventbus.Notice {
	sub := subscriber{ch: make(chan eventbus.Notice, bufferSize)}
	if len(eventIDs) > 0 {
		sub.events = make(map[string]struct{}, len(eventIDs))
		for _, id := range eventIDs {
			sub.events[id] = struct{}{}
		}
	}

	s.mu.Lock()
	s.seq++
	key := s.seq
	s.subs[key] = sub
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
		// removed under the write lock, so no Publish still holds sub.ch
		close(sub.ch)
	}()
	return sub.ch
}

func (s *Stream) Publish(_ context.Context, n eventbus.Notice) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.wants(n) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			obs.ObserveStreamDrop()
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
