package stream

import (
	"context"
	"sync"
)

// Subject multicasts values to every current subscriber. A replaying subject
// hands its latest value to each new subscriber before any later value.
type Subject[T any] struct {
	mu     sync.Mutex
	replay bool
	has    bool
	latest T
	subs   map[*Subscription[T]]struct{}
	ended  bool
	err    error
}

// NewSubject returns a subject that only delivers values published after subscription.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[*Subscription[T]]struct{})}
}

// NewBehaviorSubject returns a replaying subject seeded with an initial value.
func NewBehaviorSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		replay: true,
		has:    true,
		latest: initial,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

func newReplaySubject[T any]() *Subject[T] {
	return &Subject[T]{replay: true, subs: make(map[*Subscription[T]]struct{})}
}

func (s *Subject[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return s.subscribe(ctx, nil)
}

func (s *Subject[T]) subscribe(ctx context.Context, onRelease func()) *Subscription[T] {
	sub := newSubscription[T]()

	s.mu.Lock()
	if s.ended {
		err := s.err
		s.mu.Unlock()
		sub.finish(err)
		if onRelease != nil {
			sub.setTeardown(onRelease)
		}
		return sub
	}
	if s.replay && s.has {
		sub.push(s.latest)
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.setTeardown(func() {
		s.remove(sub)
		if onRelease != nil {
			onRelease()
		}
	})
	sub.bind(ctx)
	return sub
}

func (s *Subject[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Next publishes a value to all subscribers.
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.latest = v
	s.has = true
	for sub := range s.subs {
		sub.push(v)
	}
}

// Value returns the latest published value.
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

// Error terminates the subject; subscribers drain and then observe err.
func (s *Subject[T]) Error(err error) {
	s.end(err)
}

// Complete terminates the subject without an error.
func (s *Subject[T]) Complete() {
	s.end(nil)
}

func (s *Subject[T]) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	for sub := range s.subs {
		sub.finish(err)
	}
	clear(s.subs)
}

// SubscriberCount reports the number of live subscribers.
func (s *Subject[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
