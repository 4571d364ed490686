// Package stream provides push-based, multi-subscriber value streams.
//
// A Subscription delivers values in the order they were produced through an
// unbounded mailbox, so a slow reader never blocks the producer and never
// misses a value. Unsubscribing (or cancelling the context passed to
// Subscribe) releases whatever the source holds for that subscriber.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrCompleted is returned by the helpers when a stream ends before a value was found.
var ErrCompleted = errors.New("stream completed")

// Observable is a source of values that can be subscribed to many times.
type Observable[T any] interface {
	Subscribe(ctx context.Context) *Subscription[T]
}

// Func adapts a function to the Observable interface.
type Func[T any] func(ctx context.Context) *Subscription[T]

func (f Func[T]) Subscribe(ctx context.Context) *Subscription[T] {
	return f(ctx)
}

// Subscription is one subscriber's view of a stream.
type Subscription[T any] struct {
	out    chan T
	signal chan struct{}
	done   chan struct{}
	closed chan struct{}

	mu       sync.Mutex
	queue    []T
	finished bool
	err      error
	teardown func()

	once sync.Once
}

func newSubscription[T any]() *Subscription[T] {
	s := &Subscription[T]{
		out:    make(chan T),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Values is closed once the stream terminates or the subscription is released.
func (s *Subscription[T]) Values() <-chan T {
	return s.out
}

// Err reports the terminal error of the stream, if it failed.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe stops delivery and releases upstream resources. It is idempotent.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		teardown := s.teardown
		s.teardown = nil
		s.mu.Unlock()
		if teardown != nil {
			teardown()
		}
	})
}

func (s *Subscription[T]) setTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = fn
	s.mu.Unlock()
}

func (s *Subscription[T]) bind(ctx context.Context) {
	if ctx == nil || ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.done:
		case <-s.closed:
		}
	}()
}

func (s *Subscription[T]) push(v T) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		return false
	default:
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Subscription[T]) finish(err error) {
	s.mu.Lock()
	if !s.finished {
		s.finished = true
		s.err = err
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.closed)
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
