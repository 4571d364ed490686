package stream

import (
	"context"
	"sync"
)

// Create builds a lazy observable. Every subscription runs produce in its own
// goroutine with a context that is cancelled on unsubscribe. Returning a
// non-nil error terminates the subscription with that error.
func Create[T any](produce func(ctx context.Context, emit func(T)) error) Observable[T] {
	return Func[T](func(ctx context.Context) *Subscription[T] {
		if ctx == nil {
			ctx = context.Background()
		}
		sub := newSubscription[T]()
		runCtx, cancel := context.WithCancel(ctx)
		sub.setTeardown(cancel)
		sub.bind(ctx)
		go func() {
			defer cancel()
			err := produce(runCtx, func(v T) { sub.push(v) })
			sub.finish(err)
		}()
		return sub
	})
}

// Map transforms every value. An error from fn terminates the stream.
func Map[T, U any](src Observable[T], fn func(T) (U, error)) Observable[U] {
	return Create(func(ctx context.Context, emit func(U)) error {
		in := src.Subscribe(ctx)
		defer in.Unsubscribe()
		for v := range in.Values() {
			u, err := fn(v)
			if err != nil {
				return err
			}
			emit(u)
		}
		return in.Err()
	})
}

// Filter forwards the values accepted by keep.
func Filter[T any](src Observable[T], keep func(T) bool) Observable[T] {
	return Create(func(ctx context.Context, emit func(T)) error {
		in := src.Subscribe(ctx)
		defer in.Unsubscribe()
		for v := range in.Values() {
			if keep(v) {
				emit(v)
			}
		}
		return in.Err()
	})
}

// DistinctUntilChanged drops values equal to the previously forwarded one.
func DistinctUntilChanged[T any](src Observable[T], equal func(a, b T) bool) Observable[T] {
	return Create(func(ctx context.Context, emit func(T)) error {
		in := src.Subscribe(ctx)
		defer in.Unsubscribe()
		var (
			last T
			seen bool
		)
		for v := range in.Values() {
			if seen && equal(last, v) {
				continue
			}
			last, seen = v, true
			emit(v)
		}
		return in.Err()
	})
}

// CombineLatest3 emits combine(a, b, c) whenever any input produces a value,
// once all three inputs have produced at least one.
func CombineLatest3[A, B, C, R any](a Observable[A], b Observable[B], c Observable[C], combine func(A, B, C) R) Observable[R] {
	return Create(func(ctx context.Context, emit func(R)) error {
		sa := a.Subscribe(ctx)
		defer sa.Unsubscribe()
		sb := b.Subscribe(ctx)
		defer sb.Unsubscribe()
		sc := c.Subscribe(ctx)
		defer sc.Unsubscribe()

		var (
			va         A
			vb         B
			vc         C
			ha, hb, hc bool
		)
		ca, cb, cc := sa.Values(), sb.Values(), sc.Values()
		for ca != nil || cb != nil || cc != nil {
			select {
			case v, ok := <-ca:
				if !ok {
					if err := sa.Err(); err != nil || !ha {
						return err
					}
					ca = nil
					continue
				}
				va, ha = v, true
			case v, ok := <-cb:
				if !ok {
					if err := sb.Err(); err != nil || !hb {
						return err
					}
					cb = nil
					continue
				}
				vb, hb = v, true
			case v, ok := <-cc:
				if !ok {
					if err := sc.Err(); err != nil || !hc {
						return err
					}
					cc = nil
					continue
				}
				vc, hc = v, true
			case <-ctx.Done():
				return nil
			}
			if ha && hb && hc {
				emit(combine(va, vb, vc))
			}
		}
		return nil
	})
}

// Share multicasts src through a single upstream subscription. New subscribers
// receive the latest value first. The upstream subscription is opened by the
// first subscriber and released, together with the cached value, when the last
// one leaves. An upstream error resets the share so the next subscriber
// resubscribes.
func Share[T any](src Observable[T]) Observable[T] {
	return &shared[T]{src: src}
}

type shared[T any] struct {
	src Observable[T]

	mu       sync.Mutex
	subject  *Subject[T]
	upstream *Subscription[T]
	refs     int
}

func (s *shared[T]) Subscribe(ctx context.Context) *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subject == nil {
		subject := newReplaySubject[T]()
		upstream := s.src.Subscribe(context.Background())
		s.subject = subject
		s.upstream = upstream
		go s.forward(subject, upstream)
	}
	s.refs++
	subject := s.subject
	return subject.subscribe(ctx, func() { s.release(subject) })
}

func (s *shared[T]) forward(subject *Subject[T], upstream *Subscription[T]) {
	for v := range upstream.Values() {
		subject.Next(v)
	}
	err := upstream.Err()

	// an ended upstream is resubscribed by the next subscriber
	s.mu.Lock()
	if s.subject == subject {
		s.subject = nil
		s.upstream = nil
		s.refs = 0
	}
	s.mu.Unlock()

	if err != nil {
		subject.Error(err)
		return
	}
	subject.Complete()
}

func (s *shared[T]) release(subject *Subject[T]) {
	s.mu.Lock()
	if s.subject != subject {
		s.mu.Unlock()
		return
	}
	s.refs--
	var upstream *Subscription[T]
	if s.refs <= 0 {
		upstream = s.upstream
		s.subject = nil
		s.upstream = nil
		s.refs = 0
	}
	s.mu.Unlock()

	if upstream != nil {
		upstream.Unsubscribe()
	}
}

// WaitFor returns the first value accepted by pred.
func WaitFor[T any](ctx context.Context, src Observable[T], pred func(T) bool) (T, error) {
	var zero T
	sub := src.Subscribe(ctx)
	defer sub.Unsubscribe()
	for {
		select {
		case v, ok := <-sub.Values():
			if !ok {
				if err := sub.Err(); err != nil {
					return zero, err
				}
				if err := ctx.Err(); err != nil {
					return zero, err
				}
				return zero, ErrCompleted
			}
			if pred(v) {
				return v, nil
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// First returns the first value of src.
func First[T any](ctx context.Context, src Observable[T]) (T, error) {
	return WaitFor(ctx, src, func(T) bool { return true })
}
