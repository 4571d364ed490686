package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func next[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.Values():
		require.True(t, ok, "stream closed unexpectedly: %v", sub.Err())
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func expectNothing[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	select {
	case v, ok := <-sub.Values():
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed[T any](t *testing.T, sub *Subscription[T]) {
	t.Helper()
	select {
	case _, ok := <-sub.Values():
		require.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
	}
}

func TestBehaviorSubjectReplaysLatest(t *testing.T) {
	s := NewBehaviorSubject(1)
	s.Next(2)

	sub := s.Subscribe(context.Background())
	defer sub.Unsubscribe()

	assert.Equal(t, 2, next(t, sub))
	s.Next(3)
	assert.Equal(t, 3, next(t, sub))
}

func TestSubjectDoesNotReplay(t *testing.T) {
	s := NewSubject[int]()
	s.Next(1)

	sub := s.Subscribe(context.Background())
	defer sub.Unsubscribe()

	expectNothing(t, sub)
	s.Next(2)
	assert.Equal(t, 2, next(t, sub))
}

func TestSlowSubscriberKeepsOrder(t *testing.T) {
	s := NewSubject[int]()
	sub := s.Subscribe(context.Background())
	defer sub.Unsubscribe()

	for i := range 100 {
		s.Next(i)
	}
	for i := range 100 {
		assert.Equal(t, i, next(t, sub))
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	s := NewSubject[int]()
	sub := s.Subscribe(context.Background())
	require.Equal(t, 1, s.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, s.SubscriberCount())
	expectClosed(t, sub)
}

func TestContextCancelUnsubscribes(t *testing.T) {
	s := NewSubject[int]()
	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx)
	cancel()

	expectClosed(t, sub)
	assert.Eventually(t, func() bool { return s.SubscriberCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestSubjectErrorDrainsThenFails(t *testing.T) {
	s := NewSubject[int]()
	sub := s.Subscribe(context.Background())
	boom := errors.New("boom")

	s.Next(1)
	s.Error(boom)

	assert.Equal(t, 1, next(t, sub))
	expectClosed(t, sub)
	assert.ErrorIs(t, sub.Err(), boom)

	late := s.Subscribe(context.Background())
	expectClosed(t, late)
	assert.ErrorIs(t, late.Err(), boom)
}

func TestCreateIsLazyAndCancelledOnUnsubscribe(t *testing.T) {
	var started, stopped atomic.Int32
	src := Create(func(ctx context.Context, emit func(int)) error {
		started.Add(1)
		defer stopped.Add(1)
		emit(42)
		<-ctx.Done()
		return nil
	})

	assert.Equal(t, int32(0), started.Load())

	sub := src.Subscribe(context.Background())
	assert.Equal(t, 42, next(t, sub))
	sub.Unsubscribe()

	assert.Eventually(t, func() bool { return stopped.Load() == 1 }, waitTimeout, 5*time.Millisecond)
}

func TestMapFilterDistinct(t *testing.T) {
	s := NewSubject[int]()
	src := DistinctUntilChanged(
		Map(Filter(Observable[int](s), func(v int) bool { return v >= 0 }), func(v int) (int, error) { return v / 10, nil }),
		func(a, b int) bool { return a == b },
	)

	sub := src.Subscribe(context.Background())
	defer sub.Unsubscribe()
	assert.Eventually(t, func() bool { return s.SubscriberCount() == 1 }, waitTimeout, 5*time.Millisecond)

	for _, v := range []int{10, 11, -5, 12, 25, 29, 10} {
		s.Next(v)
	}
	assert.Equal(t, 1, next(t, sub))
	assert.Equal(t, 2, next(t, sub))
	assert.Equal(t, 1, next(t, sub))
	expectNothing(t, sub)
}

func TestMapErrorTerminates(t *testing.T) {
	boom := errors.New("decode")
	s := NewBehaviorSubject(1)
	sub := Map(Observable[int](s), func(int) (string, error) { return "", boom }).Subscribe(context.Background())

	expectClosed(t, sub)
	assert.ErrorIs(t, sub.Err(), boom)
}

func TestCombineLatest3WaitsForAllInputs(t *testing.T) {
	a := NewSubject[int]()
	b := NewSubject[string]()
	c := NewBehaviorSubject(true)

	src := CombineLatest3(Observable[int](a), Observable[string](b), Observable[bool](c), func(x int, y string, z bool) []any {
		return []any{x, y, z}
	})
	sub := src.Subscribe(context.Background())
	defer sub.Unsubscribe()
	assert.Eventually(t, func() bool { return a.SubscriberCount() == 1 && b.SubscriberCount() == 1 }, waitTimeout, 5*time.Millisecond)

	a.Next(1)
	expectNothing(t, sub)
	b.Next("x")
	assert.Equal(t, []any{1, "x", true}, next(t, sub))
	c.Next(false)
	assert.Equal(t, []any{1, "x", false}, next(t, sub))
	a.Next(2)
	assert.Equal(t, []any{2, "x", false}, next(t, sub))
}

func TestCombineLatest3PropagatesError(t *testing.T) {
	a := NewBehaviorSubject(1)
	b := NewBehaviorSubject(2)
	c := NewSubject[int]()
	boom := errors.New("store down")

	sub := CombineLatest3(Observable[int](a), Observable[int](b), Observable[int](c), func(x, y, z int) int { return x + y + z }).
		Subscribe(context.Background())
	assert.Eventually(t, func() bool { return c.SubscriberCount() == 1 }, waitTimeout, 5*time.Millisecond)

	c.Error(boom)
	expectClosed(t, sub)
	assert.ErrorIs(t, sub.Err(), boom)
}

func TestShareUsesSingleUpstreamAndReplaysLatest(t *testing.T) {
	var subscriptions atomic.Int32
	upstream := NewSubject[int]()
	counted := Func[int](func(ctx context.Context) *Subscription[int] {
		subscriptions.Add(1)
		return upstream.Subscribe(ctx)
	})
	shared := Share[int](counted)

	first := shared.Subscribe(context.Background())
	upstream.Next(1)
	upstream.Next(2)
	assert.Equal(t, 1, next(t, first))
	assert.Equal(t, 2, next(t, first))

	second := shared.Subscribe(context.Background())
	assert.Equal(t, 2, next(t, second))
	expectNothing(t, second)

	upstream.Next(3)
	assert.Equal(t, 3, next(t, first))
	assert.Equal(t, 3, next(t, second))
	assert.Equal(t, int32(1), subscriptions.Load())
	assert.Equal(t, 1, upstream.SubscriberCount())

	first.Unsubscribe()
	assert.Equal(t, 1, upstream.SubscriberCount())
	second.Unsubscribe()
	assert.Equal(t, 0, upstream.SubscriberCount())

	third := shared.Subscribe(context.Background())
	defer third.Unsubscribe()
	expectNothing(t, third)
	assert.Equal(t, int32(2), subscriptions.Load())
}

func TestShareResetsAfterError(t *testing.T) {
	var subscriptions atomic.Int32
	boom := errors.New("boom")
	src := Create(func(ctx context.Context, emit func(int)) error {
		if subscriptions.Add(1) == 1 {
			return boom
		}
		emit(7)
		<-ctx.Done()
		return nil
	})
	shared := Share(src)

	failed := shared.Subscribe(context.Background())
	expectClosed(t, failed)
	assert.ErrorIs(t, failed.Err(), boom)

	assert.Eventually(t, func() bool {
		sub := shared.Subscribe(context.Background())
		defer sub.Unsubscribe()
		select {
		case v, ok := <-sub.Values():
			return ok && v == 7
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, waitTimeout, 10*time.Millisecond)
}

func TestShareResetsAfterCompletion(t *testing.T) {
	var subscriptions atomic.Int32
	src := Create(func(ctx context.Context, emit func(int)) error {
		emit(int(subscriptions.Add(1)))
		return nil
	})
	sh := Share(src)

	first := sh.Subscribe(context.Background())
	assert.Equal(t, 1, next(t, first))
	expectClosed(t, first)
	require.NoError(t, first.Err())

	assert.Eventually(t, func() bool {
		sub := sh.Subscribe(context.Background())
		defer sub.Unsubscribe()
		select {
		case v, ok := <-sub.Values():
			return ok && v > 1
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, waitTimeout, 10*time.Millisecond)

	state := sh.(*shared[int])
	state.mu.Lock()
	defer state.mu.Unlock()
	assert.Equal(t, 0, state.refs)
}

func TestWaitFor(t *testing.T) {
	s := NewBehaviorSubject(0)
	go func() {
		for i := 1; i <= 5; i++ {
			s.Next(i)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	v, err := WaitFor(ctx, Observable[int](s), func(v int) bool { return v == 5 })
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	first, err := First(ctx, Observable[int](s))
	require.NoError(t, err)
	assert.Equal(t, 5, first)
}

func TestWaitForCompletedAndCancelled(t *testing.T) {
	s := NewSubject[int]()
	s.Complete()
	_, err := First(context.Background(), Observable[int](s))
	assert.ErrorIs(t, err, ErrCompleted)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = First(ctx, Observable[int](NewSubject[int]()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
