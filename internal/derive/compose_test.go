package derive

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welcome/internal/stream"
)

type view struct {
	Members int
	Name    string
	Stamp   int
}

// counted tracks how many subscriptions are open on src.
type counted[T any] struct {
	src  stream.Observable[T]
	open atomic.Int32
	made atomic.Int32
}

func (c *counted[T]) Subscribe(ctx context.Context) *stream.Subscription[T] {
	c.made.Add(1)
	c.open.Add(1)
	return stream.Create(func(ctx context.Context, emit func(T)) error {
		defer c.open.Add(-1)
		in := c.src.Subscribe(ctx)
		defer in.Unsubscribe()
		for v := range in.Values() {
			emit(v)
		}
		return in.Err()
	}).Subscribe(ctx)
}

type fixture struct {
	ledger    *stream.Subject[int]
	private   *stream.Subject[string]
	ephemeral *stream.Subject[int]
	counted   *counted[int]
	out       stream.Observable[view]
}

func newFixture() *fixture {
	f := &fixture{
		ledger:    stream.NewBehaviorSubject(1),
		private:   stream.NewBehaviorSubject("alice"),
		ephemeral: stream.NewBehaviorSubject(0),
	}
	f.counted = &counted[int]{src: f.ledger}
	f.out = Compose(nil, f.counted, f.private, f.ephemeral,
		func(members int, name string, stamp int) view {
			return view{Members: members, Name: name, Stamp: stamp}
		},
		// stamps do not take part in equality
		func(a, b view) bool { return a.Members == b.Members && a.Name == b.Name },
	)
	return f
}

func next(t *testing.T, sub *stream.Subscription[view]) view {
	t.Helper()
	select {
	case v, ok := <-sub.Values():
		require.True(t, ok, "stream ended: %v", sub.Err())
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for derived state")
	}
	return view{}
}

func quiet(t *testing.T, sub *stream.Subscription[view]) {
	t.Helper()
	select {
	case v := <-sub.Values():
		t.Fatalf("unexpected emission %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestComposeWaitsForAllInputs(t *testing.T) {
	ledger := stream.NewSubject[int]()
	private := stream.NewBehaviorSubject("alice")
	ephemeral := stream.NewBehaviorSubject(0)
	out := Compose(nil, ledger, private, ephemeral,
		func(m int, n string, s int) view { return view{m, n, s} },
		func(a, b view) bool { return a == b },
	)

	sub := out.Subscribe(context.Background())
	defer sub.Unsubscribe()
	quiet(t, sub)

	require.Eventually(t, func() bool { return ledger.SubscriberCount() == 1 }, time.Second, time.Millisecond)
	ledger.Next(3)
	assert.Equal(t, view{3, "alice", 0}, next(t, sub))
}

func TestComposeRecomputesOnAnyInputAndDedups(t *testing.T) {
	f := newFixture()
	sub := f.out.Subscribe(context.Background())
	defer sub.Unsubscribe()

	assert.Equal(t, view{1, "alice", 0}, next(t, sub))

	f.ephemeral.Next(5)
	quiet(t, sub)

	f.private.Next("bob")
	assert.Equal(t, view{1, "bob", 5}, next(t, sub))

	f.ledger.Next(2)
	assert.Equal(t, view{2, "bob", 5}, next(t, sub))
}

func TestComposeSharesUpstreamAndReplaysLatest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.out.Subscribe(ctx)
	defer first.Unsubscribe()
	assert.Equal(t, view{1, "alice", 0}, next(t, first))

	f.ledger.Next(2)
	assert.Equal(t, 2, next(t, first).Members)
	f.ledger.Next(3)
	assert.Equal(t, 3, next(t, first).Members)

	second := f.out.Subscribe(ctx)
	defer second.Unsubscribe()
	assert.Equal(t, view{3, "alice", 0}, next(t, second))

	assert.Equal(t, int32(1), f.counted.made.Load())
	assert.Equal(t, int32(1), f.counted.open.Load())

	f.private.Next("carol")
	assert.Equal(t, "carol", next(t, first).Name)
	assert.Equal(t, "carol", next(t, second).Name)
}

func TestComposeTearsDownAfterLastSubscriber(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := f.out.Subscribe(ctx)
	b := f.out.Subscribe(ctx)
	next(t, a)
	next(t, b)

	a.Unsubscribe()
	assert.Equal(t, int32(1), f.counted.open.Load())

	b.Unsubscribe()
	assert.Eventually(t, func() bool {
		return f.counted.open.Load() == 0 &&
			f.private.SubscriberCount() == 0 &&
			f.ephemeral.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	c := f.out.Subscribe(ctx)
	defer c.Unsubscribe()
	assert.Equal(t, view{1, "alice", 0}, next(t, c))
	assert.Equal(t, int32(2), f.counted.made.Load())
}

func TestComposePropagatesInputErrors(t *testing.T) {
	f := newFixture()
	sub := f.out.Subscribe(context.Background())
	next(t, sub)

	f.private.Error(assert.AnError)
	for range sub.Values() {
	}
	assert.ErrorIs(t, sub.Err(), assert.AnError)
}
