package privatestate

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	apperrors "welcome/internal/errors"
	"welcome/internal/logger"
	"welcome/internal/stream"
)

// RetryPolicy bounds the re-reads performed by a watch after a failed read.
// The n-th retry, counting from 1, waits rand() * BaseDelay * 2^n.
type RetryPolicy struct {
	Retries   uint
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 15, BaseDelay: 5 * time.Millisecond}
}

type jitterBackOff struct {
	base    time.Duration
	attempt int
}

func (b *jitterBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(rand.Float64() * float64(b.base) * math.Pow(2, float64(b.attempt)))
}

func (b *jitterBackOff) Reset() {
	b.attempt = 0
}

// Notifier wraps a Provider and broadcasts a notification after every
// successful mutation. Watchers re-read their key on every notification,
// whichever key was mutated.
type Notifier[V any] struct {
	logger        *zap.Logger
	wrapped       Provider[V]
	policy        RetryPolicy
	notifications *stream.Subject[struct{}]
}

func NewNotifier[V any](l *zap.Logger, wrapped Provider[V], policy RetryPolicy) *Notifier[V] {
	return &Notifier[V]{
		logger:        logger.OrNop(l),
		wrapped:       wrapped,
		policy:        policy,
		notifications: stream.NewSubject[struct{}](),
	}
}

func (n *Notifier[V]) Get(ctx context.Context, key string) (*V, error) {
	return n.wrapped.Get(ctx, key)
}

func (n *Notifier[V]) Set(ctx context.Context, key string, value V) error {
	if err := n.wrapped.Set(ctx, key, value); err != nil {
		return err
	}
	n.notify()
	return nil
}

func (n *Notifier[V]) Remove(ctx context.Context, key string) error {
	if err := n.wrapped.Remove(ctx, key); err != nil {
		return err
	}
	n.notify()
	return nil
}

func (n *Notifier[V]) Clear(ctx context.Context) error {
	if err := n.wrapped.Clear(ctx); err != nil {
		return err
	}
	n.notify()
	return nil
}

// Watch emits the value at key immediately and again after every mutation
// made through this notifier. A nil value means the key is absent. When a
// read keeps failing past the retry policy the stream ends with an error
// matching ErrTransientStore.
func (n *Notifier[V]) Watch(key string) stream.Observable[*V] {
	return stream.Create(func(ctx context.Context, emit func(*V)) error {
		// subscribe before the first read so no mutation falls in between
		notifications := n.notifications.Subscribe(ctx)
		defer notifications.Unsubscribe()

		v, err := n.read(ctx, key)
		if err != nil {
			return err
		}
		emit(v)

		for range notifications.Values() {
			v, err := n.read(ctx, key)
			if err != nil {
				return err
			}
			emit(v)
		}
		return nil
	})
}

func (n *Notifier[V]) read(ctx context.Context, key string) (*V, error) {
	v, err := backoff.Retry(ctx,
		func() (*V, error) {
			return n.wrapped.Get(ctx, key)
		},
		backoff.WithBackOff(&jitterBackOff{base: n.policy.BaseDelay}),
		backoff.WithMaxTries(n.policy.Retries+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			n.logger.Debug("private state read failed, retrying",
				zap.String("key", key),
				zap.Duration("retryDelay", delay),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.CodeTransientStore, ErrTransientStore.Message, err)
	}
	return v, nil
}

func (n *Notifier[V]) notify() {
	n.notifications.Next(struct{}{})
}
