// Package ephemeral owns the session-scoped action history and broadcasts
// every change to it.
package ephemeral

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"welcome/internal/action"
	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
	"welcome/internal/logger"
	"welcome/internal/stream"
)

var (
	ErrClosed    = errors.New("ephemeral state broadcaster closed")
	ErrMissingID = apperrors.New(apperrors.CodeInvalidArgument, "action id must not be empty")
)

// State is the in-memory, per-session state.
type State struct {
	Actions action.History
}

type transition struct {
	name  string
	id    action.ID
	apply func(State) (State, error)
	reply chan error
}

// Broadcaster serializes mutations of one State through a single worker, so
// mutations are applied one at a time in arrival order.
type Broadcaster struct {
	logger   *zap.Logger
	subject  *stream.Subject[State]
	requests chan transition
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

func New(l *zap.Logger) *Broadcaster {
	b := &Broadcaster{
		logger:   logger.OrNop(l),
		subject:  stream.NewBehaviorSubject(State{}),
		requests: make(chan transition),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.run()
	return b
}

// State returns the current snapshot.
func (b *Broadcaster) State() State {
	s, _ := b.subject.Value()
	return s
}

// Observe emits the current state first, then every state after a successful mutation.
func (b *Broadcaster) Observe() stream.Observable[State] {
	return b.subject
}

func (b *Broadcaster) AddAction(ctx context.Context, record action.Record) error {
	if record.ID == "" {
		return ErrMissingID
	}
	return b.do(ctx, transition{
		name: "add",
		id:   record.ID,
		apply: func(s State) (State, error) {
			return State{Actions: s.Actions.Append(record)}, nil
		},
	})
}

func (b *Broadcaster) SucceedAction(ctx context.Context, id action.ID, tx blockchain.FinalizedTxData) error {
	return b.do(ctx, transition{
		name: "succeed",
		id:   id,
		apply: func(s State) (State, error) {
			h, err := s.Actions.Succeed(id, tx)
			return State{Actions: h}, err
		},
	})
}

func (b *Broadcaster) FailAction(ctx context.Context, id action.ID, message string, partial *blockchain.FinalizedTxData) error {
	return b.do(ctx, transition{
		name: "fail",
		id:   id,
		apply: func(s State) (State, error) {
			h, err := s.Actions.Fail(id, message, partial)
			return State{Actions: h}, err
		},
	})
}

// Close stops the worker and completes Observe subscribers.
func (b *Broadcaster) Close() {
	b.once.Do(func() {
		close(b.quit)
		<-b.stopped
	})
}

func (b *Broadcaster) do(ctx context.Context, t transition) error {
	t.reply = make(chan error, 1)
	select {
	case b.requests <- t:
	case <-b.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// accepted requests are always answered
	return <-t.reply
}

func (b *Broadcaster) run() {
	defer close(b.stopped)
	for {
		select {
		case t := <-b.requests:
			current, _ := b.subject.Value()
			next, err := t.apply(current)
			if err != nil {
				b.logger.Warn("ephemeral state transition rejected", zap.String("transition", t.name), zap.String("actionId", string(t.id)), zap.Error(err))
				t.reply <- err
				continue
			}
			b.subject.Next(next)
			if r, ok := next.Actions.Get(t.id); ok {
				b.logger.Info("ephemeral state updated",
					zap.String("transition", t.name),
					zap.String("actionId", string(r.ID)),
					zap.String("action", string(r.Action)),
					zap.String("status", string(r.Status)),
					zap.Int("actions", next.Actions.Len()),
				)
			}
			t.reply <- nil
		case <-b.quit:
			b.subject.Complete()
			return
		}
	}
}
