// Package submit runs the write path of an action: record it, send its
// transaction and resolve it to success or failure.
package submit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"welcome/internal/action"
	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
	"welcome/internal/logger"
)

// Recorder receives the lifecycle of every submitted action.
type Recorder interface {
	AddAction(ctx context.Context, record action.Record) error
	SucceedAction(ctx context.Context, id action.ID, tx blockchain.FinalizedTxData) error
	FailAction(ctx context.Context, id action.ID, message string, partial *blockchain.FinalizedTxData) error
}

// BuildFunc builds the transaction for one action.
type BuildFunc func(ctx context.Context) (blockchain.UnsubmittedTx, error)

var ErrClosed = apperrors.New(apperrors.CodeUnexpected, "submission pipeline closed")

type Pipeline struct {
	logger   *zap.Logger
	recorder Recorder
	newID    func() action.ID

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(l *zap.Logger, recorder Recorder) *Pipeline {
	return &Pipeline{
		logger:   logger.OrNop(l),
		recorder: recorder,
		newID:    func() action.ID { return action.ID(uuid.NewString()) },
	}
}

// Submit records act as in progress and returns its id once observers can
// see it. The transaction is then built and submitted in the background and
// is not cancelled with ctx; its outcome is recorded against the id.
func (p *Pipeline) Submit(ctx context.Context, act action.Action, build BuildFunc) (action.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}

	id := p.newID()
	err := p.recorder.AddAction(ctx, action.Record{
		ID:        id,
		Action:    act,
		Status:    action.InProgress,
		StartedAt: time.Now(),
	})
	if err != nil {
		return "", err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(context.WithoutCancel(ctx), id, act, build)
	}()
	return id, nil
}

// Wait blocks until every submitted transaction has been resolved.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close rejects further submissions and waits for the pending ones.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, id action.ID, act action.Action, build BuildFunc) {
	tx, err := build(ctx)
	if err != nil {
		p.fail(ctx, id, err, nil)
		return
	}

	p.logger.Info("submitting transaction", zap.String("action", string(act)), zap.String("actionId", string(id)))
	finalized, err := tx.Submit(ctx)
	if err != nil {
		var surfaced *blockchain.FinalizedTxData
		if finalized.TxID != "" {
			surfaced = &finalized
		}
		p.fail(ctx, id, err, surfaced)
		return
	}
	p.logger.Info("transaction finalized",
		zap.String("circuitId", tx.CircuitID()),
		zap.String("status", string(finalized.Status)),
		zap.String("txId", finalized.TxID),
		zap.String("txHash", finalized.TxHash),
		zap.Uint64("blockHeight", finalized.BlockHeight),
	)

	if err := p.recorder.SucceedAction(ctx, id, finalized); err != nil {
		p.logger.Error("could not record action success", zap.String("actionId", string(id)), zap.Error(err))
	}
}

// fail records cause against id. Tx data carried by a CallTxFailedError wins
// over the data the submission returned next to the error.
func (p *Pipeline) fail(ctx context.Context, id action.ID, cause error, partial *blockchain.FinalizedTxData) {
	var failed *blockchain.CallTxFailedError
	if errors.As(cause, &failed) {
		tx := failed.FinalizedTxData
		partial = &tx
	}

	p.logger.Warn("action failed", zap.String("actionId", string(id)), zap.Error(cause))
	if err := p.recorder.FailAction(ctx, id, cause.Error(), partial); err != nil {
		p.logger.Error("could not record action failure", zap.String("actionId", string(id)), zap.Error(err))
	}
}
