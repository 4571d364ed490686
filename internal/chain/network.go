// Package chain implements an in-process network that stores contract states
// in blocks and serves them to observers.
package chain

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
	"welcome/internal/logger"
	"welcome/internal/storage"
	"welcome/internal/stream"
)

var (
	ErrUnknownContract    = apperrors.New(apperrors.CodeNotFound, "unknown contract")
	ErrUnknownTransaction = apperrors.New(apperrors.CodeNotFound, "unknown transaction")
)

var _ blockchain.Network = (*Network)(nil)

type contract struct {
	states  []blockchain.ContractState
	changed chan struct{}
}

type Network struct {
	logger    *zap.Logger
	storage   storage.Storage
	blockTime time.Duration

	mu        sync.Mutex
	height    uint64
	contracts map[blockchain.ContractAddress]*contract
	deployed  chan struct{}
}

type Option func(*Network)

// WithStorage persists every contract state so contracts survive restarts.
func WithStorage(s storage.Storage) Option {
	return func(n *Network) {
		n.storage = s
	}
}

// WithBlockTime delays the inclusion of every transaction.
func WithBlockTime(d time.Duration) Option {
	return func(n *Network) {
		n.blockTime = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Network) {
		n.logger = l
	}
}

func New(opts ...Option) (*Network, error) {
	n := &Network{
		contracts: make(map[blockchain.ContractAddress]*contract),
		deployed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = logger.OrNop(n.logger)

	if n.storage != nil {
		if err := n.load(); err != nil {
			return nil, fmt.Errorf("load chain state: %w", err)
		}
	}
	return n, nil
}

func (n *Network) load() error {
	height, err := n.storage.GetBlockHeight()
	if err != nil {
		return err
	}
	n.height = uint64(height)

	addresses, err := n.storage.GetContractAddresses()
	if err != nil {
		return err
	}
	for _, address := range addresses {
		rows, err := n.storage.GetContractStates(address)
		if err != nil {
			return err
		}
		c := &contract{changed: make(chan struct{})}
		for _, row := range rows {
			c.states = append(c.states, blockchain.ContractState{
				Address:     blockchain.ContractAddress(row.Address),
				Data:        row.Data,
				TxID:        row.TxID,
				TxHash:      row.TxHash,
				BlockHeight: uint64(row.BlockHeight),
			})
		}
		n.contracts[blockchain.ContractAddress(address)] = c
	}

	n.logger.Info("chain state loaded", zap.Int("contracts", len(addresses)), zap.Uint64("blockHeight", n.height))
	return nil
}

// BlockHeight returns the height of the last produced block.
func (n *Network) BlockHeight() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

func (n *Network) Deploy(ctx context.Context, data []byte) (blockchain.FinalizedDeployTxData, error) {
	if err := n.awaitBlock(ctx); err != nil {
		return blockchain.FinalizedDeployTxData{}, err
	}

	address, err := randomAddress()
	if err != nil {
		return blockchain.FinalizedDeployTxData{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	state := n.nextState(address, data)
	if err := n.persist(state, 0); err != nil {
		return blockchain.FinalizedDeployTxData{}, err
	}
	n.height = state.BlockHeight
	n.contracts[address] = &contract{
		states:  []blockchain.ContractState{state},
		changed: make(chan struct{}),
	}
	close(n.deployed)
	n.deployed = make(chan struct{})

	n.logger.Info("contract deployed",
		zap.String("address", string(address)),
		zap.String("txId", state.TxID),
		zap.Uint64("blockHeight", state.BlockHeight),
	)
	return deployTxData(state), nil
}

func (n *Network) CallTx(address blockchain.ContractAddress, circuitID string, transition blockchain.Transition) blockchain.UnsubmittedTx {
	return &callTx{network: n, address: address, circuitID: circuitID, transition: transition}
}

func (n *Network) QueryContractState(_ context.Context, address blockchain.ContractAddress) (*blockchain.ContractState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.contracts[address]
	if !ok {
		return nil, nil
	}
	latest := c.states[len(c.states)-1]
	return &latest, nil
}

// WatchForDeployTxData waits until a contract is deployed at address.
func (n *Network) WatchForDeployTxData(ctx context.Context, address blockchain.ContractAddress) (blockchain.FinalizedDeployTxData, error) {
	for {
		n.mu.Lock()
		c, ok := n.contracts[address]
		deployed := n.deployed
		n.mu.Unlock()
		if ok {
			return deployTxData(c.states[0]), nil
		}
		select {
		case <-deployed:
		case <-ctx.Done():
			return blockchain.FinalizedDeployTxData{}, ctx.Err()
		}
	}
}

// ContractStateObservable streams the states of one contract. Latest starts
// at the current state, All at the deploy state and FromTx at the state
// produced by the given transaction (or the one after it when exclusive).
func (n *Network) ContractStateObservable(address blockchain.ContractAddress, config blockchain.ObservableConfig) stream.Observable[blockchain.ContractState] {
	return stream.Create(func(ctx context.Context, emit func(blockchain.ContractState)) error {
		n.mu.Lock()
		c, ok := n.contracts[address]
		if !ok {
			n.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownContract, address)
		}
		next, err := startIndex(c.states, config)
		n.mu.Unlock()
		if err != nil {
			return err
		}

		for {
			n.mu.Lock()
			pending := c.states[min(next, len(c.states)):]
			next = len(c.states)
			changed := c.changed
			n.mu.Unlock()

			for _, state := range pending {
				emit(state)
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func startIndex(states []blockchain.ContractState, config blockchain.ObservableConfig) (int, error) {
	switch config.Type {
	case blockchain.ConfigAll:
		return 0, nil
	case blockchain.ConfigTxID:
		for i, s := range states {
			if s.TxID == config.TxID {
				if config.Inclusive {
					return i, nil
				}
				return i + 1, nil
			}
		}
		return 0, fmt.Errorf("%w: %s", ErrUnknownTransaction, config.TxID)
	default:
		return len(states) - 1, nil
	}
}

func (n *Network) include(ctx context.Context, tx *callTx) (blockchain.FinalizedTxData, error) {
	if err := n.awaitBlock(ctx); err != nil {
		return blockchain.FinalizedTxData{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.contracts[tx.address]
	if !ok {
		return blockchain.FinalizedTxData{}, fmt.Errorf("%w: %s", ErrUnknownContract, tx.address)
	}
	current := c.states[len(c.states)-1]

	data, err := tx.transition(current.Data)
	if err != nil {
		state := n.nextState(tx.address, current.Data)
		if perr := n.persistFailure(state, tx.circuitID, err); perr != nil {
			return blockchain.FinalizedTxData{}, perr
		}
		n.height = state.BlockHeight
		failed := blockchain.FinalizedTxData{
			Status:      blockchain.FailEntirely,
			TxID:        state.TxID,
			TxHash:      state.TxHash,
			BlockHeight: state.BlockHeight,
		}
		n.logger.Warn("transaction failed",
			zap.String("circuitId", tx.circuitID),
			zap.String("txId", failed.TxID),
			zap.Uint64("blockHeight", failed.BlockHeight),
			zap.Error(err),
		)
		return failed, &blockchain.CallTxFailedError{FinalizedTxData: failed, CircuitID: tx.circuitID, Cause: err}
	}

	state := n.nextState(tx.address, data)
	if err := n.persist(state, len(c.states)); err != nil {
		return blockchain.FinalizedTxData{}, err
	}
	n.height = state.BlockHeight
	c.states = append(c.states, state)
	close(c.changed)
	c.changed = make(chan struct{})

	n.logger.Debug("transaction included",
		zap.String("circuitId", tx.circuitID),
		zap.String("txId", state.TxID),
		zap.Uint64("blockHeight", state.BlockHeight),
	)
	return blockchain.FinalizedTxData{
		Status:      blockchain.SucceedEntirely,
		TxID:        state.TxID,
		TxHash:      state.TxHash,
		BlockHeight: state.BlockHeight,
	}, nil
}

// nextState must be called with mu held.
func (n *Network) nextState(address blockchain.ContractAddress, data []byte) blockchain.ContractState {
	txID := uuid.NewString()
	sum := sha256.Sum256(append([]byte(txID), data...))
	return blockchain.ContractState{
		Address:     address,
		Data:        data,
		TxID:        txID,
		TxHash:      hex.EncodeToString(sum[:]),
		BlockHeight: n.height + 1,
	}
}

// persistFailure keeps the block of a failed call so the height survives a
// reload.
func (n *Network) persistFailure(state blockchain.ContractState, circuitID string, cause error) error {
	if n.storage == nil {
		return nil
	}
	err := n.storage.AppendFailedTransaction(&storage.FailedTransaction{
		Address:     string(state.Address),
		CircuitID:   circuitID,
		TxID:        state.TxID,
		TxHash:      state.TxHash,
		BlockHeight: int64(state.BlockHeight),
		Error:       cause.Error(),
	})
	if err != nil {
		return fmt.Errorf("persist failed transaction: %w", err)
	}
	return nil
}

func (n *Network) persist(state blockchain.ContractState, sequence int) error {
	if n.storage == nil {
		return nil
	}
	err := n.storage.AppendContractState(&storage.ContractState{
		Address:     string(state.Address),
		Sequence:    int64(sequence),
		TxID:        state.TxID,
		TxHash:      state.TxHash,
		BlockHeight: int64(state.BlockHeight),
		Data:        state.Data,
	})
	if err != nil {
		return fmt.Errorf("persist contract state: %w", err)
	}
	return nil
}

func (n *Network) awaitBlock(ctx context.Context) error {
	if n.blockTime <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(n.blockTime)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deployTxData(state blockchain.ContractState) blockchain.FinalizedDeployTxData {
	return blockchain.FinalizedDeployTxData{
		FinalizedTxData: blockchain.FinalizedTxData{
			Status:      blockchain.SucceedEntirely,
			TxID:        state.TxID,
			TxHash:      state.TxHash,
			BlockHeight: state.BlockHeight,
		},
		ContractAddress: state.Address,
		InitialState:    state,
	}
}

func randomAddress() (blockchain.ContractAddress, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate contract address: %w", err)
	}
	return blockchain.ContractAddress(hex.EncodeToString(b)), nil
}

type callTx struct {
	network    *Network
	address    blockchain.ContractAddress
	circuitID  string
	transition blockchain.Transition
}

func (t *callTx) CircuitID() string {
	return t.circuitID
}

// Submit runs the transition against the contract state at inclusion time.
func (t *callTx) Submit(ctx context.Context) (blockchain.FinalizedTxData, error) {
	return t.network.include(ctx, t)
}
