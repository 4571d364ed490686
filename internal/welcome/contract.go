package welcome

import (
	"context"
	"fmt"

	"welcome/internal/blockchain"
	apperrors "welcome/internal/errors"
	"welcome/internal/ledger"
	"welcome/internal/stream"
)

const (
	CircuitAddParticipant = "add_participant"
	CircuitAddOrganizer   = "add_organizer"
	CircuitCheckIn        = "check_in"
)

var (
	ErrContractNotFound    = apperrors.New(apperrors.CodeNotFound, "no contract found at address")
	ErrMissingPrivateState = apperrors.New(apperrors.CodeUnexpected, "Unexpected undefined private state")
	ErrMissingSecretKey    = apperrors.New(apperrors.CodeUnexpected, "Unexpected undefined secret key")
)

// circuit computes the next ledger and, when it changes, the next private state.
type circuit func(l ledger.Ledger, ps PrivateState) (ledger.Ledger, *PrivateState, error)

// LedgerStates streams the decoded ledger of the contract at address.
func LedgerStates(network blockchain.PublicDataProvider, address blockchain.ContractAddress, config blockchain.ObservableConfig) stream.Observable[ledger.Ledger] {
	return stream.Map(network.ContractStateObservable(address, config), func(s blockchain.ContractState) (ledger.Ledger, error) {
		return ledger.Decode(s.Data)
	})
}

type contract struct {
	providers Providers
	address   blockchain.ContractAddress
}

// callTx runs c against the latest ledger and private state so invalid calls
// fail before anything is sent. The network runs it again at inclusion time.
func (k *contract) callTx(ctx context.Context, circuitID string, c circuit) (blockchain.UnsubmittedTx, error) {
	current, err := k.providers.Network.QueryContractState(ctx, k.address)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, k.address)
	}
	l, err := ledger.Decode(current.Data)
	if err != nil {
		return nil, err
	}
	ps, err := k.providers.PrivateState.Get(ctx, PrivateStateKey)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		return nil, ErrMissingPrivateState
	}
	private := *ps

	if _, _, err := c(l, private); err != nil {
		return nil, err
	}

	var next *PrivateState
	tx := k.providers.Network.CallTx(k.address, circuitID, func(data []byte) ([]byte, error) {
		l, err := ledger.Decode(data)
		if err != nil {
			return nil, err
		}
		updated, ps, err := c(l, private)
		if err != nil {
			return nil, err
		}
		next = ps
		return updated.Encode()
	})
	return &callTx{UnsubmittedTx: tx, onSuccess: func(ctx context.Context) error {
		if next == nil {
			return nil
		}
		return k.providers.PrivateState.Set(ctx, PrivateStateKey, *next)
	}}, nil
}

type callTx struct {
	blockchain.UnsubmittedTx
	onSuccess func(ctx context.Context) error
}

func (t *callTx) Submit(ctx context.Context) (blockchain.FinalizedTxData, error) {
	finalized, err := t.UnsubmittedTx.Submit(ctx)
	if err != nil {
		return finalized, err
	}
	if err := t.onSuccess(ctx); err != nil {
		return finalized, fmt.Errorf("store private state: %w", err)
	}
	return finalized, nil
}

func secretKeyOf(ps PrivateState) ([]byte, error) {
	if ps.OrganizerSecretKey == nil {
		return nil, ErrMissingSecretKey
	}
	return ps.OrganizerSecretKey, nil
}

func addParticipant(participantID string) circuit {
	return func(l ledger.Ledger, ps PrivateState) (ledger.Ledger, *PrivateState, error) {
		sk, err := secretKeyOf(ps)
		if err != nil {
			return l, nil, err
		}
		next, err := l.AddParticipant(sk, participantID)
		return next, nil, err
	}
}

func addOrganizer(organizerPk []byte) circuit {
	return func(l ledger.Ledger, ps PrivateState) (ledger.Ledger, *PrivateState, error) {
		sk, err := secretKeyOf(ps)
		if err != nil {
			return l, nil, err
		}
		next, err := l.AddOrganizer(sk, organizerPk)
		return next, nil, err
	}
}

func checkIn(participantID string) circuit {
	return func(l ledger.Ledger, ps PrivateState) (ledger.Ledger, *PrivateState, error) {
		next, err := l.CheckIn(participantID)
		if err != nil {
			return l, nil, err
		}
		ps.ParticipantID = &participantID
		return next, &ps, nil
	}
}
