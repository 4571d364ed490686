package welcome

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"welcome/internal/action"
	"welcome/internal/blockchain"
	"welcome/internal/derive"
	"welcome/internal/ephemeral"
	apperrors "welcome/internal/errors"
	"welcome/internal/ledger"
	"welcome/internal/stream"
)

type OrganizerAPI struct {
	contract *contract
	app      *AppProviders
	state    stream.Observable[OrganizerState]

	ContractAddress       blockchain.ContractAddress
	FinalizedDeployTxData blockchain.FinalizedTxData
	InitialLedgerState    ledger.Ledger
	SecretKey             []byte
	PublicKey             []byte
}

type ParticipantAPI struct {
	contract *contract
	app      *AppProviders
	state    stream.Observable[ParticipantState]

	ContractAddress blockchain.ContractAddress
}

// DeployOrganizer deploys a new contract whose only organizer is the caller.
func DeployOrganizer(ctx context.Context, providers Providers, app *AppProviders, initialParticipants []string) (*OrganizerAPI, error) {
	sk, err := app.RandomSK()
	if err != nil {
		return nil, err
	}
	initial, err := ledger.New(ledger.PublicKey(sk), initialParticipants)
	if err != nil {
		return nil, err
	}
	data, err := initial.Encode()
	if err != nil {
		return nil, err
	}

	deployed, err := providers.Network.Deploy(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("deploy contract: %w", err)
	}
	if err := providers.PrivateState.Set(ctx, PrivateStateKey, NewOrganizerPrivateState(sk)); err != nil {
		return nil, err
	}
	app.Logger.Info("contract deployed",
		zap.String("address", string(deployed.ContractAddress)),
		zap.Uint64("blockHeight", deployed.BlockHeight),
	)

	return newOrganizerAPI(providers, app, deployed, sk)
}

// JoinOrganizer joins a deployed contract, reusing the stored private state.
// A caller without a secret key gets a fresh one and stays a spectator until
// an organizer adds its public key.
func JoinOrganizer(ctx context.Context, providers Providers, app *AppProviders, address blockchain.ContractAddress) (*OrganizerAPI, error) {
	deployed, err := findDeployedContract(ctx, providers, address)
	if err != nil {
		return nil, err
	}

	existing, err := providers.PrivateState.Get(ctx, PrivateStateKey)
	if err != nil {
		return nil, err
	}
	ps := NewOrganizerPrivateState(nil)
	if existing != nil {
		ps = *existing
	}
	if ps.OrganizerSecretKey == nil {
		sk, err := app.RandomSK()
		if err != nil {
			return nil, err
		}
		ps.OrganizerSecretKey = sk
	}
	if existing == nil || !privateStatesEqual(*existing, ps) {
		if err := providers.PrivateState.Set(ctx, PrivateStateKey, ps); err != nil {
			return nil, err
		}
	}
	app.Logger.Info("contract joined", zap.String("address", string(address)), zap.String("role", "organizer"))

	return newOrganizerAPI(providers, app, deployed, ps.OrganizerSecretKey)
}

// JoinParticipant joins a deployed contract as a participant.
func JoinParticipant(ctx context.Context, providers Providers, app *AppProviders, address blockchain.ContractAddress) (*ParticipantAPI, error) {
	app.Logger.Info("joining contract", zap.String("address", string(address)))
	if _, err := findDeployedContract(ctx, providers, address); err != nil {
		return nil, err
	}

	existing, err := providers.PrivateState.Get(ctx, PrivateStateKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		if err := providers.PrivateState.Set(ctx, PrivateStateKey, NewParticipantPrivateState()); err != nil {
			return nil, err
		}
	}
	app.Logger.Info("contract joined", zap.String("address", string(address)), zap.String("role", "participant"))

	k := &contract{providers: providers, address: address}
	return &ParticipantAPI{
		contract:        k,
		app:             app,
		state:           newStateObservable(k, app, DeriveParticipantState, ParticipantStatesEqual),
		ContractAddress: address,
	}, nil
}

func findDeployedContract(ctx context.Context, providers Providers, address blockchain.ContractAddress) (blockchain.FinalizedDeployTxData, error) {
	current, err := providers.Network.QueryContractState(ctx, address)
	if err != nil {
		return blockchain.FinalizedDeployTxData{}, err
	}
	if current == nil {
		return blockchain.FinalizedDeployTxData{}, fmt.Errorf("%w: %s", ErrContractNotFound, address)
	}
	return providers.Network.WatchForDeployTxData(ctx, address)
}

func newOrganizerAPI(providers Providers, app *AppProviders, deployed blockchain.FinalizedDeployTxData, sk []byte) (*OrganizerAPI, error) {
	initial, err := ledger.Decode(deployed.InitialState.Data)
	if err != nil {
		return nil, err
	}
	k := &contract{providers: providers, address: deployed.ContractAddress}
	return &OrganizerAPI{
		contract:              k,
		app:                   app,
		state:                 newStateObservable(k, app, DeriveOrganizerState, OrganizerStatesEqual),
		ContractAddress:       deployed.ContractAddress,
		FinalizedDeployTxData: deployed.FinalizedTxData,
		InitialLedgerState:    initial,
		SecretKey:             sk,
		PublicKey:             ledger.PublicKey(sk),
	}, nil
}

func newStateObservable[S any](k *contract, app *AppProviders, deriveState func(ledger.Ledger, PrivateState, ephemeral.State) S, equal func(a, b S) bool) stream.Observable[S] {
	log := app.Logger
	distinct := stream.DistinctUntilChanged(LedgerStates(k.providers.Network, k.address, blockchain.Latest()), ledger.Ledger.Equal)
	ledgerStates := stream.Map(distinct, func(l ledger.Ledger) (ledger.Ledger, error) {
		log.Info("ledger state", ledgerFields(l)...)
		return l, nil
	})
	privateStates := stream.Map(
		stream.Filter(k.providers.PrivateState.Watch(PrivateStateKey), func(ps *PrivateState) bool { return ps != nil }),
		func(ps *PrivateState) (PrivateState, error) { return *ps, nil },
	)
	return derive.Compose(log, ledgerStates, privateStates, app.Ephemeral.Observe(), deriveState, equal)
}

// State emits the derived organizer state, starting with the latest one.
func (a *OrganizerAPI) State() stream.Observable[OrganizerState] {
	return a.state
}

func (a *OrganizerAPI) AddParticipant(ctx context.Context, participantID string) (action.ID, error) {
	return a.app.Pipeline.Submit(ctx, action.AddParticipant, func(ctx context.Context) (blockchain.UnsubmittedTx, error) {
		return a.contract.callTx(ctx, CircuitAddParticipant, addParticipant(participantID))
	})
}

func (a *OrganizerAPI) AddOrganizer(ctx context.Context, organizerPk []byte) (action.ID, error) {
	return a.app.Pipeline.Submit(ctx, action.AddOrganizer, func(ctx context.Context) (blockchain.UnsubmittedTx, error) {
		return a.contract.callTx(ctx, CircuitAddOrganizer, addOrganizer(organizerPk))
	})
}

// State emits the derived participant state, starting with the latest one.
func (a *ParticipantAPI) State() stream.Observable[ParticipantState] {
	return a.state
}

func (a *ParticipantAPI) CheckIn(ctx context.Context, participantID string) (action.ID, error) {
	return a.app.Pipeline.Submit(ctx, action.CheckIn, func(ctx context.Context) (blockchain.UnsubmittedTx, error) {
		return a.contract.callTx(ctx, CircuitCheckIn, checkIn(participantID))
	})
}

// AwaitAction waits until the action id leaves the in-progress status. An
// action that ended in error is returned together with an error carrying its
// message.
func AwaitAction[S interface{ History() action.History }](ctx context.Context, states stream.Observable[S], id action.ID) (action.Record, error) {
	var record action.Record
	_, err := stream.WaitFor(ctx, states, func(s S) bool {
		r, ok := s.History().Get(id)
		if !ok || r.Status == action.InProgress {
			return false
		}
		record = r
		return true
	})
	if err != nil {
		return action.Record{}, err
	}
	if record.Status == action.Failed {
		return record, apperrors.New(apperrors.CodeTransactionFailure, record.Error)
	}
	return record, nil
}
