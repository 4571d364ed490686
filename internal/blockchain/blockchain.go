package blockchain

import (
	"context"
	"fmt"

	"welcome/internal/stream"
)

type ContractAddress string

type TxStatus string

const (
	SucceedEntirely TxStatus = "SucceedEntirely"
	FailEntirely    TxStatus = "FailEntirely"
)

// FinalizedTxData is the network's verdict on a submitted transaction.
type FinalizedTxData struct {
	Status      TxStatus `json:"status"`
	TxID        string   `json:"txId"`
	TxHash      string   `json:"txHash"`
	BlockHeight uint64   `json:"blockHeight"`
}

type FinalizedDeployTxData struct {
	FinalizedTxData
	ContractAddress ContractAddress
	InitialState    ContractState
}

// ContractState is the raw on-chain state of a contract right after a transaction.
type ContractState struct {
	Address     ContractAddress
	Data        []byte
	TxID        string
	TxHash      string
	BlockHeight uint64
}

type ObservableConfigType string

const (
	ConfigLatest ObservableConfigType = "latest"
	ConfigAll    ObservableConfigType = "all"
	ConfigTxID   ObservableConfigType = "txId"
)

// ObservableConfig selects where a contract state stream starts.
type ObservableConfig struct {
	Type      ObservableConfigType
	TxID      string
	Inclusive bool
}

func Latest() ObservableConfig {
	return ObservableConfig{Type: ConfigLatest}
}

func All() ObservableConfig {
	return ObservableConfig{Type: ConfigAll}
}

func FromTx(txID string, inclusive bool) ObservableConfig {
	return ObservableConfig{Type: ConfigTxID, TxID: txID, Inclusive: inclusive}
}

type PublicDataProvider interface {
	ContractStateObservable(address ContractAddress, config ObservableConfig) stream.Observable[ContractState]
	// QueryContractState returns nil when no contract lives at address.
	QueryContractState(ctx context.Context, address ContractAddress) (*ContractState, error)
	WatchForDeployTxData(ctx context.Context, address ContractAddress) (FinalizedDeployTxData, error)
}

// Transition computes the next contract state data from the current one.
type Transition func(data []byte) ([]byte, error)

type UnsubmittedTx interface {
	CircuitID() string
	Submit(ctx context.Context) (FinalizedTxData, error)
}

type Network interface {
	PublicDataProvider
	Deploy(ctx context.Context, data []byte) (FinalizedDeployTxData, error)
	CallTx(address ContractAddress, circuitID string, transition Transition) UnsubmittedTx
}

// CallTxFailedError reports a call transaction that was included but failed.
type CallTxFailedError struct {
	FinalizedTxData FinalizedTxData
	CircuitID       string
	Cause           error
}

func (e *CallTxFailedError) Error() string {
	msg := fmt.Sprintf("transaction %s for circuit '%s' failed with status %s", e.FinalizedTxData.TxID, e.CircuitID, e.FinalizedTxData.Status)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CallTxFailedError) Unwrap() error {
	return e.Cause
}
