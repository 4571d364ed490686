package storage

type Storage interface {
	// private state
	GetPrivateState(storeName, key string) (*PrivateState, error)
	UpsertPrivateState(state *PrivateState) error
	DeletePrivateState(storeName, key string) (bool, error)
	ClearPrivateStates(storeName string) error

	// contract state log
	AppendContractState(state *ContractState) error
	GetContractStates(address string) ([]*ContractState, error)
	GetContractAddresses() ([]string, error)
	AppendFailedTransaction(tx *FailedTransaction) error
	GetBlockHeight() (int64, error)

	Close() error
}
