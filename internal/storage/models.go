package storage

import "time"

type PrivateState struct {
	StoreName string `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey;column:state_key"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

type ContractState struct {
	ID          int64  `gorm:"primaryKey"`
	Address     string `gorm:"uniqueIndex:idx_contract_sequence;not null"`
	Sequence    int64  `gorm:"uniqueIndex:idx_contract_sequence;not null"`
	TxID        string `gorm:"not null"`
	TxHash      string `gorm:"not null"`
	BlockHeight int64  `gorm:"not null"`
	Data        []byte `gorm:"not null"`
}

// FailedTransaction records a call that was included in a block but whose
// transition failed. It produces no contract state.
type FailedTransaction struct {
	ID          int64  `gorm:"primaryKey"`
	Address     string `gorm:"index;not null"`
	CircuitID   string `gorm:"not null"`
	TxID        string `gorm:"uniqueIndex;not null"`
	TxHash      string `gorm:"not null"`
	BlockHeight int64  `gorm:"not null"`
	Error       string
}
