package storage

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"welcome/internal/logger"
)

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {
	logger.Debug("initializing database...", zap.String("path", path))
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&PrivateState{},
		&ContractState{},
		&FailedTransaction{},
	)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Debug("initializing database...done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) GetPrivateState(storeName, key string) (*PrivateState, error) {
	var state PrivateState
	err := s.db.Where("store_name = ? and state_key = ?", storeName, key).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SqliteStorage) UpsertPrivateState(state *PrivateState) error {
	logger.Debug("updating private state...", zap.String("store", state.StoreName), zap.String("key", state.Key))

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_name"}, {Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(state).Error
	if err != nil {
		return err
	}

	logger.Debug("updating private state...done")
	return nil
}

func (s *SqliteStorage) DeletePrivateState(storeName, key string) (bool, error) {
	result := s.db.Where("store_name = ? and state_key = ?", storeName, key).Delete(&PrivateState{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *SqliteStorage) ClearPrivateStates(storeName string) error {
	logger.Debug("clearing private states", zap.String("store", storeName))
	return s.db.Where("store_name = ?", storeName).Delete(&PrivateState{}).Error
}

func (s *SqliteStorage) AppendContractState(state *ContractState) error {
	return s.db.Create(state).Error
}

func (s *SqliteStorage) AppendFailedTransaction(tx *FailedTransaction) error {
	logger.Debug("recording failed transaction", zap.String("txId", tx.TxID), zap.Int64("blockHeight", tx.BlockHeight))
	return s.db.Create(tx).Error
}

func (s *SqliteStorage) GetContractStates(address string) ([]*ContractState, error) {
	var states []*ContractState
	err := s.db.Where("address = ?", address).Order("sequence asc").Find(&states).Error
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (s *SqliteStorage) GetContractAddresses() ([]string, error) {
	var addresses []string
	err := s.db.Model(&ContractState{}).Distinct("address").Order("address").Pluck("address", &addresses).Error
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

func (s *SqliteStorage) GetBlockHeight() (int64, error) {
	var height int64
	err := s.db.Raw(`
		select coalesce(max(block_height), 0) as block_height
		from (
			select block_height from contract_states
			union all
			select block_height from failed_transactions
		)
	`).Scan(&height).Error
	if err != nil {
		return 0, err
	}

	logger.Debug("getting block height...done", zap.Int64("blockHeight", height))
	return height, nil
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
