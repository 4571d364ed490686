// Package privatestate stores role-specific secret material and notifies
// watchers when it changes.
package privatestate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	apperrors "welcome/internal/errors"
	"welcome/internal/storage"
)

var (
	ErrNotFound       = apperrors.New(apperrors.CodeNotFound, "private state not found")
	ErrTransientStore = apperrors.New(apperrors.CodeTransientStore, "private state store unavailable")
)

// Provider is a key/value store of private states. Get returns nil for an
// absent key.
type Provider[V any] interface {
	Get(ctx context.Context, key string) (*V, error)
	Set(ctx context.Context, key string, value V) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type MemoryProvider[V any] struct {
	mu     sync.RWMutex
	states map[string]V
}

func NewMemoryProvider[V any]() *MemoryProvider[V] {
	return &MemoryProvider[V]{states: make(map[string]V)}
}

func (p *MemoryProvider[V]) Get(_ context.Context, key string) (*V, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.states[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (p *MemoryProvider[V]) Set(_ context.Context, key string, value V) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[key] = value
	return nil
}

func (p *MemoryProvider[V]) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(p.states, key)
	return nil
}

func (p *MemoryProvider[V]) Clear(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.states)
	return nil
}

// StorageProvider persists CBOR encoded private states under one store name.
type StorageProvider[V any] struct {
	storage   storage.Storage
	storeName string
}

func NewStorageProvider[V any](s storage.Storage, storeName string) *StorageProvider[V] {
	return &StorageProvider[V]{storage: s, storeName: storeName}
}

func (p *StorageProvider[V]) Get(_ context.Context, key string) (*V, error) {
	row, err := p.storage.GetPrivateState(p.storeName, key)
	if err != nil {
		return nil, fmt.Errorf("get private state %s: %w", key, err)
	}
	if row == nil {
		return nil, nil
	}
	var v V
	if err := cbor.Unmarshal(row.Value, &v); err != nil {
		return nil, fmt.Errorf("decode private state %s: %w", key, err)
	}
	return &v, nil
}

func (p *StorageProvider[V]) Set(_ context.Context, key string, value V) error {
	data, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode private state %s: %w", key, err)
	}
	return p.storage.UpsertPrivateState(&storage.PrivateState{
		StoreName: p.storeName,
		Key:       key,
		Value:     data,
		UpdatedAt: time.Now(),
	})
}

func (p *StorageProvider[V]) Remove(_ context.Context, key string) error {
	deleted, err := p.storage.DeletePrivateState(p.storeName, key)
	if err != nil {
		return fmt.Errorf("remove private state %s: %w", key, err)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

func (p *StorageProvider[V]) Clear(_ context.Context) error {
	return p.storage.ClearPrivateStates(p.storeName)
}
