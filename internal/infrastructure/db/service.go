package db

import (
	"fmt"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
	badgerdb "github.com/kestrelwallet/kestreld/internal/infrastructure/db/badger"
)

var (
	recoveryStoreTypes = map[string]func(...interface{}) (domain.RecoveryRepository, error){
		"badger": badgerdb.NewRecoveryRepository,
	}
	keyboxStoreTypes = map[string]func(...interface{}) (domain.KeyboxRepository, error){
		"badger": badgerdb.NewKeyboxRepository,
	}
)

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	recoveryRepo domain.RecoveryRepository
	keyboxRepo   domain.KeyboxRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	recoveryFactory, ok := recoveryStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("unsupported data store type %s", config.DataStoreType)
	}
	keyboxFactory := keyboxStoreTypes[config.DataStoreType]

	recoveryRepo, err := recoveryFactory(config.DataStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery store: %w", err)
	}
	keyboxRepo, err := keyboxFactory(config.DataStoreConfig...)
	if err != nil {
		recoveryRepo.Close()
		return nil, fmt.Errorf("failed to open keybox store: %w", err)
	}

	return &service{recoveryRepo, keyboxRepo}, nil
}

func (s *service) Recoveries() domain.RecoveryRepository {
	return s.recoveryRepo
}

func (s *service) Keyboxes() domain.KeyboxRepository {
	return s.keyboxRepo
}

func (s *service) Close() {
	s.recoveryRepo.Close()
	s.keyboxRepo.Close()
}
