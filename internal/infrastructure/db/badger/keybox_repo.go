package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
)

const keyboxStoreDir = "keybox"

type keyboxRepository struct {
	store *badgerhold.Store
}

func NewKeyboxRepository(config ...interface{}) (domain.KeyboxRepository, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, keyboxStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open keybox store: %s", err)
	}

	return &keyboxRepository{store}, nil
}

func (r *keyboxRepository) Get(
	ctx context.Context, accountId string,
) (*domain.Keybox, error) {
	var keybox domain.Keybox
	err := r.store.Get(accountId, &keybox)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get keybox: %w", err)
	}
	return &keybox, nil
}

func (r *keyboxRepository) Upsert(ctx context.Context, keybox domain.Keybox) error {
	if err := r.store.Upsert(keybox.AccountId, &keybox); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			attempts := 1
			for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
				time.Sleep(100 * time.Millisecond)
				err = r.store.Upsert(keybox.AccountId, &keybox)
				attempts++
			}
		}
		return err
	}
	return nil
}

func (r *keyboxRepository) Close() {
	// nolint:all
	r.store.Close()
}
