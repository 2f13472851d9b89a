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

const recoveryStoreDir = "recovery"

type recoveryRepository struct {
	store *badgerhold.Store
}

func NewRecoveryRepository(config ...interface{}) (domain.RecoveryRepository, error) {
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
		dir = filepath.Join(baseDir, recoveryStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open recovery store: %s", err)
	}

	return &recoveryRepository{store}, nil
}

func (r *recoveryRepository) Get(
	ctx context.Context, accountId string,
) (*domain.RecoveryAttempt, error) {
	var attempt domain.RecoveryAttempt
	err := r.store.Get(accountId, &attempt)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recovery attempt: %w", err)
	}
	return &attempt, nil
}

func (r *recoveryRepository) Upsert(
	ctx context.Context, attempt domain.RecoveryAttempt,
) error {
	if err := r.store.Upsert(attempt.AccountId, &attempt); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			attempts := 1
			for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
				time.Sleep(100 * time.Millisecond)
				err = r.store.Upsert(attempt.AccountId, &attempt)
				attempts++
			}
		}
		return err
	}
	return nil
}

func (r *recoveryRepository) Delete(ctx context.Context, accountId string) error {
	err := r.store.Delete(accountId, &domain.RecoveryAttempt{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}

func (r *recoveryRepository) Close() {
	// nolint:all
	r.store.Close()
}
