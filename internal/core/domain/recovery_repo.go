package domain

import "context"

type RecoveryRepository interface {
	// Get returns the attempt for the given account, nil when none exists.
	Get(ctx context.Context, accountId string) (*RecoveryAttempt, error)
	Upsert(ctx context.Context, attempt RecoveryAttempt) error
	Delete(ctx context.Context, accountId string) error
	Close()
}
