package domain

import "context"

type KeyboxRepository interface {
	// Get returns the active keybox for the given account, nil when none exists.
	Get(ctx context.Context, accountId string) (*Keybox, error)
	Upsert(ctx context.Context, keybox Keybox) error
	Close()
}
