package ports

import "github.com/kestrelwallet/kestreld/internal/core/domain"

type RepoManager interface {
	Recoveries() domain.RecoveryRepository
	Keyboxes() domain.KeyboxRepository
	Close()
}
