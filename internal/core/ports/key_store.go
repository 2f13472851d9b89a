package ports

import (
	"context"
	"errors"
)

var ErrKeyNotFound = errors.New("key not found")

// KeyStore is the local encrypted store for private key material. Secrets
// are opaque bytes, encrypted at rest by the implementation.
type KeyStore interface {
	Store(ctx context.Context, keyId string, secret []byte) error
	Load(ctx context.Context, keyId string) ([]byte, error)
	Delete(ctx context.Context, keyId string) error
}
