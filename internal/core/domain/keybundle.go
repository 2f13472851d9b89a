package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const compressedPubKeyLen = 33

// AppKeyBundle holds the public half of a freshly generated application
// keyset. Keys are hex-encoded compressed secp256k1 points. The bundle is
// immutable once created; private material lives only in the key store.
type AppKeyBundle struct {
	SpendPubKey        string
	AuthPubKey         string
	RecoveryAuthPubKey string
}

func (b AppKeyBundle) Validate() error {
	for name, key := range map[string]string{
		"spend":         b.SpendPubKey,
		"auth":          b.AuthPubKey,
		"recovery auth": b.RecoveryAuthPubKey,
	} {
		if err := validatePubKey(key); err != nil {
			return fmt.Errorf("invalid %s key: %w", name, err)
		}
	}
	return nil
}

// Fingerprint identifies the bundle in the key store.
func (b AppKeyBundle) Fingerprint() string {
	h := sha256.Sum256([]byte(b.SpendPubKey + b.AuthPubKey + b.RecoveryAuthPubKey))
	return hex.EncodeToString(h[:16])
}

type HardwareKeyBundle struct {
	SpendPubKey string
	AuthPubKey  string
}

func (b HardwareKeyBundle) Validate() error {
	if err := validatePubKey(b.SpendPubKey); err != nil {
		return fmt.Errorf("invalid spend key: %w", err)
	}
	if err := validatePubKey(b.AuthPubKey); err != nil {
		return fmt.Errorf("invalid auth key: %w", err)
	}
	return nil
}

func validatePubKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("missing key")
	}
	buf, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	if len(buf) != compressedPubKeyLen {
		return fmt.Errorf("invalid key length %d", len(buf))
	}
	return nil
}
