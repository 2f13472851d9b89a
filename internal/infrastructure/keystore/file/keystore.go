package filekeystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

const (
	keyStoreDir = "keys"
	saltSize    = 32
	iterations  = 10000
	keySize     = 32
)

type keyStore struct {
	datadir  string
	password string
}

// New creates a file-backed key store. Each secret is sealed with
// AES-256-GCM under a key derived from the given password, one file per
// key id.
func New(datadir, password string) (ports.KeyStore, error) {
	if len(datadir) == 0 {
		return nil, fmt.Errorf("missing datadir")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing encryption password")
	}

	dir := filepath.Join(datadir, keyStoreDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key store dir: %w", err)
	}
	return &keyStore{dir, password}, nil
}

func (s *keyStore) Store(ctx context.Context, keyId string, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("missing secret")
	}

	encrypted, err := s.encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt key %s: %w", keyId, err)
	}
	return os.WriteFile(s.pathFor(keyId), encrypted, 0600)
}

func (s *keyStore) Load(ctx context.Context, keyId string) ([]byte, error) {
	encrypted, err := os.ReadFile(s.pathFor(keyId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to read key %s: %w", keyId, err)
	}

	secret, err := s.decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key %s: %w", keyId, err)
	}
	return secret, nil
}

func (s *keyStore) Delete(ctx context.Context, keyId string) error {
	err := os.Remove(s.pathFor(keyId))
	if os.IsNotExist(err) {
		return ports.ErrKeyNotFound
	}
	return err
}

func (s *keyStore) encrypt(plaintext []byte) ([]byte, error) {
	key, salt, err := deriveKey([]byte(s.password), nil)
	if err != nil {
		return nil, err
	}

	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return append(ciphertext, salt...), nil
}

func (s *keyStore) decrypt(encrypted []byte) ([]byte, error) {
	if len(encrypted) <= saltSize {
		return nil, fmt.Errorf("malformed encrypted key")
	}
	salt := encrypted[len(encrypted)-saltSize:]
	data := encrypted[:len(encrypted)-saltSize]

	key, _, err := deriveKey([]byte(s.password), salt)
	if err != nil {
		return nil, err
	}

	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, fmt.Errorf("malformed encrypted key")
	}
	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	// #nosec G407
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid password")
	}
	return plaintext, nil
}

// pathFor maps an arbitrary key id to a stable filename.
func (s *keyStore) pathFor(keyId string) string {
	digest := sha256.Sum256([]byte(keyId))
	return filepath.Join(s.datadir, hex.EncodeToString(digest[:16])+".key")
}

// deriveKey derives a 32 byte key from the password. A fresh salt is
// generated when none is given.
func deriveKey(password, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key := pbkdf2.Key(password, salt, iterations, keySize, sha256.New)
	return key, salt, nil
}
