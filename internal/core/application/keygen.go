package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

const (
	spendKeyName        = "spend"
	authKeyName         = "auth"
	recoveryAuthKeyName = "recovery-auth"
)

// KeyGenService derives fresh app key bundles used as the destination of a
// recovery, and verifies the signatures binding the destination factors
// together. Private material is persisted only through the key store.
type KeyGenService struct {
	keyStore ports.KeyStore
}

func NewKeyGenService(keyStore ports.KeyStore) (*KeyGenService, error) {
	if keyStore == nil {
		return nil, fmt.Errorf("missing key store")
	}
	return &KeyGenService{keyStore}, nil
}

// GenerateAppKeyBundle derives a spending key, a global-auth key and a
// recovery-auth key, stores the private halves and returns the public bundle.
func (s *KeyGenService) GenerateAppKeyBundle(
	ctx context.Context,
) (*domain.AppKeyBundle, error) {
	prvkeys := make([]*btcec.PrivateKey, 0, 3)
	pubkeys := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		prvkey, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		prvkeys = append(prvkeys, prvkey)
		pubkeys = append(
			pubkeys, hex.EncodeToString(prvkey.PubKey().SerializeCompressed()),
		)
	}

	bundle := domain.AppKeyBundle{
		SpendPubKey:        pubkeys[0],
		AuthPubKey:         pubkeys[1],
		RecoveryAuthPubKey: pubkeys[2],
	}

	names := []string{spendKeyName, authKeyName, recoveryAuthKeyName}
	for i, prvkey := range prvkeys {
		keyId := keyStoreId(bundle, names[i])
		if err := s.keyStore.Store(ctx, keyId, prvkey.Serialize()); err != nil {
			// drop whatever has been stored so far, the bundle is unusable
			for j := 0; j < i; j++ {
				if delErr := s.keyStore.Delete(
					ctx, keyStoreId(bundle, names[j]),
				); delErr != nil {
					log.WithError(delErr).Warnf(
						"keygen: failed to drop %s key after store failure",
						names[j],
					)
				}
			}
			return nil, fmt.Errorf("failed to store %s key: %w", names[i], err)
		}
	}

	log.Debugf("keygen: generated app key bundle %s", bundle.Fingerprint())
	return &bundle, nil
}

// DiscardAppKeyBundle removes the private material of a bundle that will
// never be used, typically after a rollback.
func (s *KeyGenService) DiscardAppKeyBundle(
	ctx context.Context, bundle domain.AppKeyBundle,
) error {
	var errs []error
	for _, name := range []string{spendKeyName, authKeyName, recoveryAuthKeyName} {
		err := s.keyStore.Delete(ctx, keyStoreId(bundle, name))
		if err != nil && !errors.Is(err, ports.ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("failed to drop %s key: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// VerifyCrossSignature checks that the destination hardware auth key signed
// the destination app global-auth key, proving the two factors were mutually
// attested before registration.
func (s *KeyGenService) VerifyCrossSignature(
	appKeys domain.AppKeyBundle, hwKeys domain.HardwareKeyBundle, sig []byte,
) error {
	if err := appKeys.Validate(); err != nil {
		return fmt.Errorf("invalid app key bundle: %w", err)
	}
	if err := hwKeys.Validate(); err != nil {
		return fmt.Errorf("invalid hardware key bundle: %w", err)
	}
	if len(sig) == 0 {
		return fmt.Errorf("missing cross signature")
	}

	hwAuthKey, err := parsePubKey(hwKeys.AuthPubKey)
	if err != nil {
		return fmt.Errorf("invalid hardware auth key: %w", err)
	}
	signature, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("invalid cross signature: %w", err)
	}

	appAuthKey, _ := hex.DecodeString(appKeys.AuthPubKey)
	digest := sha256.Sum256(appAuthKey)
	if !signature.Verify(digest[:], hwAuthKey) {
		return fmt.Errorf(
			"cross signature does not bind app key %s to hardware key %s",
			appKeys.AuthPubKey, hwKeys.AuthPubKey,
		)
	}
	return nil
}

// SignWithRecoveryAuthKey signs the given message with the bundle's stored
// recovery-auth private key.
func (s *KeyGenService) SignWithRecoveryAuthKey(
	ctx context.Context, bundle domain.AppKeyBundle, msg []byte,
) ([]byte, error) {
	buf, err := s.keyStore.Load(ctx, keyStoreId(bundle, recoveryAuthKeyName))
	if err != nil {
		return nil, fmt.Errorf("failed to load recovery auth key: %w", err)
	}
	prvkey, _ := btcec.PrivKeyFromBytes(buf)

	digest := sha256.Sum256(msg)
	sig, err := schnorr.Sign(prvkey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign with recovery auth key: %w", err)
	}
	return sig.Serialize(), nil
}

func keyStoreId(bundle domain.AppKeyBundle, name string) string {
	return fmt.Sprintf("%s/%s", bundle.Fingerprint(), name)
}

func parsePubKey(key string) (*btcec.PublicKey, error) {
	buf, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return btcec.ParsePubKey(buf)
}
