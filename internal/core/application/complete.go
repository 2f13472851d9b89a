package application

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

var (
	// ErrRecoveryNotReady is returned by Complete while the delay period has
	// not elapsed, or when no attempt exists at all.
	ErrRecoveryNotReady = errors.New("recovery attempt is not ready to complete")
	// ErrMissingDestinationKeys is returned when the attempt was adopted
	// from another device session: only the device holding the destination
	// app private keys may complete it.
	ErrMissingDestinationKeys = errors.New("destination key material is not held by this device")
	// ErrNoActiveKeybox is returned when the account has no keybox to rotate.
	ErrNoActiveKeybox = errors.New("no active keybox for account")
)

// CompletionService finalizes a recovery once the syncer has marked it ready:
// both destination factors attest a rotation challenge, the coordination
// service confirms, and the active keybox is replaced in a single write.
// It is deliberately separate from the state machine because completion
// requires fresh hardware taps and may run on whatever device session
// resumes the recovery.
type CompletionService struct {
	keygen      *KeyGenService
	coordinator ports.CoordinatorClient
	hardware    ports.HardwareChannel
	repoManager ports.RepoManager

	accountId string
}

func NewCompletionService(
	keygen *KeyGenService, coordinator ports.CoordinatorClient,
	hardware ports.HardwareChannel, repoManager ports.RepoManager,
	accountId string,
) (*CompletionService, error) {
	if keygen == nil {
		return nil, fmt.Errorf("missing key generation service")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("missing coordinator client")
	}
	if hardware == nil {
		return nil, fmt.Errorf("missing hardware channel")
	}
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if len(accountId) == 0 {
		return nil, fmt.Errorf("missing account id")
	}
	return &CompletionService{
		keygen:      keygen,
		coordinator: coordinator,
		hardware:    hardware,
		repoManager: repoManager,
		accountId:   accountId,
	}, nil
}

// Complete finalizes the ready attempt. A *ports.VerificationRequiredError
// is returned unchanged when the coordination service demands touchpoint
// verification first; run a VerificationFlow and call Complete again.
func (s *CompletionService) Complete(ctx context.Context) error {
	recoveries := s.repoManager.Recoveries()

	attempt, err := recoveries.Get(ctx, s.accountId)
	if err != nil {
		return fmt.Errorf("failed to load recovery state: %w", err)
	}
	if attempt == nil || attempt.Status != domain.RecoveryStatusReadyToComplete {
		return ErrRecoveryNotReady
	}
	if attempt.DestinationAppKeys == nil || attempt.DestinationHardwareKeys == nil {
		return ErrMissingDestinationKeys
	}

	challenge := rotationChallenge(
		attempt.Id,
		attempt.DestinationAppKeys.Fingerprint(),
		attempt.DestinationHardwareKeys.AuthPubKey,
	)

	hwSig, err := s.hardware.Transmit(ctx, ports.SignChallengeCommand(challenge))
	if err != nil {
		return fmt.Errorf("failed to obtain hardware rotation signature: %w", err)
	}
	appSig, err := s.keygen.SignWithRecoveryAuthKey(
		ctx, *attempt.DestinationAppKeys, challenge,
	)
	if err != nil {
		return fmt.Errorf("failed to produce app rotation signature: %w", err)
	}

	if err := s.coordinator.Complete(ctx, ports.CompleteRecoveryRequest{
		AccountId:         s.accountId,
		AttemptId:         attempt.Id,
		RotationSignature: hwSig,
		AppSignature:      appSig,
	}); err != nil {
		return err
	}

	keybox, err := s.repoManager.Keyboxes().Get(ctx, s.accountId)
	if err != nil {
		return fmt.Errorf("failed to load active keybox: %w", err)
	}
	if keybox == nil {
		return ErrNoActiveKeybox
	}

	rotated := keybox.Rotate(
		*attempt.DestinationAppKeys, *attempt.DestinationHardwareKeys,
	)
	if err := s.repoManager.Keyboxes().Upsert(ctx, rotated); err != nil {
		return fmt.Errorf("failed to rotate keybox: %w", err)
	}

	if err := attempt.Complete(); err != nil {
		return err
	}
	if err := recoveries.Upsert(ctx, *attempt); err != nil {
		// the keybox already rotated, the attempt record is best-effort here
		log.WithError(err).Error("completion: failed to persist completed attempt")
	}

	log.Infof(
		"completion: attempt %s completed, keybox rotated for account %s",
		attempt.Id, s.accountId,
	)
	return nil
}

func rotationChallenge(attemptId, appFingerprint, hwAuthKey string) []byte {
	digest := sha256.Sum256([]byte(attemptId + appFingerprint + hwAuthKey))
	return digest[:]
}
