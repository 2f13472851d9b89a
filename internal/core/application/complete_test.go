package application_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestreld/internal/core/application"
	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

func TestCompleteRefusedWhileNotReady(t *testing.T) {
	t.Run("no attempt", func(t *testing.T) {
		fixture := newCompletionFixture(t)
		err := fixture.svc.Complete(context.Background())
		require.ErrorIs(t, err, application.ErrRecoveryNotReady)
	})

	t.Run("delay period still running", func(t *testing.T) {
		fixture := newCompletionFixture(t)
		attempt := domain.NewRecoveryAttempt(testAccountId, domain.FactorHardware)
		require.NoError(t, attempt.Register(time.Now(), time.Now().Add(time.Hour)))
		require.NoError(
			t, fixture.repo.Recoveries().Upsert(context.Background(), *attempt),
		)

		err := fixture.svc.Complete(context.Background())
		require.ErrorIs(t, err, application.ErrRecoveryNotReady)
		require.Empty(t, fixture.coordinator.completeCalls)
	})
}

func TestCompleteRefusedWithoutDestinationKeys(t *testing.T) {
	// adopted attempts carry no key material: this device cannot complete them
	fixture := newCompletionFixture(t)
	attempt := domain.NewRecoveryAttempt(testAccountId, domain.FactorApp)
	require.NoError(t, attempt.Register(time.Now(), time.Now().Add(-time.Minute)))
	require.NoError(t, attempt.MarkReadyToComplete())
	require.NoError(
		t, fixture.repo.Recoveries().Upsert(context.Background(), *attempt),
	)

	err := fixture.svc.Complete(context.Background())
	require.ErrorIs(t, err, application.ErrMissingDestinationKeys)
	require.Empty(t, fixture.coordinator.completeCalls)
}

func TestCompleteRotatesKeybox(t *testing.T) {
	fixture := newCompletionFixture(t)
	appKeys, hwKeys := fixture.persistReadyAttempt(t)
	oldKeybox := fixture.persistKeybox(t)

	require.NoError(t, fixture.svc.Complete(context.Background()))

	// both factors signed the rotation challenge
	require.Len(t, fixture.coordinator.completeCalls, 1)
	req := fixture.coordinator.completeCalls[0]
	require.NotEmpty(t, req.RotationSignature)
	require.NotEmpty(t, req.AppSignature)
	require.Len(t, fixture.hardware.commands, 1)
	assert.Equal(t, "sign-challenge", fixture.hardware.commands[0].Name)

	// the app signature verifies against the destination recovery-auth key
	pubkeyBytes, err := hex.DecodeString(appKeys.RecoveryAuthPubKey)
	require.NoError(t, err)
	pubkey, err := btcec.ParsePubKey(pubkeyBytes)
	require.NoError(t, err)
	sig, err := schnorr.ParseSignature(req.AppSignature)
	require.NoError(t, err)
	digest := sha256.Sum256(fixture.hardware.commands[0].Payload)
	require.True(t, sig.Verify(digest[:], pubkey))

	// the keybox now holds the destination bundles, everything else carries over
	rotated, err := fixture.repo.Keyboxes().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.Equal(t, appKeys, rotated.AppKeys)
	assert.Equal(t, hwKeys, rotated.HardwareKeys)
	assert.Equal(t, oldKeybox.ServerCosignerKey, rotated.ServerCosignerKey)
	assert.Equal(t, oldKeybox.Network, rotated.Network)
	assert.False(t, rotated.RotatedAt.IsZero())

	persisted, err := fixture.repo.Recoveries().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryStatusCompleted, persisted.Status)
}

func TestCompleteKeyboxUntouchedOnCoordinatorRefusal(t *testing.T) {
	fixture := newCompletionFixture(t)
	fixture.persistReadyAttempt(t)
	oldKeybox := fixture.persistKeybox(t)
	fixture.coordinator.completeFn = func(ports.CompleteRecoveryRequest) error {
		return &ports.VerificationRequiredError{Touchpoint: "t", CodeLength: 6}
	}

	err := fixture.svc.Complete(context.Background())
	var verificationErr *ports.VerificationRequiredError
	require.ErrorAs(t, err, &verificationErr)

	keybox, err := fixture.repo.Keyboxes().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	assert.Equal(t, oldKeybox.AppKeys, keybox.AppKeys)
	assert.Equal(t, oldKeybox.HardwareKeys, keybox.HardwareKeys)
	assert.True(t, keybox.RotatedAt.IsZero())

	persisted, err := fixture.repo.Recoveries().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryStatusReadyToComplete, persisted.Status)
}

func TestCompleteWithoutActiveKeybox(t *testing.T) {
	fixture := newCompletionFixture(t)
	fixture.persistReadyAttempt(t)

	err := fixture.svc.Complete(context.Background())
	require.ErrorIs(t, err, application.ErrNoActiveKeybox)
}

type completionFixture struct {
	svc         *application.CompletionService
	keygen      *application.KeyGenService
	coordinator *mockCoordinator
	hardware    *mockHardware
	repo        *mockRepoManager
}

func newCompletionFixture(t *testing.T) *completionFixture {
	coordinator := &mockCoordinator{}
	hw := &mockHardware{}
	repo := newMockRepoManager()

	keygen, err := application.NewKeyGenService(newMockKeyStore())
	require.NoError(t, err)

	svc, err := application.NewCompletionService(
		keygen, coordinator, hw, repo, testAccountId,
	)
	require.NoError(t, err)

	return &completionFixture{svc, keygen, coordinator, hw, repo}
}

// persistReadyAttempt stores a ReadyToComplete attempt carrying freshly
// generated destination bundles whose private halves live in the fixture's
// key store.
func (f *completionFixture) persistReadyAttempt(
	t *testing.T,
) (domain.AppKeyBundle, domain.HardwareKeyBundle) {
	appKeys, err := f.keygen.GenerateAppKeyBundle(context.Background())
	require.NoError(t, err)
	hwKeys, _ := newHardwareFactor(t, *appKeys)

	attempt := domain.NewRecoveryAttempt(testAccountId, domain.FactorHardware)
	attempt.DestinationAppKeys = appKeys
	attempt.DestinationHardwareKeys = &hwKeys
	require.NoError(
		t, attempt.Register(time.Now().Add(-72*time.Hour), time.Now().Add(-time.Minute)),
	)
	require.NoError(t, attempt.MarkReadyToComplete())
	require.NoError(t, f.repo.Recoveries().Upsert(context.Background(), *attempt))
	return *appKeys, hwKeys
}

func (f *completionFixture) persistKeybox(t *testing.T) domain.Keybox {
	appKeys, err := f.keygen.GenerateAppKeyBundle(context.Background())
	require.NoError(t, err)
	hwKeys, _ := newHardwareFactor(t, *appKeys)

	keybox := domain.NewKeybox(
		testAccountId, *appKeys, hwKeys, "cosigner-key", "mainnet",
	)
	require.NoError(t, f.repo.Keyboxes().Upsert(context.Background(), *keybox))
	return *keybox
}
