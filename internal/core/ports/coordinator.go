package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
)

var (
	// ErrConflictingRecovery is returned by Initiate when the coordination
	// service already holds a pending attempt for the account.
	ErrConflictingRecovery = errors.New("a recovery attempt is already pending for this account")
	// ErrCodeExpired is returned by ConfirmVerificationCode when the one-time
	// code is no longer valid and a new one must be requested.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrCodeMismatch is returned by ConfirmVerificationCode when the
	// submitted code does not match the one sent to the touchpoint.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrNoPendingRecovery is returned by Cancel and Complete when the
	// coordination service holds no attempt for the account.
	ErrNoPendingRecovery = errors.New("no pending recovery attempt")
)

// VerificationRequiredError is returned by any privileged call the
// coordination service refuses until a one-time code sent to a registered
// touchpoint has been confirmed. The original call must be replayed after
// confirmation.
type VerificationRequiredError struct {
	// Touchpoint is the masked phone number or email the code was sent to.
	Touchpoint string
	CodeLength int
}

func (e *VerificationRequiredError) Error() string {
	return fmt.Sprintf("verification required for touchpoint %s", e.Touchpoint)
}

// ProofOfPossession is a signature produced by a key factor over a fresh
// challenge, proving the caller currently controls that factor.
type ProofOfPossession struct {
	Factor    domain.Factor
	Challenge []byte
	Signature []byte
	SignedAt  time.Time
}

type InitiateRecoveryRequest struct {
	AccountId               string
	LostFactor              domain.Factor
	DestinationAppKeys      domain.AppKeyBundle
	DestinationHardwareKeys domain.HardwareKeyBundle
	// CrossSignature binds the destination app auth key and the destination
	// hardware auth key together, signed by the hardware factor.
	CrossSignature []byte
}

type CompleteRecoveryRequest struct {
	AccountId string
	AttemptId string
	// RotationSignature is produced by the destination hardware factor over
	// the rotation challenge, AppSignature by the destination app
	// recovery-auth key. Both factors must attest before the keyset rotates.
	RotationSignature []byte
	AppSignature      []byte
}

// RecoveryClaim is the coordination service's authoritative view of the
// attempt occupying the account's single recovery slot.
type RecoveryClaim struct {
	AttemptId  string
	AccountId  string
	LostFactor domain.Factor
	StartedAt  time.Time
	ReadyAt    time.Time
	Status     domain.RecoveryStatus
}

// CoordinatorClient is the typed remote contract of the escrow/coordination
// service. It is pure I/O: all sequencing lives in the recovery state machine.
type CoordinatorClient interface {
	Initiate(ctx context.Context, req InitiateRecoveryRequest) (*RecoveryClaim, error)
	Cancel(ctx context.Context, accountId string, proof ProofOfPossession) error
	Complete(ctx context.Context, req CompleteRecoveryRequest) error
	// GetStatus returns the pending claim for the account, nil when none.
	GetStatus(ctx context.Context, accountId string) (*RecoveryClaim, error)
	SendVerificationCode(ctx context.Context, accountId string) (*VerificationRequiredError, error)
	ConfirmVerificationCode(ctx context.Context, accountId, code string) error
}
