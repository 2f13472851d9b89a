package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Factor uint8

const (
	FactorUnknown Factor = iota
	FactorApp
	FactorHardware
)

func (f Factor) String() string {
	return []string{
		"Unknown",
		"App",
		"Hardware",
	}[f]
}

type RecoveryStatus uint8

const (
	RecoveryStatusUnknown RecoveryStatus = iota
	RecoveryStatusPending
	RecoveryStatusReadyToComplete
	RecoveryStatusCompleted
	RecoveryStatusCancelled
)

func (s RecoveryStatus) String() string {
	return []string{
		"Unknown",
		"Pending",
		"ReadyToComplete",
		"Completed",
		"Cancelled",
	}[s]
}

// RecoveryAttempt is the unit of work for one delay-and-notify recovery.
// It is persisted once the coordination service has accepted it (Pending) and
// is the resumption anchor for the status syncer across app restarts.
type RecoveryAttempt struct {
	Id                      string
	AccountId               string
	LostFactor              Factor
	DestinationAppKeys      *AppKeyBundle
	DestinationHardwareKeys *HardwareKeyBundle
	HardwareProof           []byte
	StartedAt               time.Time
	ReadyAt                 time.Time
	Status                  RecoveryStatus
	UpdatedAt               time.Time
}

func NewRecoveryAttempt(accountId string, lostFactor Factor) *RecoveryAttempt {
	return &RecoveryAttempt{
		Id:         uuid.New().String(),
		AccountId:  accountId,
		LostFactor: lostFactor,
	}
}

// Register marks the attempt as accepted by the coordination service.
// The startedAt and readyAt timestamps are server-authoritative.
func (a *RecoveryAttempt) Register(startedAt, readyAt time.Time) error {
	if a.Status != RecoveryStatusUnknown {
		return fmt.Errorf(
			"cannot register recovery attempt in status %s", a.Status,
		)
	}
	a.Status = RecoveryStatusPending
	a.StartedAt = startedAt
	a.ReadyAt = readyAt
	a.UpdatedAt = time.Now()
	return nil
}

func (a *RecoveryAttempt) MarkReadyToComplete() error {
	if a.Status != RecoveryStatusPending {
		return fmt.Errorf(
			"cannot mark recovery attempt ready in status %s", a.Status,
		)
	}
	a.Status = RecoveryStatusReadyToComplete
	a.UpdatedAt = time.Now()
	return nil
}

func (a *RecoveryAttempt) Complete() error {
	if a.Status != RecoveryStatusReadyToComplete {
		return fmt.Errorf(
			"cannot complete recovery attempt in status %s", a.Status,
		)
	}
	a.Status = RecoveryStatusCompleted
	a.UpdatedAt = time.Now()
	return nil
}

func (a *RecoveryAttempt) Cancel() error {
	if a.IsFinalized() {
		return fmt.Errorf(
			"cannot cancel recovery attempt in status %s", a.Status,
		)
	}
	a.Status = RecoveryStatusCancelled
	a.UpdatedAt = time.Now()
	return nil
}

// IsInFlight reports whether the attempt occupies the single server-side
// recovery slot for the account.
func (a *RecoveryAttempt) IsInFlight() bool {
	return a.Status == RecoveryStatusPending ||
		a.Status == RecoveryStatusReadyToComplete
}

func (a *RecoveryAttempt) IsFinalized() bool {
	return a.Status == RecoveryStatusCompleted ||
		a.Status == RecoveryStatusCancelled
}
