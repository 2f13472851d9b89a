package application

import (
	"time"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
)

// State is the discriminated value exposed to the host UI, one variant per
// step of the recovery flow. Each variant carries exactly the data needed to
// render it; user decisions come back in through the RecoveryService methods.
type State interface {
	Name() string
	isState()
}

type GeneratingDestinationKeys struct {
	LostFactor domain.Factor
}

type KeyGenerationFailed struct {
	Err error
}

type AwaitingNewHardwareFactor struct {
	AppKeys domain.AppKeyBundle
}

type RegisteringWithCoordinator struct{}

type RegistrationFailed struct {
	Err error
}

type AwaitingNotificationVerification struct {
	Replay     ReplayTarget
	Touchpoint string
	CodeLength int
}

type DisplayingConflict struct {
	DetectedAt time.Time
}

type AwaitingCancellationProof struct {
	ConflictDetectedAt time.Time
}

type CancellingConflictingAttempt struct{}

type CancellationFailed struct {
	Err error
}

type WaitingOutDelayPeriod struct {
	Attempt domain.RecoveryAttempt
}

func (GeneratingDestinationKeys) Name() string { return "GeneratingDestinationKeys" }
func (GeneratingDestinationKeys) isState()     {}

func (KeyGenerationFailed) Name() string { return "KeyGenerationFailed" }
func (KeyGenerationFailed) isState()     {}

func (AwaitingNewHardwareFactor) Name() string { return "AwaitingNewHardwareFactor" }
func (AwaitingNewHardwareFactor) isState()     {}

func (RegisteringWithCoordinator) Name() string { return "RegisteringWithCoordinator" }
func (RegisteringWithCoordinator) isState()     {}

func (RegistrationFailed) Name() string { return "RegistrationFailed" }
func (RegistrationFailed) isState()     {}

func (AwaitingNotificationVerification) Name() string {
	return "AwaitingNotificationVerification"
}
func (AwaitingNotificationVerification) isState() {}

func (DisplayingConflict) Name() string { return "DisplayingConflict" }
func (DisplayingConflict) isState()     {}

func (AwaitingCancellationProof) Name() string { return "AwaitingCancellationProof" }
func (AwaitingCancellationProof) isState()     {}

func (CancellingConflictingAttempt) Name() string { return "CancellingConflictingAttempt" }
func (CancellingConflictingAttempt) isState()     {}

func (CancellationFailed) Name() string { return "CancellationFailed" }
func (CancellationFailed) isState()     {}

func (WaitingOutDelayPeriod) Name() string { return "WaitingOutDelayPeriod" }
func (WaitingOutDelayPeriod) isState()     {}
