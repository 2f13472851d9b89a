package ports

import (
	"context"
	"errors"
	"fmt"
)

// HardwareCommand is one operation executed against the paired hardware
// device over NFC. Retryable is an explicit per-command capability flag
// declared by the operation definer: commands whose replay after a
// successful-but-unacknowledged response would lose data must not be retried.
type HardwareCommand struct {
	Name      string
	Retryable bool
	Payload   []byte
}

func GenerateKeyBundleCommand() HardwareCommand {
	return HardwareCommand{Name: "generate-key-bundle", Retryable: true}
}

func SignChallengeCommand(challenge []byte) HardwareCommand {
	return HardwareCommand{Name: "sign-challenge", Retryable: true, Payload: challenge}
}

func ProveOwnershipCommand(challenge []byte) HardwareCommand {
	return HardwareCommand{Name: "prove-ownership", Retryable: true, Payload: challenge}
}

func EnrollmentStatusCommand() HardwareCommand {
	return HardwareCommand{Name: "enrollment-status", Retryable: true}
}

func DeviceInfoCommand() HardwareCommand {
	return HardwareCommand{Name: "device-info", Retryable: true}
}

// Fetch-and-clear commands delete data on the device as part of a successful
// response, so a blind retry could drop it silently.

func FetchAndClearEventLogCommand() HardwareCommand {
	return HardwareCommand{Name: "fetch-and-clear-event-log", Retryable: false}
}

func FetchAndClearCrashDumpsCommand() HardwareCommand {
	return HardwareCommand{Name: "fetch-and-clear-crash-dumps", Retryable: false}
}

type HardwareErrorCode uint8

const (
	HardwareErrorUnknown HardwareErrorCode = iota
	// HardwareErrorTransient covers recoverable transport faults: tag lost,
	// connection dropped, command timed out.
	HardwareErrorTransient
	HardwareErrorUserCancelled
	HardwareErrorWrongCredential
)

func (c HardwareErrorCode) String() string {
	return []string{
		"Unknown",
		"Transient",
		"UserCancelled",
		"WrongCredential",
	}[c]
}

type HardwareError struct {
	Code    HardwareErrorCode
	Command string
	Message string
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf(
		"hardware command %s failed (%s): %s", e.Command, e.Code, e.Message,
	)
}

func (e *HardwareError) Transient() bool {
	return e.Code == HardwareErrorTransient
}

func IsTransientHardwareError(err error) bool {
	var hwErr *HardwareError
	return errors.As(err, &hwErr) && hwErr.Transient()
}

// HardwareChannel transmits a single command per tap, no pipelining.
// Response payloads are opaque to this layer: the byte encoding belongs to
// the transport, callers only depend on the command contract.
type HardwareChannel interface {
	Transmit(ctx context.Context, cmd HardwareCommand) ([]byte, error)
}
