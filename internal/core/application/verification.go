package application

import (
	"context"
	"fmt"

	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

// ReplayTarget tags a verification detour with the privileged call that must
// be replayed once the one-time code is confirmed.
type ReplayTarget uint8

const (
	ReplayInitiate ReplayTarget = iota
	ReplayCancel
	ReplayComplete
)

func (t ReplayTarget) String() string {
	return []string{
		"Initiate",
		"Cancel",
		"Complete",
	}[t]
}

// VerificationFlow gates a privileged coordination-service call behind a
// one-time code sent to a registered touchpoint. The code is treated as an
// opaque token and forwarded as-is; expiry and mismatch are detected only
// through the service's response. The flow is reusable by any privileged
// caller: recovery initiation, conflict cancellation and completion.
type VerificationFlow struct {
	coordinator ports.CoordinatorClient
	accountId   string
	touchpoint  string
	codeLength  int
}

func NewVerificationFlow(
	coordinator ports.CoordinatorClient, accountId string,
	challenge *ports.VerificationRequiredError,
) (*VerificationFlow, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("missing coordinator client")
	}
	if len(accountId) == 0 {
		return nil, fmt.Errorf("missing account id")
	}
	if challenge == nil {
		return nil, fmt.Errorf("missing verification challenge")
	}
	return &VerificationFlow{
		coordinator: coordinator,
		accountId:   accountId,
		touchpoint:  challenge.Touchpoint,
		codeLength:  challenge.CodeLength,
	}, nil
}

func (f *VerificationFlow) Touchpoint() string {
	return f.touchpoint
}

func (f *VerificationFlow) CodeLength() int {
	return f.codeLength
}

// Submit forwards the code to the coordination service. ErrCodeExpired and
// ErrCodeMismatch are surfaced unchanged so the caller can offer a new code;
// any other error is retryable.
func (f *VerificationFlow) Submit(ctx context.Context, code string) error {
	if len(code) == 0 {
		return fmt.Errorf("missing verification code")
	}
	return f.coordinator.ConfirmVerificationCode(ctx, f.accountId, code)
}

// RequestNewCode asks the coordination service to send a fresh code to the
// registered touchpoint.
func (f *VerificationFlow) RequestNewCode(ctx context.Context) error {
	challenge, err := f.coordinator.SendVerificationCode(ctx, f.accountId)
	if err != nil {
		return err
	}
	if challenge != nil {
		f.touchpoint = challenge.Touchpoint
		f.codeLength = challenge.CodeLength
	}
	return nil
}
