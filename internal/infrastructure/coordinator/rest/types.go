package restcoordinator

import (
	"fmt"
	"time"

	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

type appKeyBundle struct {
	SpendPubKey        string `json:"spend_pubkey"`
	AuthPubKey         string `json:"auth_pubkey"`
	RecoveryAuthPubKey string `json:"recovery_auth_pubkey"`
}

type hardwareKeyBundle struct {
	SpendPubKey string `json:"spend_pubkey"`
	AuthPubKey  string `json:"auth_pubkey"`
}

type initiateRequest struct {
	LostFactor     string            `json:"lost_factor"`
	AppKeys        appKeyBundle      `json:"destination_app_keys"`
	HardwareKeys   hardwareKeyBundle `json:"destination_hardware_keys"`
	CrossSignature []byte            `json:"cross_signature"`
}

type cancelRequest struct {
	Factor    string `json:"factor"`
	Challenge []byte `json:"challenge"`
	Signature []byte `json:"signature"`
	SignedAt  int64  `json:"signed_at"`
}

type completeRequest struct {
	AttemptId         string `json:"attempt_id"`
	RotationSignature []byte `json:"rotation_signature"`
	AppSignature      []byte `json:"app_signature"`
}

type confirmCodeRequest struct {
	Code string `json:"code"`
}

type verificationChallengeResponse struct {
	Touchpoint string `json:"touchpoint"`
	CodeLength int    `json:"code_length"`
}

type recoveryClaimResponse struct {
	AttemptId  string `json:"attempt_id"`
	LostFactor string `json:"lost_factor"`
	StartedAt  string `json:"started_at"`
	ReadyAt    string `json:"ready_at"`
	Status     string `json:"status"`
}

func (r recoveryClaimResponse) toClaim(accountId string) (*ports.RecoveryClaim, error) {
	if len(r.AttemptId) == 0 {
		return nil, fmt.Errorf("missing attempt id in response")
	}
	startedAt, err := time.Parse(time.RFC3339, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at timestamp: %w", err)
	}
	readyAt, err := time.Parse(time.RFC3339, r.ReadyAt)
	if err != nil {
		return nil, fmt.Errorf("invalid ready_at timestamp: %w", err)
	}

	return &ports.RecoveryClaim{
		AttemptId:  r.AttemptId,
		AccountId:  accountId,
		LostFactor: parseFactor(r.LostFactor),
		StartedAt:  startedAt,
		ReadyAt:    readyAt,
		Status:     parseStatus(r.Status),
	}, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details struct {
		Touchpoint string `json:"touchpoint"`
		CodeLength int    `json:"code_length"`
	} `json:"details"`
}
