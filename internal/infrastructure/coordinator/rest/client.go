package restcoordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

// Structured error codes of the coordination service's API. Only the
// semantic contract matters here: each code maps to a typed error the state
// machine has a dedicated transition for.
const (
	errCodeVerificationRequired = "COMMS_VERIFICATION_REQUIRED"
	errCodeConflictingRecovery  = "RECOVERY_ALREADY_EXISTS"
	errCodeCodeExpired          = "CODE_EXPIRED"
	errCodeCodeMismatch         = "CODE_MISMATCH"
	errCodeNoPendingRecovery    = "NO_PENDING_RECOVERY"
)

type client struct {
	url        string
	httpClient *http.Client
}

// New creates a coordination service client for the given base URL.
func New(url string) ports.CoordinatorClient {
	url = strings.TrimSuffix(url, "/")

	return &client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) Initiate(
	ctx context.Context, req ports.InitiateRecoveryRequest,
) (*ports.RecoveryClaim, error) {
	body := initiateRequest{
		LostFactor: req.LostFactor.String(),
		AppKeys: appKeyBundle{
			SpendPubKey:        req.DestinationAppKeys.SpendPubKey,
			AuthPubKey:         req.DestinationAppKeys.AuthPubKey,
			RecoveryAuthPubKey: req.DestinationAppKeys.RecoveryAuthPubKey,
		},
		HardwareKeys: hardwareKeyBundle{
			SpendPubKey: req.DestinationHardwareKeys.SpendPubKey,
			AuthPubKey:  req.DestinationHardwareKeys.AuthPubKey,
		},
		CrossSignature: req.CrossSignature,
	}

	data, err := c.makeRequest(
		ctx, http.MethodPost,
		fmt.Sprintf("/v1/accounts/%s/recovery", req.AccountId), body,
	)
	if err != nil {
		return nil, err
	}

	var resp recoveryClaimResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery claim: %w", err)
	}
	return resp.toClaim(req.AccountId)
}

func (c *client) Cancel(
	ctx context.Context, accountId string, proof ports.ProofOfPossession,
) error {
	body := cancelRequest{
		Factor:    proof.Factor.String(),
		Challenge: proof.Challenge,
		Signature: proof.Signature,
		SignedAt:  proof.SignedAt.Unix(),
	}
	_, err := c.makeRequest(
		ctx, http.MethodDelete,
		fmt.Sprintf("/v1/accounts/%s/recovery", accountId), body,
	)
	return err
}

func (c *client) Complete(
	ctx context.Context, req ports.CompleteRecoveryRequest,
) error {
	body := completeRequest{
		AttemptId:         req.AttemptId,
		RotationSignature: req.RotationSignature,
		AppSignature:      req.AppSignature,
	}
	_, err := c.makeRequest(
		ctx, http.MethodPost,
		fmt.Sprintf("/v1/accounts/%s/recovery/complete", req.AccountId), body,
	)
	return err
}

func (c *client) GetStatus(
	ctx context.Context, accountId string,
) (*ports.RecoveryClaim, error) {
	data, err := c.makeRequest(
		ctx, http.MethodGet,
		fmt.Sprintf("/v1/accounts/%s/recovery", accountId), nil,
	)
	if err != nil {
		if errors.Is(err, ports.ErrNoPendingRecovery) {
			return nil, nil
		}
		return nil, err
	}

	var resp recoveryClaimResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recovery status: %w", err)
	}
	return resp.toClaim(accountId)
}

func (c *client) SendVerificationCode(
	ctx context.Context, accountId string,
) (*ports.VerificationRequiredError, error) {
	data, err := c.makeRequest(
		ctx, http.MethodPost,
		fmt.Sprintf("/v1/accounts/%s/touchpoints/verification", accountId), nil,
	)
	if err != nil {
		return nil, err
	}

	var resp verificationChallengeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification challenge: %w", err)
	}
	return &ports.VerificationRequiredError{
		Touchpoint: resp.Touchpoint,
		CodeLength: resp.CodeLength,
	}, nil
}

func (c *client) ConfirmVerificationCode(
	ctx context.Context, accountId, code string,
) error {
	body := confirmCodeRequest{Code: code}
	_, err := c.makeRequest(
		ctx, http.MethodPut,
		fmt.Sprintf("/v1/accounts/%s/touchpoints/verification", accountId), body,
	)
	return err
}

// makeRequest handles HTTP requests to the coordination service API with
// proper headers, translating structured error responses into the typed
// errors of the ports package.
func (c *client) makeRequest(
	ctx context.Context, method, endpoint string, body interface{},
) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseError(resp.StatusCode, bodyBytes)
	}

	return bodyBytes, nil
}

func parseError(status int, body []byte) error {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Code) == 0 {
		return fmt.Errorf("HTTP %d: %s", status, string(body))
	}

	switch resp.Code {
	case errCodeVerificationRequired:
		return &ports.VerificationRequiredError{
			Touchpoint: resp.Details.Touchpoint,
			CodeLength: resp.Details.CodeLength,
		}
	case errCodeConflictingRecovery:
		return ports.ErrConflictingRecovery
	case errCodeCodeExpired:
		return ports.ErrCodeExpired
	case errCodeCodeMismatch:
		return ports.ErrCodeMismatch
	case errCodeNoPendingRecovery:
		return ports.ErrNoPendingRecovery
	default:
		return fmt.Errorf("HTTP %d (%s): %s", status, resp.Code, resp.Message)
	}
}

func parseFactor(factor string) domain.Factor {
	switch factor {
	case domain.FactorApp.String():
		return domain.FactorApp
	case domain.FactorHardware.String():
		return domain.FactorHardware
	default:
		return domain.FactorUnknown
	}
}

func parseStatus(status string) domain.RecoveryStatus {
	switch status {
	case domain.RecoveryStatusPending.String():
		return domain.RecoveryStatusPending
	case domain.RecoveryStatusReadyToComplete.String():
		return domain.RecoveryStatusReadyToComplete
	case domain.RecoveryStatusCompleted.String():
		return domain.RecoveryStatusCompleted
	case domain.RecoveryStatusCancelled.String():
		return domain.RecoveryStatusCancelled
	default:
		return domain.RecoveryStatusUnknown
	}
}
