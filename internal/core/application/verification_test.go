package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestreld/internal/core/application"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

func TestVerificationFlow(t *testing.T) {
	challenge := &ports.VerificationRequiredError{
		Touchpoint: "+1-555-***-**00", CodeLength: 6,
	}

	t.Run("exposes the masked touchpoint", func(t *testing.T) {
		flow, err := application.NewVerificationFlow(
			&mockCoordinator{}, testAccountId, challenge,
		)
		require.NoError(t, err)
		assert.Equal(t, "+1-555-***-**00", flow.Touchpoint())
		assert.Equal(t, 6, flow.CodeLength())
	})

	t.Run("forwards the code verbatim", func(t *testing.T) {
		var submitted string
		coordinator := &mockCoordinator{
			confirmFn: func(accountId, code string) error {
				submitted = code
				return nil
			},
		}
		flow, err := application.NewVerificationFlow(
			coordinator, testAccountId, challenge,
		)
		require.NoError(t, err)

		require.NoError(t, flow.Submit(context.Background(), " 12-34 "))
		assert.Equal(t, " 12-34 ", submitted)
	})

	t.Run("empty code never reaches the service", func(t *testing.T) {
		coordinator := &mockCoordinator{
			confirmFn: func(accountId, code string) error {
				t.Fatal("unexpected confirm call")
				return nil
			},
		}
		flow, err := application.NewVerificationFlow(
			coordinator, testAccountId, challenge,
		)
		require.NoError(t, err)
		require.Error(t, flow.Submit(context.Background(), ""))
	})

	t.Run("expired and mismatched codes surface unchanged", func(t *testing.T) {
		for _, want := range []error{ports.ErrCodeExpired, ports.ErrCodeMismatch} {
			coordinator := &mockCoordinator{
				confirmFn: func(accountId, code string) error { return want },
			}
			flow, err := application.NewVerificationFlow(
				coordinator, testAccountId, challenge,
			)
			require.NoError(t, err)
			require.ErrorIs(t, flow.Submit(context.Background(), "123456"), want)
		}
	})

	t.Run("new code refreshes the touchpoint details", func(t *testing.T) {
		coordinator := &mockCoordinator{
			sendCodeFn: func(accountId string) (*ports.VerificationRequiredError, error) {
				return &ports.VerificationRequiredError{
					Touchpoint: "j***@example.com", CodeLength: 8,
				}, nil
			},
		}
		flow, err := application.NewVerificationFlow(
			coordinator, testAccountId, challenge,
		)
		require.NoError(t, err)

		require.NoError(t, flow.RequestNewCode(context.Background()))
		assert.Equal(t, "j***@example.com", flow.Touchpoint())
		assert.Equal(t, 8, flow.CodeLength())
	})

	t.Run("missing challenge", func(t *testing.T) {
		_, err := application.NewVerificationFlow(&mockCoordinator{}, testAccountId, nil)
		require.Error(t, err)
	})
}
