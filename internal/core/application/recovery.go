package application

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

var (
	// ErrRecoveryInFlight is returned by Begin when an attempt already
	// occupies the account's recovery slot, locally or server-side.
	ErrRecoveryInFlight = errors.New("a recovery attempt is already in flight for this account")
	// ErrNothingToResume is returned by Resume when no in-flight attempt is
	// persisted for the account.
	ErrNothingToResume = errors.New("no in-flight recovery attempt to resume")
)

const stateChannelBuffer = 16

// RecoveryService drives one recovery attempt from initiation to server
// acceptance or abandonment. It is the single writer of its state: every
// method runs to a definitive success or failure under the service lock, so
// transitions are serialized and I/O in flight cannot be interleaved.
// In-flight calls use the service's own context, tied to the attempt
// lifecycle rather than to any UI surface.
//
// Once an attempt reaches WaitingOutDelayPeriod, ownership of the persisted
// record passes to the StatusSyncer; completion is a distinct flow (see
// CompletionService) because it may run on a different device session than
// the one that initiated the attempt.
type RecoveryService struct {
	keygen      *KeyGenService
	coordinator ports.CoordinatorClient
	hardware    ports.HardwareChannel
	repoManager ports.RepoManager

	accountId string

	lock        *sync.Mutex
	state       State
	subscribers []chan State

	// working data of the attempt being driven, valid from Begin until
	// registration succeeds or the attempt is rolled back
	lostFactor         domain.Factor
	appKeys            *domain.AppKeyBundle
	hwKeys             *domain.HardwareKeyBundle
	crossSignature     []byte
	conflictDetectedAt time.Time
	cancellationProof  *ports.ProofOfPossession
	verification       *VerificationFlow
	replay             ReplayTarget

	ctx  context.Context
	stop context.CancelFunc
}

func NewRecoveryService(
	keygen *KeyGenService, coordinator ports.CoordinatorClient,
	hardware ports.HardwareChannel, repoManager ports.RepoManager,
	accountId string,
) (*RecoveryService, error) {
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
	return &RecoveryService{
		keygen:      keygen,
		coordinator: coordinator,
		hardware:    hardware,
		repoManager: repoManager,
		accountId:   accountId,
		lock:        &sync.Mutex{},
	}, nil
}

func (s *RecoveryService) CurrentState() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Subscribe registers a listener for state changes. The current state, if
// any, is delivered immediately.
func (s *RecoveryService) Subscribe() <-chan State {
	s.lock.Lock()
	defer s.lock.Unlock()

	ch := make(chan State, stateChannelBuffer)
	if s.state != nil {
		ch <- s.state
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Begin starts a new attempt for the given lost factor. It refuses to start
// while another attempt is in flight, locally or in the persisted record.
func (s *RecoveryService) Begin(lostFactor domain.Factor) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if lostFactor != domain.FactorApp && lostFactor != domain.FactorHardware {
		return fmt.Errorf("unsupported lost factor %s", lostFactor)
	}
	if s.state != nil {
		return ErrRecoveryInFlight
	}

	existing, err := s.repoManager.Recoveries().Get(
		context.Background(), s.accountId,
	)
	if err != nil {
		return fmt.Errorf("failed to check persisted recovery state: %w", err)
	}
	if existing != nil && existing.IsInFlight() {
		return ErrRecoveryInFlight
	}

	s.ctx, s.stop = context.WithCancel(context.Background())
	s.lostFactor = lostFactor
	log.Infof("recovery: starting attempt for lost %s factor", lostFactor)
	s.generateKeys()
	return nil
}

// Resume restores the machine from the persisted attempt after an app
// restart. The syncer remains the owner of the record.
func (s *RecoveryService) Resume() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state != nil {
		return ErrRecoveryInFlight
	}

	attempt, err := s.repoManager.Recoveries().Get(
		context.Background(), s.accountId,
	)
	if err != nil {
		return fmt.Errorf("failed to load persisted recovery state: %w", err)
	}
	if attempt == nil || !attempt.IsInFlight() {
		return ErrNothingToResume
	}

	log.Infof("recovery: resuming attempt %s in status %s", attempt.Id, attempt.Status)
	s.setState(WaitingOutDelayPeriod{Attempt: *attempt})
	return nil
}

// ProvideHardwareFactor supplies the destination hardware key bundle along
// with the cross-signature attesting it against the destination app keys.
// Registration with the coordination service starts right away.
func (s *RecoveryService) ProvideHardwareFactor(
	keys domain.HardwareKeyBundle, crossSignature []byte,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.state.(AwaitingNewHardwareFactor); !ok {
		return fmt.Errorf("cannot accept hardware factor in state %s", stateName(s.state))
	}
	if err := s.keygen.VerifyCrossSignature(*s.appKeys, keys, crossSignature); err != nil {
		return err
	}

	s.hwKeys = &keys
	s.crossSignature = crossSignature
	s.register()
	return nil
}

// Retry re-runs the step that failed. Only local failure states expose it.
func (s *RecoveryService) Retry() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch s.state.(type) {
	case KeyGenerationFailed:
		s.generateKeys()
	case RegistrationFailed:
		s.register()
	default:
		return fmt.Errorf("nothing to retry in state %s", stateName(s.state))
	}
	return nil
}

// Rollback abandons the current progress and returns to key generation with
// fresh destination material. It is refused once the attempt has been
// accepted server-side: from then on only an explicit cancel, observed by
// the syncer, releases the recovery slot.
func (s *RecoveryService) Rollback() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.state == nil {
		return fmt.Errorf("no recovery attempt to roll back")
	}
	if _, ok := s.state.(WaitingOutDelayPeriod); ok {
		return fmt.Errorf("cannot roll back a registered attempt, cancel it instead")
	}

	s.discardDraft()
	s.generateKeys()
	return nil
}

// ConfirmCancelConflict is the explicit user decision to cancel a conflicting
// attempt. A fresh proof of possession is demanded from the physically
// present hardware factor before any cancel call is issued.
func (s *RecoveryService) ConfirmCancelConflict() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.state.(DisplayingConflict); !ok {
		return fmt.Errorf("no conflicting recovery to cancel in state %s", stateName(s.state))
	}

	s.setState(AwaitingCancellationProof{ConflictDetectedAt: s.conflictDetectedAt})

	challenge := newCancellationChallenge()
	sig, err := s.hardware.Transmit(s.ctx, ports.SignChallengeCommand(challenge))
	if err != nil {
		log.WithError(err).Warn("recovery: failed to obtain proof of possession")
		s.setState(CancellationFailed{Err: err})
		return nil
	}

	s.cancellationProof = &ports.ProofOfPossession{
		Factor:    domain.FactorHardware,
		Challenge: challenge,
		Signature: sig,
		SignedAt:  time.Now(),
	}
	s.cancelConflicting()
	return nil
}

// DeclineCancelConflict records the user's refusal to cancel the pending
// attempt. No server call is made and the conflict keeps being displayed;
// the user may still roll back.
func (s *RecoveryService) DeclineCancelConflict() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.state.(DisplayingConflict); !ok {
		return fmt.Errorf("no conflicting recovery displayed in state %s", stateName(s.state))
	}
	return nil
}

// SubmitVerificationCode forwards a touchpoint code. On success the
// privileged call that triggered the detour is replayed with the same
// destination keys or proof.
func (s *RecoveryService) SubmitVerificationCode(code string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.state.(AwaitingNotificationVerification); !ok {
		return fmt.Errorf("no verification pending in state %s", stateName(s.state))
	}

	if err := s.verification.Submit(s.ctx, code); err != nil {
		// expired and mismatched codes are terminal for that code, anything
		// else is a retryable transport failure; either way the state holds
		return err
	}

	s.verification = nil
	switch s.replay {
	case ReplayInitiate:
		s.register()
	case ReplayCancel:
		s.cancelConflicting()
	}
	return nil
}

// RequestNewVerificationCode asks for a fresh code after expiry or mismatch.
func (s *RecoveryService) RequestNewVerificationCode() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.state.(AwaitingNotificationVerification); !ok {
		return fmt.Errorf("no verification pending in state %s", stateName(s.state))
	}
	if err := s.verification.RequestNewCode(s.ctx); err != nil {
		return err
	}
	s.setState(AwaitingNotificationVerification{
		Replay:     s.replay,
		Touchpoint: s.verification.Touchpoint(),
		CodeLength: s.verification.CodeLength(),
	})
	return nil
}

// Acknowledge dismisses a cancellation failure and returns to key
// generation, discarding current progress.
func (s *RecoveryService) Acknowledge() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.state.(CancellationFailed); !ok {
		return fmt.Errorf("nothing to acknowledge in state %s", stateName(s.state))
	}
	s.discardDraft()
	s.generateKeys()
	return nil
}

// Stop cancels any in-flight call and releases the machine. Persisted state
// is untouched: a registered attempt survives restarts through the syncer.
func (s *RecoveryService) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stop != nil {
		s.stop()
	}
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}

func (s *RecoveryService) generateKeys() {
	s.setState(GeneratingDestinationKeys{LostFactor: s.lostFactor})

	bundle, err := s.keygen.GenerateAppKeyBundle(s.ctx)
	if err != nil {
		log.WithError(err).Error("recovery: key generation failed")
		s.setState(KeyGenerationFailed{Err: err})
		return
	}
	s.appKeys = bundle
	s.setState(AwaitingNewHardwareFactor{AppKeys: *bundle})
}

// register calls initiate. The server is the source of truth for the
// account's recovery slot, so every retry path re-enters this step instead
// of assuming an earlier call went through.
func (s *RecoveryService) register() {
	s.setState(RegisteringWithCoordinator{})

	claim, err := s.coordinator.Initiate(s.ctx, ports.InitiateRecoveryRequest{
		AccountId:               s.accountId,
		LostFactor:              s.lostFactor,
		DestinationAppKeys:      *s.appKeys,
		DestinationHardwareKeys: *s.hwKeys,
		CrossSignature:          s.crossSignature,
	})
	if err == nil {
		attempt := domain.NewRecoveryAttempt(s.accountId, s.lostFactor)
		if len(claim.AttemptId) > 0 {
			attempt.Id = claim.AttemptId
		}
		attempt.DestinationAppKeys = s.appKeys
		attempt.DestinationHardwareKeys = s.hwKeys
		if err := attempt.Register(claim.StartedAt, claim.ReadyAt); err != nil {
			s.setState(RegistrationFailed{Err: err})
			return
		}
		if err := s.repoManager.Recoveries().Upsert(s.ctx, *attempt); err != nil {
			log.WithError(err).Error("recovery: failed to persist registered attempt")
			s.setState(RegistrationFailed{Err: err})
			return
		}
		log.Infof(
			"recovery: attempt %s registered, delay period ends at %s",
			attempt.Id, attempt.ReadyAt.Format(time.RFC3339),
		)
		s.setState(WaitingOutDelayPeriod{Attempt: *attempt})
		return
	}

	var verificationErr *ports.VerificationRequiredError
	switch {
	case errors.As(err, &verificationErr):
		s.enterVerification(ReplayInitiate, verificationErr)
	case errors.Is(err, ports.ErrConflictingRecovery):
		s.conflictDetectedAt = time.Now()
		log.Warn("recovery: conflicting attempt already pending server-side")
		s.setState(DisplayingConflict{DetectedAt: s.conflictDetectedAt})
	default:
		log.WithError(err).Warn("recovery: registration failed")
		s.setState(RegistrationFailed{Err: err})
	}
}

func (s *RecoveryService) cancelConflicting() {
	s.setState(CancellingConflictingAttempt{})

	err := s.coordinator.Cancel(s.ctx, s.accountId, *s.cancellationProof)
	if err == nil {
		log.Info("recovery: conflicting attempt cancelled, retrying registration")
		s.conflictDetectedAt = time.Time{}
		s.cancellationProof = nil
		s.register()
		return
	}

	var verificationErr *ports.VerificationRequiredError
	switch {
	case errors.As(err, &verificationErr):
		// the proof of possession is carried forward for the replay
		s.enterVerification(ReplayCancel, verificationErr)
	default:
		log.WithError(err).Warn("recovery: cancellation failed")
		s.setState(CancellationFailed{Err: err})
	}
}

func (s *RecoveryService) enterVerification(
	replay ReplayTarget, challenge *ports.VerificationRequiredError,
) {
	flow, err := NewVerificationFlow(s.coordinator, s.accountId, challenge)
	if err != nil {
		s.setState(RegistrationFailed{Err: err})
		return
	}
	s.verification = flow
	s.replay = replay
	s.setState(AwaitingNotificationVerification{
		Replay:     replay,
		Touchpoint: challenge.Touchpoint,
		CodeLength: challenge.CodeLength,
	})
}

// discardDraft drops all not-yet-submitted destination material so the next
// attempt starts from scratch.
func (s *RecoveryService) discardDraft() {
	if s.appKeys != nil {
		if err := s.keygen.DiscardAppKeyBundle(s.ctx, *s.appKeys); err != nil {
			log.WithError(err).Warn("recovery: failed to discard destination keys")
		}
	}
	s.appKeys = nil
	s.hwKeys = nil
	s.crossSignature = nil
	s.conflictDetectedAt = time.Time{}
	s.cancellationProof = nil
	s.verification = nil
}

func (s *RecoveryService) setState(state State) {
	prev := stateName(s.state)
	s.state = state
	log.Debugf("recovery: %s -> %s", prev, state.Name())

	for _, ch := range s.subscribers {
		select {
		case ch <- state:
		default:
			log.Warnf("recovery: dropping state update %s for slow subscriber", state.Name())
		}
	}
}

func stateName(state State) string {
	if state == nil {
		return "Idle"
	}
	return state.Name()
}

// newCancellationChallenge builds a unique challenge for a proof of
// possession. Freshness matters: a proof over a stale challenge could be
// replayed to cancel a different, later conflict.
func newCancellationChallenge() []byte {
	id := uuid.New()
	buf := make([]byte, 0, len(id)+8)
	buf = append(buf, id[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixNano()))
	return append(buf, ts[:]...)
}
