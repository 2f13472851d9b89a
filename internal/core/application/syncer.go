package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

type SyncEventType uint8

const (
	// SyncEventRecoveryCancelled signals the server no longer holds the
	// attempt the local record expected, e.g. the owner cancelled it from
	// another device. The flow must be re-entered from scratch.
	SyncEventRecoveryCancelled SyncEventType = iota
	// SyncEventRecoveryReady signals the delay period has elapsed and the
	// completion flow is unlocked.
	SyncEventRecoveryReady
	// SyncEventRecoveryAdopted signals an attempt initiated on another
	// device session has been picked up and persisted locally.
	SyncEventRecoveryAdopted
)

func (t SyncEventType) String() string {
	return []string{
		"RecoveryCancelled",
		"RecoveryReady",
		"RecoveryAdopted",
	}[t]
}

type SyncEvent struct {
	Type    SyncEventType
	Attempt domain.RecoveryAttempt
}

// StatusSyncer reconciles the persisted recovery attempt against the
// coordination service's authoritative view, periodically and on demand.
// It owns writes to the persisted record from Pending onward: the state
// machine hands the attempt over at registration and never writes it again.
type StatusSyncer struct {
	coordinator ports.CoordinatorClient
	repoManager ports.RepoManager
	scheduler   ports.SchedulerService

	accountId    string
	pollInterval int64

	eventsCh chan SyncEvent
	lock     *sync.Mutex
	stopped  bool
}

func NewStatusSyncer(
	coordinator ports.CoordinatorClient, repoManager ports.RepoManager,
	scheduler ports.SchedulerService, accountId string, pollInterval int64,
) (*StatusSyncer, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("missing coordinator client")
	}
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("missing scheduler service")
	}
	if len(accountId) == 0 {
		return nil, fmt.Errorf("missing account id")
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %d", pollInterval)
	}
	return &StatusSyncer{
		coordinator:  coordinator,
		repoManager:  repoManager,
		scheduler:    scheduler,
		accountId:    accountId,
		pollInterval: pollInterval,
		eventsCh:     make(chan SyncEvent, 8),
		lock:         &sync.Mutex{},
	}, nil
}

func (s *StatusSyncer) Start() error {
	s.scheduler.Start()

	if err := s.Sync(context.Background()); err != nil {
		log.WithError(err).Warn("syncer: initial sync failed")
	}
	return s.scheduleNext()
}

func (s *StatusSyncer) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.scheduler.Stop()
	close(s.eventsCh)
}

// Events delivers reconciliation outcomes the host must react to.
func (s *StatusSyncer) Events() <-chan SyncEvent {
	return s.eventsCh
}

// Sync runs one reconciliation pass. Exported so the host can trigger it on
// app foreground in addition to the periodic polls.
func (s *StatusSyncer) Sync(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.stopped {
		return nil
	}

	recoveries := s.repoManager.Recoveries()

	local, err := recoveries.Get(ctx, s.accountId)
	if err != nil {
		return fmt.Errorf("failed to load local recovery state: %w", err)
	}
	remote, err := s.coordinator.GetStatus(ctx, s.accountId)
	if err != nil {
		return fmt.Errorf("failed to fetch recovery status: %w", err)
	}

	if remote == nil {
		if local == nil || !local.IsInFlight() {
			return nil
		}
		// the slot was released without us completing: server-side cancel
		if err := local.Cancel(); err != nil {
			return err
		}
		if err := recoveries.Upsert(ctx, *local); err != nil {
			return fmt.Errorf("failed to persist cancelled attempt: %w", err)
		}
		log.Infof("syncer: attempt %s was cancelled server-side", local.Id)
		s.emit(SyncEvent{Type: SyncEventRecoveryCancelled, Attempt: *local})
		return nil
	}

	if local == nil || !local.IsInFlight() {
		// attempt initiated from another device session, adopt it locally
		// so this device can display and, factor permitting, complete it
		adopted := domain.RecoveryAttempt{
			Id:         remote.AttemptId,
			AccountId:  s.accountId,
			LostFactor: remote.LostFactor,
		}
		if err := adopted.Register(remote.StartedAt, remote.ReadyAt); err != nil {
			return err
		}
		if err := recoveries.Upsert(ctx, adopted); err != nil {
			return fmt.Errorf("failed to persist adopted attempt: %w", err)
		}
		log.Infof("syncer: adopted attempt %s initiated elsewhere", adopted.Id)
		s.emit(SyncEvent{Type: SyncEventRecoveryAdopted, Attempt: adopted})
		local = &adopted
	}

	// readyAt is server-authoritative, refresh local drift
	if !local.ReadyAt.Equal(remote.ReadyAt) && !remote.ReadyAt.IsZero() {
		local.ReadyAt = remote.ReadyAt
		local.UpdatedAt = time.Now()
		if err := recoveries.Upsert(ctx, *local); err != nil {
			return fmt.Errorf("failed to refresh attempt: %w", err)
		}
	}

	delayElapsed := remote.Status == domain.RecoveryStatusReadyToComplete ||
		!time.Now().Before(local.ReadyAt)
	if local.Status == domain.RecoveryStatusPending && delayElapsed {
		if err := local.MarkReadyToComplete(); err != nil {
			return err
		}
		if err := recoveries.Upsert(ctx, *local); err != nil {
			return fmt.Errorf("failed to persist ready attempt: %w", err)
		}
		log.Infof("syncer: attempt %s is ready to complete", local.Id)
		s.emit(SyncEvent{Type: SyncEventRecoveryReady, Attempt: *local})
	}
	return nil
}

func (s *StatusSyncer) scheduleNext() error {
	return s.scheduler.ScheduleTaskOnce(
		s.scheduler.AddNow(s.pollInterval), s.tick,
	)
}

func (s *StatusSyncer) tick() {
	s.lock.Lock()
	stopped := s.stopped
	s.lock.Unlock()
	if stopped {
		return
	}

	if err := s.Sync(context.Background()); err != nil {
		log.WithError(err).Warn("syncer: sync failed")
	}
	if err := s.scheduleNext(); err != nil {
		log.WithError(err).Error("syncer: failed to schedule next sync")
	}
}

func (s *StatusSyncer) emit(event SyncEvent) {
	select {
	case s.eventsCh <- event:
	default:
		log.Warnf("syncer: dropping event %s, channel full", event.Type)
	}
}
