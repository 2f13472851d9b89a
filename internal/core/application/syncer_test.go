package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwallet/kestreld/internal/core/application"
	"github.com/kestrelwallet/kestreld/internal/core/domain"
	"github.com/kestrelwallet/kestreld/internal/core/ports"
)

func TestSyncNoopWhenNothingPending(t *testing.T) {
	fixture := newSyncerFixture(t)

	require.NoError(t, fixture.syncer.Sync(context.Background()))
	require.Empty(t, drainEvents(fixture.syncer))
}

func TestSyncDetectsServerSideCancellation(t *testing.T) {
	fixture := newSyncerFixture(t)
	attempt := fixture.persistPendingAttempt(t, time.Now().Add(time.Hour))
	// GetStatus already returns nil by default: the slot is free server-side

	require.NoError(t, fixture.syncer.Sync(context.Background()))

	events := drainEvents(fixture.syncer)
	require.Len(t, events, 1)
	assert.Equal(t, application.SyncEventRecoveryCancelled, events[0].Type)
	assert.Equal(t, attempt.Id, events[0].Attempt.Id)

	persisted, err := fixture.repo.Recoveries().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, domain.RecoveryStatusCancelled, persisted.Status)
}

func TestSyncUnlocksCompletionWhenDelayElapses(t *testing.T) {
	t.Run("remote reports ready", func(t *testing.T) {
		fixture := newSyncerFixture(t)
		attempt := fixture.persistPendingAttempt(t, time.Now().Add(time.Hour))
		fixture.coordinator.statusFn = func(string) (*ports.RecoveryClaim, error) {
			return &ports.RecoveryClaim{
				AttemptId: attempt.Id,
				AccountId: testAccountId,
				StartedAt: attempt.StartedAt,
				ReadyAt:   attempt.ReadyAt,
				Status:    domain.RecoveryStatusReadyToComplete,
			}, nil
		}

		require.NoError(t, fixture.syncer.Sync(context.Background()))

		events := drainEvents(fixture.syncer)
		require.Len(t, events, 1)
		assert.Equal(t, application.SyncEventRecoveryReady, events[0].Type)

		persisted, err := fixture.repo.Recoveries().Get(
			context.Background(), testAccountId,
		)
		require.NoError(t, err)
		assert.Equal(t, domain.RecoveryStatusReadyToComplete, persisted.Status)
	})

	t.Run("local clock past readyAt", func(t *testing.T) {
		fixture := newSyncerFixture(t)
		attempt := fixture.persistPendingAttempt(t, time.Now().Add(-time.Minute))
		fixture.coordinator.statusFn = func(string) (*ports.RecoveryClaim, error) {
			return &ports.RecoveryClaim{
				AttemptId: attempt.Id,
				AccountId: testAccountId,
				StartedAt: attempt.StartedAt,
				ReadyAt:   attempt.ReadyAt,
				Status:    domain.RecoveryStatusPending,
			}, nil
		}

		require.NoError(t, fixture.syncer.Sync(context.Background()))

		events := drainEvents(fixture.syncer)
		require.Len(t, events, 1)
		assert.Equal(t, application.SyncEventRecoveryReady, events[0].Type)
	})
}

func TestSyncAdoptsAttemptFromAnotherDevice(t *testing.T) {
	fixture := newSyncerFixture(t)
	readyAt := time.Now().Add(48 * time.Hour)
	fixture.coordinator.statusFn = func(string) (*ports.RecoveryClaim, error) {
		return &ports.RecoveryClaim{
			AttemptId:  "remote-attempt",
			AccountId:  testAccountId,
			LostFactor: domain.FactorApp,
			StartedAt:  time.Now(),
			ReadyAt:    readyAt,
			Status:     domain.RecoveryStatusPending,
		}, nil
	}

	require.NoError(t, fixture.syncer.Sync(context.Background()))

	events := drainEvents(fixture.syncer)
	require.Len(t, events, 1)
	assert.Equal(t, application.SyncEventRecoveryAdopted, events[0].Type)

	persisted, err := fixture.repo.Recoveries().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, "remote-attempt", persisted.Id)
	assert.Equal(t, domain.FactorApp, persisted.LostFactor)
	assert.Equal(t, domain.RecoveryStatusPending, persisted.Status)

	// no destination keys were minted on this device
	assert.Nil(t, persisted.DestinationAppKeys)
}

func TestSyncRefreshesServerAuthoritativeReadyAt(t *testing.T) {
	fixture := newSyncerFixture(t)
	attempt := fixture.persistPendingAttempt(t, time.Now().Add(time.Hour))
	extended := attempt.ReadyAt.Add(24 * time.Hour)
	fixture.coordinator.statusFn = func(string) (*ports.RecoveryClaim, error) {
		return &ports.RecoveryClaim{
			AttemptId: attempt.Id,
			AccountId: testAccountId,
			StartedAt: attempt.StartedAt,
			ReadyAt:   extended,
			Status:    domain.RecoveryStatusPending,
		}, nil
	}

	require.NoError(t, fixture.syncer.Sync(context.Background()))

	persisted, err := fixture.repo.Recoveries().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	assert.Equal(t, extended.Unix(), persisted.ReadyAt.Unix())
	assert.Equal(t, domain.RecoveryStatusPending, persisted.Status)
	require.Empty(t, drainEvents(fixture.syncer))
}

func TestSyncPropagatesCoordinatorErrors(t *testing.T) {
	fixture := newSyncerFixture(t)
	fixture.persistPendingAttempt(t, time.Now().Add(time.Hour))
	fixture.coordinator.statusFn = func(string) (*ports.RecoveryClaim, error) {
		return nil, errors.New("gateway timeout")
	}

	err := fixture.syncer.Sync(context.Background())
	require.Error(t, err)

	// the local record is untouched on a failed pass
	persisted, err := fixture.repo.Recoveries().Get(context.Background(), testAccountId)
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryStatusPending, persisted.Status)
}

func TestStartSchedulesPeriodicSync(t *testing.T) {
	fixture := newSyncerFixture(t)

	require.NoError(t, fixture.syncer.Start())
	require.True(t, fixture.scheduler.started)
	require.Len(t, fixture.scheduler.tasks, 1)

	// a tick reschedules itself
	fixture.scheduler.runNext()
	require.Len(t, fixture.scheduler.tasks, 1)

	fixture.syncer.Stop()
	require.True(t, fixture.scheduler.stopped)
}

type syncerFixture struct {
	syncer      *application.StatusSyncer
	coordinator *mockCoordinator
	repo        *mockRepoManager
	scheduler   *mockScheduler
}

func newSyncerFixture(t *testing.T) *syncerFixture {
	coordinator := &mockCoordinator{
		statusFn: func(string) (*ports.RecoveryClaim, error) { return nil, nil },
	}
	repo := newMockRepoManager()
	scheduler := &mockScheduler{}

	syncer, err := application.NewStatusSyncer(
		coordinator, repo, scheduler, testAccountId, 60,
	)
	require.NoError(t, err)
	t.Cleanup(syncer.Stop)

	return &syncerFixture{syncer, coordinator, repo, scheduler}
}

func (f *syncerFixture) persistPendingAttempt(
	t *testing.T, readyAt time.Time,
) *domain.RecoveryAttempt {
	attempt := domain.NewRecoveryAttempt(testAccountId, domain.FactorHardware)
	require.NoError(t, attempt.Register(time.Now().Add(-time.Hour), readyAt))
	require.NoError(t, f.repo.Recoveries().Upsert(context.Background(), *attempt))
	return attempt
}

func drainEvents(syncer *application.StatusSyncer) []application.SyncEvent {
	var events []application.SyncEvent
	for {
		select {
		case event := <-syncer.Events():
			events = append(events, event)
		default:
			return events
		}
	}
}

// mockScheduler collects scheduled tasks so tests drive ticks manually.
type mockScheduler struct {
	started bool
	stopped bool
	tasks   []func()
}

func (m *mockScheduler) Start() { m.started = true }
func (m *mockScheduler) Stop()  { m.stopped = true }

func (m *mockScheduler) Unit() ports.TimeUnit { return ports.UnixTime }

func (m *mockScheduler) AddNow(delta int64) int64 {
	return time.Now().Unix() + delta
}

func (m *mockScheduler) AfterNow(at int64) bool {
	return at > time.Now().Unix()
}

func (m *mockScheduler) ScheduleTaskOnce(at int64, task func()) error {
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockScheduler) runNext() {
	if len(m.tasks) == 0 {
		return
	}
	task := m.tasks[0]
	m.tasks = m.tasks[1:]
	task()
}
