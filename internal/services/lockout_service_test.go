package services

import (
	"context"
	"testing"
	"time"

	"github.com/sentra-auth/sentra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLockoutFixture(accounts *MockAccountStore) (*LockoutService, *MemoryEventStore, *AuditService) {
	audit, store := newTestAudit()
	svc := NewLockoutService(accounts, audit, &MockEmailService{}, 5, 30*time.Minute, testLogger())
	return svc, store, audit
}

func TestLockoutService_Check_ActiveLock(t *testing.T) {
	unlockAt := time.Now().UTC().Add(10 * time.Minute)
	account := &models.Account{ID: "acct1", LockedUntil: &unlockAt, FailedAttempts: 5}

	svc, _, audit := newLockoutFixture(&MockAccountStore{})
	defer audit.Close()

	err := svc.Check(context.Background(), account)

	locked, ok := models.AsAccountLocked(err)
	require.True(t, ok)
	assert.Equal(t, unlockAt, locked.UnlockAt)
}

func TestLockoutService_Check_ExpiredLockResetsCounter(t *testing.T) {
	pastUnlock := time.Now().UTC().Add(-time.Minute)
	account := &models.Account{ID: "acct1", LockedUntil: &pastUnlock, FailedAttempts: 5}

	resetCalled := false
	accounts := &MockAccountStore{
		ResetIfLockExpiredFunc: func(ctx context.Context, id string) (bool, error) {
			resetCalled = true
			return true, nil
		},
	}

	svc, _, audit := newLockoutFixture(accounts)
	defer audit.Close()

	err := svc.Check(context.Background(), account)

	require.NoError(t, err)
	assert.True(t, resetCalled)
	assert.Zero(t, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
}

func TestLockoutService_RecordFailure_BelowThreshold(t *testing.T) {
	accounts := &MockAccountStore{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
			return 3, nil, nil
		},
	}

	svc, store, audit := newLockoutFixture(accounts)

	err := svc.RecordFailure(context.Background(), &models.Account{ID: "acct1"}, "1.2.3.4", "test-agent")
	audit.Close()

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Len(t, store.EventsOfType(models.EventLoginFailed), 1)
	assert.Empty(t, store.EventsOfType(models.EventAccountLocked))
}

func TestLockoutService_RecordFailure_ThresholdLocks(t *testing.T) {
	lockedUntil := time.Now().UTC().Add(30 * time.Minute)
	accounts := &MockAccountStore{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
			return threshold, &lockedUntil, nil
		},
	}

	svc, store, audit := newLockoutFixture(accounts)

	err := svc.RecordFailure(context.Background(), &models.Account{ID: "acct1", Email: "a@example.com"}, "1.2.3.4", "test-agent")
	audit.Close()

	locked, ok := models.AsAccountLocked(err)
	require.True(t, ok)
	assert.Equal(t, lockedUntil, locked.UnlockAt)

	lockEvents := store.EventsOfType(models.EventAccountLocked)
	require.Len(t, lockEvents, 1)
	assert.Equal(t, models.SeverityWarning, lockEvents[0].Severity)
}

func TestLockoutService_RecordFailure_PastThresholdNoSecondLockEvent(t *testing.T) {
	// Attempt 6 during an episode where the lock already lapsed is a
	// plain failure; the lock event fires only on the exact transition.
	lockedUntil := time.Now().UTC().Add(30 * time.Minute)
	accounts := &MockAccountStore{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
			return 6, &lockedUntil, nil
		},
	}

	svc, store, audit := newLockoutFixture(accounts)

	err := svc.RecordFailure(context.Background(), &models.Account{ID: "acct1"}, "1.2.3.4", "test-agent")
	audit.Close()

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Empty(t, store.EventsOfType(models.EventAccountLocked))
}

func TestLockoutService_RecordFailure_RaceLostReportsLock(t *testing.T) {
	lockedUntil := time.Now().UTC().Add(30 * time.Minute)
	accounts := &MockAccountStore{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
			// Conditional update missed: another request locked the row.
			return 0, nil, models.ErrNotFound
		},
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return &models.Account{ID: id, LockedUntil: &lockedUntil, FailedAttempts: 5}, nil
		},
	}

	svc, _, audit := newLockoutFixture(accounts)
	defer audit.Close()

	err := svc.RecordFailure(context.Background(), &models.Account{ID: "acct1"}, "1.2.3.4", "test-agent")

	locked, ok := models.AsAccountLocked(err)
	require.True(t, ok)
	assert.Equal(t, lockedUntil, locked.UnlockAt)
}

func TestLockoutService_RecordFailure_SendsLockoutNotice(t *testing.T) {
	lockedUntil := time.Now().UTC().Add(30 * time.Minute)
	accounts := &MockAccountStore{
		IncrementFailedAttemptsFunc: func(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
			return threshold, &lockedUntil, nil
		},
	}

	sent := make(chan string, 1)
	email := &MockEmailService{
		SendLockoutNoticeFunc: func(ctx context.Context, addr string, unlockAt time.Time) error {
			sent <- addr
			return nil
		},
	}

	audit, _ := newTestAudit()
	defer audit.Close()
	svc := NewLockoutService(accounts, audit, email, 5, 30*time.Minute, testLogger())

	err := svc.RecordFailure(context.Background(), &models.Account{ID: "acct1", Email: "owner@example.com"}, "1.2.3.4", "test-agent")
	require.Error(t, err)

	select {
	case addr := <-sent:
		assert.Equal(t, "owner@example.com", addr)
	case <-time.After(2 * time.Second):
		t.Fatal("lockout notice was not sent")
	}
}

func TestLockoutService_AdminUnlock(t *testing.T) {
	cleared := false
	accounts := &MockAccountStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return &models.Account{ID: id}, nil
		},
		ClearLockoutFunc: func(ctx context.Context, id string) error {
			cleared = true
			return nil
		},
	}

	svc, store, audit := newLockoutFixture(accounts)

	err := svc.AdminUnlock(context.Background(), "acct1", "admin1", "10.0.0.1")
	audit.Close()

	require.NoError(t, err)
	assert.True(t, cleared)

	events := store.EventsOfType(models.EventAccountUnlocked)
	require.Len(t, events, 1)
	assert.Equal(t, "admin1", events[0].Detail["unlocked_by"])
}

func TestLockoutService_AdminUnlock_UnknownAccount(t *testing.T) {
	svc, _, audit := newLockoutFixture(&MockAccountStore{})
	defer audit.Close()

	err := svc.AdminUnlock(context.Background(), "missing", "admin1", "10.0.0.1")

	assert.ErrorIs(t, err, models.ErrNotFound)
}
