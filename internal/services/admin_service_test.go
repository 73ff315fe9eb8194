package services

import (
	"context"
	"testing"
	"time"

	"github.com/sentra-auth/sentra/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminFixture(accounts *MockAccountStore, threats *MockThreatStore, rep *MockReputation) (*AdminService, *MemoryEventStore, *AuditService) {
	audit, store := newTestAudit()
	lockout := NewLockoutService(accounts, audit, &MockEmailService{}, 5, 30*time.Minute, testLogger())
	svc := NewAdminService(lockout, audit, threats, rep, testLogger())
	return svc, store, audit
}

func testAdmin() *models.Account {
	return &models.Account{ID: "admin1", AdminLevel: models.LevelAdmin, Status: models.AccountStatusActive}
}

func TestAdminService_UnlockAccount(t *testing.T) {
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

	svc, store, audit := newAdminFixture(accounts, &MockThreatStore{}, &MockReputation{})

	err := svc.UnlockAccount(context.Background(), "acct1", testAdmin(), "10.0.0.1")
	audit.Close()

	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Len(t, store.EventsOfType(models.EventAccountUnlocked), 1)
}

func TestAdminService_SecurityEvents(t *testing.T) {
	svc, _, audit := newAdminFixture(&MockAccountStore{}, &MockThreatStore{}, &MockReputation{})

	audit.Record(&models.SecurityEvent{EventType: models.EventLoginFailed, IPAddress: "1.2.3.4"})
	audit.Close()

	events, err := svc.SecurityEvents(context.Background(), models.EventFilter{})

	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventLoginFailed, events[0].EventType)
}

func TestAdminService_MitigateThreat_IPBlock(t *testing.T) {
	threat := &models.ThreatRecord{ID: "threat1", IPAddress: "6.6.6.6", ThreatType: models.ThreatBruteForce}
	threats := &MockThreatStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.ThreatRecord, error) {
			return threat, nil
		},
		MitigateFunc: func(ctx context.Context, id, action string) (*models.ThreatRecord, error) {
			out := *threat
			out.Mitigated = true
			out.MitigationAction = &action
			return &out, nil
		},
	}

	var blacklistedIP string
	rep := &MockReputation{
		BlacklistFunc: func(ctx context.Context, ip string, ttl time.Duration) error {
			blacklistedIP = ip
			return nil
		},
	}

	svc, store, audit := newAdminFixture(&MockAccountStore{}, threats, rep)

	mitigated, err := svc.MitigateThreat(context.Background(), "threat1", models.MitigationIPBlock, testAdmin(), "10.0.0.1")
	audit.Close()

	require.NoError(t, err)
	assert.True(t, mitigated.Mitigated)
	assert.Equal(t, "6.6.6.6", blacklistedIP)

	events := store.EventsOfType(models.EventThreatMitigated)
	require.Len(t, events, 1)
	assert.Equal(t, models.MitigationIPBlock, events[0].Detail["action"])
}

func TestAdminService_MitigateThreat_AlreadyMitigated(t *testing.T) {
	threats := &MockThreatStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.ThreatRecord, error) {
			return &models.ThreatRecord{ID: id, Mitigated: true}, nil
		},
	}

	svc, _, audit := newAdminFixture(&MockAccountStore{}, threats, &MockReputation{})
	defer audit.Close()

	_, err := svc.MitigateThreat(context.Background(), "threat1", models.MitigationNone, testAdmin(), "10.0.0.1")

	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestAdminService_MitigateThreat_UnknownAction(t *testing.T) {
	svc, _, audit := newAdminFixture(&MockAccountStore{}, &MockThreatStore{}, &MockReputation{})
	defer audit.Close()

	_, err := svc.MitigateThreat(context.Background(), "threat1", "nuke-from-orbit", testAdmin(), "10.0.0.1")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAdminService_MitigateThreat_NotFound(t *testing.T) {
	svc, _, audit := newAdminFixture(&MockAccountStore{}, &MockThreatStore{}, &MockReputation{})
	defer audit.Close()

	_, err := svc.MitigateThreat(context.Background(), "missing", models.MitigationNone, testAdmin(), "10.0.0.1")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminService_Threats_LimitDefaults(t *testing.T) {
	var gotLimit, gotOffset int
	threats := &MockThreatStore{
		ListFunc: func(ctx context.Context, includeMitigated bool, limit, offset int) ([]*models.ThreatRecord, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}

	svc, _, audit := newAdminFixture(&MockAccountStore{}, threats, &MockReputation{})
	defer audit.Close()

	_, err := svc.Threats(context.Background(), false, 0, -5)

	require.NoError(t, err)
	assert.Equal(t, 100, gotLimit)
	assert.Zero(t, gotOffset)
}
