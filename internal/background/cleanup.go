package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentra-auth/sentra/internal/repositories"
)

// CleanupManager periodically sweeps expired sessions, prunes spent
// reset tokens, and purges audit rows past the retention horizon.
type CleanupManager struct {
	sessions       *repositories.SessionRepository
	resets         *repositories.PasswordResetRepository
	events         *repositories.SecurityEventRepository
	logger         *slog.Logger
	interval       time.Duration
	eventRetention time.Duration
	resetRetention time.Duration
	stopCh         chan struct{}
}

// NewCleanupManager creates a new cleanup manager. eventRetention is
// how long audit rows are kept; resetRetention is how long used or
// expired reset tokens linger before deletion.
func NewCleanupManager(
	sessions *repositories.SessionRepository,
	resets *repositories.PasswordResetRepository,
	events *repositories.SecurityEventRepository,
	logger *slog.Logger,
	interval time.Duration,
	eventRetention time.Duration,
	resetRetention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sessions:       sessions,
		resets:         resets,
		events:         events,
		logger:         logger,
		interval:       interval,
		eventRetention: eventRetention,
		resetRetention: resetRetention,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if swept, err := cm.sessions.SweepExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to sweep expired sessions", slog.Any("error", err))
	} else if swept > 0 {
		cm.logger.Info("swept expired sessions", slog.Int64("sessions", swept))
	}

	if deleted, err := cm.resets.DeleteExpired(cleanupCtx, cm.resetRetention); err != nil {
		cm.logger.Error("failed to prune reset tokens", slog.Any("error", err))
	} else if deleted > 0 {
		cm.logger.Info("pruned reset tokens", slog.Int64("tokens", deleted))
	}

	// Retention purge is the only path that ever deletes audit rows
	horizon := time.Now().Add(-cm.eventRetention)
	if purged, err := cm.events.PurgeOlderThan(cleanupCtx, horizon); err != nil {
		cm.logger.Error("failed to purge security events", slog.Any("error", err))
	} else if purged > 0 {
		cm.logger.Info("purged security events past retention", slog.Int64("events", purged))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
