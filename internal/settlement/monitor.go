package settlement

import (
	"context"
	"time"

	"github.com/Aidin1998/otcdesk/pkg/models"
	"go.uber.org/zap"
)

// Monitor times out settlements that overran their expected completion by
// more than the grace period. Confirmed settlements are owed completion, not
// failure, so an overdue confirming settlement is completed instead.
type Monitor struct {
	orch     *Orchestrator
	grace    time.Duration
	interval time.Duration
	logger   *zap.Logger
}

func NewMonitor(orch *Orchestrator, grace, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{orch: orch, grace: grace, interval: interval, logger: logger}
}

// Sweep handles every overdue settlement at now and returns the failed ids.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.UTC().Add(-m.grace)
	var overdue []models.Settlement
	err := m.orch.db.WithContext(ctx).
		Where("status IN ? AND expected_completion < ?", []models.SettlementStatus{
			models.SettlementPending, models.SettlementProcessing, models.SettlementConfirming,
		}, cutoff).
		Find(&overdue).Error
	if err != nil {
		return nil, err
	}

	var failed []string
	completed := 0
	for _, st := range overdue {
		if st.Status == models.SettlementConfirming {
			if _, err := m.orch.CompleteSettlement(ctx, st.ID); err != nil {
				m.logger.Warn("failed to complete overdue settlement", zap.String("settlement_id", st.ID), zap.Error(err))
				continue
			}
			m.orch.scheduler.Cancel(st.ID)
			completed++
			continue
		}
		if _, err := m.orch.FailSettlement(ctx, st.ID, "settlement timed out"); err != nil {
			m.logger.Warn("failed to time out settlement", zap.String("settlement_id", st.ID), zap.Error(err))
			continue
		}
		failed = append(failed, st.ID)
	}
	if len(failed) > 0 || completed > 0 {
		m.logger.Info("overdue settlements handled", zap.Int("failed", len(failed)), zap.Int("completed", completed))
	}
	return failed, nil
}

// Run sweeps every interval until ctx is done.
// Confirming settlements left over from a previous process are scheduled
// first.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.orch.Resume(ctx); err != nil {
		m.logger.Error("failed to resume confirming settlements", zap.Error(err))
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if _, err := m.Sweep(ctx, t); err != nil {
				m.logger.Error("settlement monitor sweep failed", zap.Error(err))
			}
		}
	}
}
