package usecase

import (
	"context"
	"fmt"
	"time"

	domrepo "ForeCrypt/internal/domain/repository"
	applogger "ForeCrypt/pkg/logger"
)

// MaintenanceUseCase is the daily housekeeping job: forecast retention and the
// combined view refresh.
type MaintenanceUseCase struct {
	forecasts domrepo.ForecastStore
	retention time.Duration
	clock     Clock
	l         *applogger.Logger
}

func NewMaintenanceUseCase(forecasts domrepo.ForecastStore, retention time.Duration, clock Clock, l *applogger.Logger) *MaintenanceUseCase {
	if clock == nil {
		clock = SystemClock{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &MaintenanceUseCase{forecasts: forecasts, retention: retention, clock: clock, l: l}
}

type MaintenanceResult struct {
	Deleted   int64     `json:"deleted"`
	Cutoff    time.Time `json:"cutoff,omitempty"`
	Refreshed bool      `json:"refreshed"`
}

// Run deletes forecasts issued before now-retention (when retention is set)
// and refreshes the combined view.
func (m *MaintenanceUseCase) Run(ctx context.Context) (MaintenanceResult, error) {
	var res MaintenanceResult
	if m.retention > 0 {
		res.Cutoff = m.clock.Now().Add(-m.retention)
		n, err := m.forecasts.DeleteForecastsBefore(ctx, res.Cutoff)
		if err != nil {
			return res, fmt.Errorf("retention: %w", err)
		}
		res.Deleted = n
	}
	if err := m.forecasts.RefreshCombinedView(ctx); err != nil {
		return res, fmt.Errorf("refresh combined view: %w", err)
	}
	res.Refreshed = true
	m.l.Info("maintenance finished",
		applogger.Int64("deleted", res.Deleted),
		applogger.Time("cutoff", res.Cutoff),
	)
	return res, nil
}
