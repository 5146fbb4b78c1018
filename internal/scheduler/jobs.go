package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"ForeCrypt/internal/domain/models"
	"ForeCrypt/internal/usecase"
	"ForeCrypt/pkg/queue"
)

// TickJob runs one forecast tick at the scheduler's clock reading.
type TickJob struct {
	Cycle *usecase.CycleScheduler
}

func (TickJob) Name() string { return "forecast_tick" }

func (j TickJob) Run(ctx context.Context) error {
	r := j.Cycle.RunTick(ctx, j.Cycle.Now())
	if r.Skipped != "" {
		return fmt.Errorf("tick skipped: %s", r.Skipped)
	}
	return nil
}

// MaintenanceJob prunes old forecasts and refreshes the combined view.
type MaintenanceJob struct {
	Maintenance *usecase.MaintenanceUseCase
}

func (MaintenanceJob) Name() string { return "maintenance" }

func (j MaintenanceJob) Run(ctx context.Context) error {
	_, err := j.Maintenance.Run(ctx)
	return err
}

// ManualTickJob runs ticks requested through the tick queue.
type ManualTickJob struct {
	Cycle *usecase.CycleScheduler
}

func (ManualTickJob) Name() string { return "manual_tick" }

func (ManualTickJob) Type() string { return models.TickRequestType }

func (j ManualTickJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[models.TickRequest](payload)
	if err != nil {
		return err
	}
	if req.Hour.IsZero() {
		return fmt.Errorf("%w: tick request without hour", queue.ErrSkip)
	}
	r := j.Cycle.RunTick(ctx, req.Hour)
	if r.Skipped != "" {
		// Another instance holds the lease for this hour.
		return fmt.Errorf("%w: %s", queue.ErrSkip, r.Skipped)
	}
	return nil
}
