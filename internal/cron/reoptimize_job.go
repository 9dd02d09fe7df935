package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	"github.com/angelmondragon/warehouse-allocator/pkg/logger"
)

type partialReoptimizer interface {
	ReoptimizePartialOrders(ctx context.Context) ([]models.Order, error)
}

// NewReoptimizeJob sweeps every partially reserved order. It picks up stock
// freed by cancels or restocks whose eager reoptimization failed.
func NewReoptimizeJob(logg *logger.Logger, reoptimizer partialReoptimizer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reoptimizer == nil {
		return nil, fmt.Errorf("reoptimizer required")
	}
	return &reoptimizeJob{logg: logg, reoptimizer: reoptimizer}, nil
}

type reoptimizeJob struct {
	logg        *logger.Logger
	reoptimizer partialReoptimizer
}

func (j *reoptimizeJob) Name() string { return "reoptimize-partial-orders" }

// Run reports the sweep's combined per-order errors after the whole sweep
// has been attempted.
func (j *reoptimizeJob) Run(ctx context.Context) error {
	improved, err := j.reoptimizer.ReoptimizePartialOrders(ctx)
	j.logg.Info(j.logg.WithField(ctx, "improved_orders", len(improved)), "partial order sweep finished")
	if err != nil {
		return fmt.Errorf("reoptimize partial orders: %w", err)
	}
	return nil
}
