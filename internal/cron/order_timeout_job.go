package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

const defaultTimeoutBatch = 200

// OrderTimeoutJobParams configure the expired order sweep.
type OrderTimeoutJobParams struct {
	Logger    *logger.Logger
	Orders    orderCanceller
	BatchSize int
	Clock     func() time.Time
}

type orderCanceller interface {
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, input orders.CancelInput) (*orders.CancelResult, error)
	FlagForReview(ctx context.Context, orderID uuid.UUID, reason string) error
}

// NewOrderTimeoutJob builds the job that cancels orders past their deadline.
func NewOrderTimeoutJob(params OrderTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultTimeoutBatch
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &orderTimeoutJob{
		logg:   params.Logger,
		orders: params.Orders,
		batch:  batch,
		now:    now,
	}, nil
}

type orderTimeoutJob struct {
	logg   *logger.Logger
	orders orderCanceller
	batch  int
	now    func() time.Time
}

func (j *orderTimeoutJob) Name() string { return "order-timeout" }

// Run cancels one batch of expired orders. A failure on one order does not
// stop the others; all failures are returned together.
func (j *orderTimeoutJob) Run(ctx context.Context) error {
	expired, err := j.orders.FindExpiredPending(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("query expired orders: %w", err)
	}

	var (
		errs      error
		cancelled int
		skipped   int
		flagged   int
	)
	for _, order := range expired {
		orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
		_, err := j.orders.Cancel(orderCtx, order.ID, orders.CancelInput{Reason: enums.CancelReasonTimeout})
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, orders.ErrOrderFinalized), errors.Is(err, orders.ErrOrderNotExpired):
			skipped++
		case errors.Is(err, orders.ErrDataIntegrity):
			j.logg.Error(orderCtx, "expired order failed integrity check", err)
			if flagErr := j.orders.FlagForReview(orderCtx, order.ID, err.Error()); flagErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("flag order %s: %w", order.ID, flagErr))
				continue
			}
			flagged++
		default:
			j.logg.Error(orderCtx, "timeout cancellation failed", err)
			errs = multierr.Append(errs, fmt.Errorf("cancel order %s: %w", order.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"found":     len(expired),
		"cancelled": cancelled,
		"skipped":   skipped,
		"flagged":   flagged,
	})
	j.logg.Info(logCtx, "order timeout sweep complete")
	return errs
}
