// Package bootstrap builds the order and settlement services shared by the
// api and sweeper binaries.
package bootstrap

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/invoices"
	"github.com/angelmondragon/settlement-engine/internal/notifications"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/settlement"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
)

// TxRunner is satisfied by *db.Client.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Services struct {
	Orders     orders.Service
	Invoices   invoices.Service
	Settlement settlement.Service
	Outbox     *outbox.Service
}

// NewServices wires the domain services against one database.
// processorClient may be nil for binaries that never issue invoices.
func NewServices(cfg *config.Config, logg *logger.Logger, gdb *gorm.DB, tx TxRunner, processorClient invoices.PaymentCreator, m *metrics.SettlementMetrics) (*Services, error) {
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)

	notifier, err := notifications.NewOutboxNotifier(outboxSvc)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	if processorClient == nil {
		processorClient = unavailableProcessor{}
	}
	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:             invoices.NewRepository(gdb),
		Processor:        processorClient,
		ProcessorTimeout: cfg.Processor.Timeout,
		Logger:           logg,
	})
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:                  orders.NewRepository(gdb),
		Tx:                    tx,
		Invoices:              invoiceSvc,
		Notifier:              notifier,
		Outbox:                outboxSvc,
		Config:                cfg.Orders,
		DefaultCryptoCurrency: cfg.Processor.DefaultCryptoCurrency,
		Logger:                logg,
	})
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Repo:     settlement.NewRepository(gdb),
		Tx:       tx,
		Orders:   orderSvc,
		Invoices: invoiceSvc,
		Notifier: notifier,
		Outbox:   outboxSvc,
		Config:   cfg.Orders,
		Metrics:  m,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	return &Services{
		Orders:     orderSvc,
		Invoices:   invoiceSvc,
		Settlement: settlementSvc,
		Outbox:     outboxSvc,
	}, nil
}
