package bootstrap

import (
	"context"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

// unavailableProcessor backs the invoice service in processes that only
// cancel orders.
type unavailableProcessor struct{}

func (unavailableProcessor) CreatePayment(context.Context, processor.CreatePaymentRequest) (*processor.Payment, error) {
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor not configured in this process")
}
