package orders

import (
	"errors"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

var (
	// ErrOrderFinalized marks an order that is already paid or cancelled.
	ErrOrderFinalized = errors.New("order already finalized")
	// ErrOrderNotExpired rejects a timeout cancellation before the deadline.
	ErrOrderNotExpired = errors.New("order has not expired")
	// ErrDataIntegrity marks an order whose records contradict its status.
	ErrDataIntegrity = errors.New("order data integrity violation")
)

func finalized() error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderFinalized, "order is already finalized")
}

func notExpired() error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderNotExpired, "order has not expired yet")
}

func integrity(message string) error {
	return pkgerrors.Wrap(pkgerrors.CodeIntegrity, ErrDataIntegrity, message)
}

func stale(err error) error {
	if errors.Is(err, ErrStaleOrder) {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "order changed concurrently, retry")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order")
}
