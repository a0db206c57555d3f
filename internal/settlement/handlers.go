package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/wallet"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/money"
)

const (
	creditReasonOverpayment  = "overpayment"
	creditReasonUnderpayment = "underpayment"
	creditReasonLatePayment  = "late_payment"
)

// smallestUnit is the minimum retry invoice when rounding hides a shortfall.
var smallestUnit = decimal.New(1, -money.Places)

// handleExact completes the order. Any excess inside the tolerance band is
// kept by the shop.
func (s *service) handleExact(ctx context.Context, st *settlement) error {
	st.record.IsOverpayment = st.outcome == enums.PaymentOutcomeMinorOverpayment
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}
	if err := s.addPaidCrypto(ctx, st); err != nil {
		return err
	}
	return s.orders.CompletePayment(ctx, st.tx, st.order)
}

// handleOverpayment credits the fiat excess, valued at the invoice rate, and
// completes the order.
func (s *service) handleOverpayment(ctx context.Context, st *settlement) error {
	st.record.IsOverpayment = true
	excess := st.fiat.Sub(st.invoice.FiatAmount)
	if excess.IsPositive() {
		if err := wallet.Credit(ctx, st.tx, st.order.UserID, excess); err != nil {
			return err
		}
		st.record.WalletCreditAmount = &excess
		st.result.WalletCredit = excess
	}
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}
	if err := s.addPaidCrypto(ctx, st); err != nil {
		return err
	}
	if err := s.orders.CompletePayment(ctx, st.tx, st.order); err != nil {
		return err
	}
	if !excess.IsPositive() {
		return nil
	}
	return s.notifier.WalletCredited(ctx, st.tx, st.order, excess, decimal.Zero, creditReasonOverpayment)
}

// handleFirstUnderpayment keeps the order open for one retry: the expiry is
// extended and a new invoice is issued for exactly the fiat shortfall.
func (s *service) handleFirstUnderpayment(ctx context.Context, st *settlement) error {
	order := st.order
	if !order.Status.CanTransitionTo(enums.OrderStatusPendingPaymentPartial) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot accept a partial payment in status %s", order.Status))
	}
	st.record.IsUnderpayment = true
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}

	order.Status = enums.OrderStatusPendingPaymentPartial
	order.TotalPaidCrypto = order.TotalPaidCrypto.Add(st.notice.CryptoAmount)
	order.RetryCount = 1
	order.ExpiresAt = order.ExpiresAt.Add(s.cfg.UnderpaymentRetryWindow())
	if err := s.orders.SaveInTx(ctx, st.tx, order, "status", "total_paid_crypto", "retry_count", "expires_at"); err != nil {
		return err
	}

	if err := s.invoices.Deactivate(ctx, st.tx, st.invoice.ID); err != nil {
		return err
	}
	shortfall := money.RoundUp(st.invoice.FiatAmount.Sub(st.fiat))
	if !shortfall.IsPositive() {
		shortfall = smallestUnit
	}
	crypto := st.record.CryptoCurrency
	if st.invoice.PaymentCryptoCurrency != nil {
		crypto = *st.invoice.PaymentCryptoCurrency
	}
	retry, err := s.invoices.IssueInvoice(ctx, st.tx, order.ID, shortfall, order.Currency, crypto)
	if err != nil {
		return err
	}
	st.result.RetryInvoice = retry
	return s.notifier.UnderpaymentRetry(ctx, st.tx, order, retry)
}

// handleSecondUnderpayment ends the order. Both partial payments, each valued
// at its own invoice rate, are refunded minus the underpayment penalty; the
// wallet portion is returned in full.
func (s *service) handleSecondUnderpayment(ctx context.Context, st *settlement) error {
	prior, err := s.sumUnderpaid(ctx, st)
	if err != nil {
		return err
	}
	received := prior.Add(st.fiat)
	pct := s.cfg.UnderpaymentPenaltyPercent
	penalty, net := money.CalculatePenalty(received, pct)
	credit := st.order.WalletUsed.Add(net)

	st.record.IsUnderpayment = true
	st.record.PenaltyApplied = penalty.IsPositive()
	st.record.PenaltyPercent = pct
	st.record.WalletCreditAmount = &credit
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}
	if err := s.closeWithCredit(ctx, st, credit, penalty, creditReasonUnderpayment); err != nil {
		return err
	}
	return nil
}

// handleLate refunds a payment that arrived after the deadline minus the
// late penalty. An order still open is cancelled here, so its wallet portion
// and earlier partial payments are refunded in the same credit.
func (s *service) handleLate(ctx context.Context, st *settlement) error {
	pct := s.cfg.LatePaymentPenaltyPercent
	penalty, credit := money.CalculatePenalty(st.fiat, pct)

	open := !st.order.Status.IsTerminal()
	if open {
		prior, err := s.sumUnderpaid(ctx, st)
		if err != nil {
			return err
		}
		credit = credit.Add(st.order.WalletUsed).Add(prior)
	}

	st.record.IsLatePayment = true
	st.record.PenaltyApplied = penalty.IsPositive()
	st.record.PenaltyPercent = pct
	st.record.WalletCreditAmount = &credit
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}

	if open {
		return s.closeWithCredit(ctx, st, credit, penalty, creditReasonLatePayment)
	}
	if credit.IsPositive() {
		if err := wallet.Credit(ctx, st.tx, st.order.UserID, credit); err != nil {
			return err
		}
	}
	st.result.WalletCredit = credit
	st.result.Penalty = penalty
	if !credit.IsPositive() {
		return nil
	}
	return s.notifier.WalletCredited(ctx, st.tx, st.order, credit, penalty, creditReasonLatePayment)
}

// handleCurrencyMismatch records the payment and alerts admins. The order
// row is left as is so its deadline still applies.
func (s *service) handleCurrencyMismatch(ctx context.Context, st *settlement) error {
	st.record.IsCurrencyMismatch = true
	if st.notice.FiatAmount.IsPositive() {
		st.record.FiatAmount = money.Round(st.notice.FiatAmount)
	}
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}
	expected := ""
	if st.invoice.PaymentCryptoCurrency != nil {
		expected = *st.invoice.PaymentCryptoCurrency
	}
	reason := fmt.Sprintf("payment received in %s, invoice expects %s", st.record.CryptoCurrency, expected)
	return s.orders.RequestReviewInTx(ctx, st.tx, st.order, reason)
}

// handleAlreadyPaid keeps a payment against a paid order for audit only.
func (s *service) handleAlreadyPaid(ctx context.Context, st *settlement) error {
	st.record.IsOverpayment = true
	st.record.IsLatePayment = st.outcome == enums.PaymentOutcomeLatePayment
	st.record.IsCurrencyMismatch = st.outcome == enums.PaymentOutcomeCurrencyMismatch
	if err := s.saveRecord(ctx, st); err != nil {
		return err
	}
	return s.orders.FlagForReviewInTx(ctx, st.tx, st.order, "payment received for an already paid order")
}

// closeWithCredit credits the wallet once and cancels the order as TIMEOUT
// without a second refund.
func (s *service) closeWithCredit(ctx context.Context, st *settlement, credit, penalty decimal.Decimal, reason string) error {
	if credit.IsPositive() {
		if err := wallet.Credit(ctx, st.tx, st.order.UserID, credit); err != nil {
			return err
		}
	}
	if err := s.addPaidCrypto(ctx, st); err != nil {
		return err
	}
	if err := s.invoices.Deactivate(ctx, st.tx, st.invoice.ID); err != nil {
		return err
	}
	if _, err := s.orders.CancelInTx(ctx, st.tx, st.order, enums.CancelReasonTimeout, orders.CancelOptions{SkipRefund: true}); err != nil {
		return err
	}
	st.result.WalletCredit = credit
	st.result.Penalty = penalty
	if !credit.IsPositive() {
		return nil
	}
	return s.notifier.WalletCredited(ctx, st.tx, st.order, credit, penalty, reason)
}

func (s *service) addPaidCrypto(ctx context.Context, st *settlement) error {
	st.order.TotalPaidCrypto = st.order.TotalPaidCrypto.Add(st.notice.CryptoAmount)
	return s.orders.SaveInTx(ctx, st.tx, st.order, "total_paid_crypto")
}

// sumUnderpaid totals the fiat of partial payments recorded before this one.
func (s *service) sumUnderpaid(ctx context.Context, st *settlement) (decimal.Decimal, error) {
	rows, err := s.repo.WithTx(st.tx).ListByOrder(ctx, st.order.ID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load recorded payments")
	}
	total := decimal.Zero
	for _, row := range rows {
		if row.IsUnderpayment {
			total = total.Add(row.FiatAmount)
		}
	}
	return total, nil
}
