// Package orders owns the checkout state machine: creation with stock
// reservation, the wallet/crypto payment split, completion and cancellation.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/invoices"
	"github.com/angelmondragon/settlement-engine/internal/notifications"
	"github.com/angelmondragon/settlement-engine/internal/reservation"
	"github.com/angelmondragon/settlement-engine/internal/wallet"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/money"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
)

const defaultReviewReason = "manual review requested"

// Service is the order lifecycle API. Methods with a tx parameter join the
// caller's transaction and expect the order row to be locked already.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error)
	SubmitShippingAddress(ctx context.Context, orderID, userID uuid.UUID, address string) (*models.Order, error)
	ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*PaymentResult, error)
	CompletePayment(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Cancel(ctx context.Context, orderID uuid.UUID, input CancelInput) (*CancelResult, error)
	CancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, opts CancelOptions) (*CancelResult, error)
	FlagForReview(ctx context.Context, orderID uuid.UUID, reason string) error
	FlagForReviewInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
	RequestReviewInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
	LockInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	SaveInTx(ctx context.Context, tx *gorm.DB, order *models.Order, columns ...string) error
	Get(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the order service dependencies.
type ServiceParams struct {
	Repo                  Repository
	Tx                    txRunner
	Invoices              invoices.Service
	Notifier              notifications.Notifier
	Outbox                outboxPublisher
	Config                config.OrdersConfig
	DefaultCryptoCurrency string
	Logger                *logger.Logger
	Clock                 func() time.Time
}

type service struct {
	repo          Repository
	tx            txRunner
	invoices      invoices.Service
	notifier      notifications.Notifier
	outbox        outboxPublisher
	cfg           config.OrdersConfig
	defaultCrypto string
	logg          *logger.Logger
	clock         func() time.Time
}

// NewService validates params and builds the order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Config.TimeoutMinutes <= 0 {
		return nil, fmt.Errorf("order timeout must be positive")
	}
	if strings.TrimSpace(params.Config.Currency) == "" {
		return nil, fmt.Errorf("order currency required")
	}
	crypto := params.DefaultCryptoCurrency
	if crypto == "" {
		crypto = string(enums.CryptoBTC)
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:          params.Repo,
		tx:            params.Tx,
		invoices:      params.Invoices,
		notifier:      params.Notifier,
		outbox:        params.Outbox,
		cfg:           params.Config,
		defaultCrypto: crypto,
		logg:          params.Logger,
		clock:         clock,
	}, nil
}

func (s *service) now() time.Time {
	return s.clock().UTC()
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	lines, err := normalizeLines(input.Lines)
	if err != nil {
		return nil, err
	}

	var (
		result    *CreateOrderResult
		noStock   bool
		zeroTotal bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := wallet.LockUser(ctx, tx, input.UserID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		if !s.cfg.AllowMultiplePending {
			pending, err := repo.HasPendingOrder(ctx, input.UserID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check pending orders")
			}
			if pending {
				return pkgerrors.New(pkgerrors.CodeConflict, "user already has a pending order")
			}
		}

		now := s.now()
		expires := now.Add(s.cfg.Timeout())
		order := &models.Order{
			UserID:            input.UserID,
			Status:            enums.OrderStatusPendingPaymentAndAddress,
			TotalPrice:        decimal.Zero,
			ShippingCost:      decimal.Zero,
			Currency:          s.cfg.Currency,
			TotalPaidCrypto:   decimal.Zero,
			WalletUsed:        decimal.Zero,
			Version:           1,
			CreatedAt:         now,
			ExpiresAt:         expires,
			OriginalExpiresAt: expires,
			UpdatedAt:         now,
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}

		var units []models.Item
		adjustments := []Adjustment{}
		for _, line := range lines {
			reserved, err := reservation.Reserve(ctx, tx, line.SubcategoryID, line.Quantity, order.ID)
			if err != nil {
				return err
			}
			units = append(units, reserved.Units...)
			if reserved.Shortfall() > 0 {
				adjustments = append(adjustments, Adjustment{
					SubcategoryID: line.SubcategoryID,
					Requested:     line.Quantity,
					Reserved:      reserved.Reserved(),
				})
			}
		}
		result = &CreateOrderResult{Order: order, Adjustments: adjustments}

		if len(units) == 0 {
			noStock = true
			if err := transition(order, enums.OrderStatusCancelledBySystem); err != nil {
				return err
			}
			order.CancelledAt = &now
			return s.save(ctx, tx, order, "status", "cancelled_at")
		}

		total, shipping, physical := priceUnits(units)
		if !total.IsPositive() {
			// nothing to pay for; hand the units back and close the order
			zeroTotal = true
			if _, err := reservation.Release(ctx, tx, order.ID); err != nil {
				return err
			}
			if err := transition(order, enums.OrderStatusCancelledBySystem); err != nil {
				return err
			}
			order.CancelledAt = &now
			return s.save(ctx, tx, order, "status", "cancelled_at")
		}
		order.TotalPrice = total
		order.ShippingCost = shipping
		order.HasPhysicalItems = physical
		if !physical {
			if err := transition(order, enums.OrderStatusPendingPayment); err != nil {
				return err
			}
		}
		return s.save(ctx, tx, order, "status", "total_price", "shipping_cost", "has_physical_items")
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": result.Order.ID.String(),
		"user_id":  input.UserID.String(),
		"status":   result.Order.Status.String(),
	})
	if noStock {
		s.logg.Warn(ctx, "order cancelled, no stock for any line")
		return result, pkgerrors.New(pkgerrors.CodeConflict, "no stock available for the requested items").
			WithDetails(map[string]any{"order_id": result.Order.ID.String()})
	}
	if zeroTotal {
		s.logg.Warn(ctx, "order cancelled, reserved units are free of charge")
		return result, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive").
			WithDetails(map[string]any{"order_id": result.Order.ID.String()})
	}
	s.logg.Info(ctx, "order created")
	return result, nil
}

func (s *service) SubmitShippingAddress(ctx context.Context, orderID, userID uuid.UUID, address string) (*models.Order, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.LockInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.Status.IsTerminal() {
			return finalized()
		}
		if order.Status != enums.OrderStatusPendingPaymentAndAddress {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order does not expect a shipping address")
		}
		if err := transition(order, enums.OrderStatusPendingPayment); err != nil {
			return err
		}
		order.ShippingAddress = &address
		return s.save(ctx, tx, order, "status", "shipping_address")
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*PaymentResult, error) {
	raw := strings.TrimSpace(input.CryptoCurrency)
	if raw == "" {
		raw = s.defaultCrypto
	}
	crypto, err := enums.ParseCryptoCurrency(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported crypto currency")
	}

	var result *PaymentResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockInTx(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if input.UserID != uuid.Nil && order.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.Status.IsTerminal() {
			return finalized()
		}

		active, err := s.invoices.ActiveForOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if active != nil {
			result = &PaymentResult{Order: order, Invoice: active, WalletDeducted: decimal.Zero}
			return nil
		}

		switch order.Status {
		case enums.OrderStatusPendingPayment:
		case enums.OrderStatusPendingPaymentAndAddress:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "shipping address required before payment")
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
		}
		if order.IsExpired(s.now()) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order payment window has closed")
		}

		user, err := wallet.LockUser(ctx, tx, order.UserID)
		if err != nil {
			return err
		}
		deducted := decimal.Zero
		if remaining := order.RemainingDue(); remaining.IsPositive() && user.Balance().IsPositive() {
			deducted = money.Min(user.Balance(), remaining)
			if err := wallet.Debit(ctx, tx, order.UserID, deducted); err != nil {
				return err
			}
			order.WalletUsed = order.WalletUsed.Add(deducted)
			if err := s.save(ctx, tx, order, "wallet_used"); err != nil {
				return err
			}
		}

		remaining := order.RemainingDue()
		if !remaining.IsPositive() {
			invoice, err := s.invoices.IssueWalletOnlyInvoice(ctx, tx, order.ID, order.TotalPrice, order.Currency)
			if err != nil {
				return err
			}
			if err := s.CompletePayment(ctx, tx, order); err != nil {
				return err
			}
			result = &PaymentResult{Order: order, Invoice: invoice, WalletDeducted: deducted, Completed: true}
			return nil
		}

		invoice, err := s.invoices.IssueInvoice(ctx, tx, order.ID, remaining, order.Currency, crypto.String())
		if err != nil {
			return err
		}
		result = &PaymentResult{Order: order, Invoice: invoice, WalletDeducted: deducted}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":        result.Order.ID.String(),
		"invoice_id":      result.Invoice.ID.String(),
		"wallet_deducted": result.WalletDeducted.String(),
		"completed":       result.Completed,
	})
	s.logg.Info(ctx, "order payment processed")
	return result, nil
}

// CompletePayment moves the order to its paid status before any bookkeeping.
// Marking units sold and writing purchase history runs in a savepoint; when
// that fails the order stays paid and is flagged for review.
func (s *service) CompletePayment(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.Status.IsPaid() {
		return finalized()
	}
	target := enums.OrderStatusPaid
	if order.HasPhysicalItems {
		target = enums.OrderStatusPaidAwaitingShipment
	}
	if err := transition(order, target); err != nil {
		return err
	}
	now := s.now()
	order.PaidAt = &now
	if err := s.save(ctx, tx, order, "status", "paid_at"); err != nil {
		return err
	}

	bookErr := tx.Transaction(func(sp *gorm.DB) error {
		units, err := reservation.MarkSold(ctx, sp, order.ID)
		if err != nil {
			return err
		}
		records := make([]models.BuyRecord, 0, len(units))
		for _, unit := range units {
			records = append(records, models.BuyRecord{
				UserID:   order.UserID,
				OrderID:  order.ID,
				ItemID:   unit.ID,
				Price:    unit.Price,
				BoughtAt: now,
			})
		}
		return s.repo.WithTx(sp).CreateBuyRecords(ctx, records)
	})
	if bookErr != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "purchase bookkeeping failed", bookErr)
		if err := s.FlagForReviewInTx(ctx, tx, order, "purchase bookkeeping failed"); err != nil {
			return err
		}
	}

	if err := s.emitPaid(ctx, tx, order); err != nil {
		return err
	}
	return s.notifier.PaymentSuccess(ctx, tx, order)
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, input CancelInput) (*CancelResult, error) {
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cancel reason")
	}

	var result *CancelResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return finalized()
		}

		var actor *outbox.ActorRef
		switch input.Reason {
		case enums.CancelReasonUser:
			if input.ActorUserID == uuid.Nil || input.ActorUserID != order.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
			}
			actor = &outbox.ActorRef{UserID: input.ActorUserID, Role: enums.RoleCustomer}
		case enums.CancelReasonAdmin:
			actor = &outbox.ActorRef{UserID: input.ActorUserID, Role: enums.RoleAdmin}
		case enums.CancelReasonTimeout:
			if !order.IsExpired(s.now()) {
				return notExpired()
			}
		}

		result, err = s.cancelLocked(ctx, tx, order, input.Reason, CancelOptions{}, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) CancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, opts CancelOptions) (*CancelResult, error) {
	if !reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cancel reason")
	}
	return s.cancelLocked(ctx, tx, order, reason, opts, nil)
}

func (s *service) cancelLocked(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, opts CancelOptions, actor *outbox.ActorRef) (*CancelResult, error) {
	if order.Status.IsTerminal() {
		return nil, finalized()
	}
	target := reason.TargetStatus()
	if !order.Status.CanTransitionTo(target) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot cancel order in status %s", order.Status))
	}

	refundable := decimal.Zero
	if !opts.SkipRefund {
		underpaid, count, err := s.repo.WithTx(tx).SumUnderpaidFiat(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum partial payments")
		}
		if order.Status == enums.OrderStatusPendingPaymentPartial && count == 0 {
			return nil, integrity("partially paid order has no recorded payment")
		}
		refundable = order.WalletUsed.Add(underpaid)
	}

	if _, err := reservation.Release(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	// late payments still resolve the invoice by processing id
	active, err := s.invoices.ActiveForOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if err := s.invoices.Deactivate(ctx, tx, active.ID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	penalty := decimal.Zero
	refund := refundable
	if refundable.IsPositive() && s.penaltyApplies(order, reason, now) {
		penalty, refund = money.CalculatePenalty(refundable, s.cfg.CancelPenaltyPercent)
	}
	if refund.IsPositive() {
		if err := wallet.Credit(ctx, tx, order.UserID, refund); err != nil {
			return nil, err
		}
	}

	order.Status = target
	order.CancelledAt = &now
	if err := s.save(ctx, tx, order, "status", "cancelled_at"); err != nil {
		return nil, err
	}
	if err := s.emitCancelled(ctx, tx, order, reason, refund, penalty, actor); err != nil {
		return nil, err
	}
	if err := s.notifier.OrderCancelled(ctx, tx, order, reason, refund, penalty); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"reason":   string(reason),
		"refund":   refund.String(),
		"penalty":  penalty.String(),
	})
	s.logg.Info(logCtx, "order cancelled")
	return &CancelResult{Order: order, Refund: refund, Penalty: penalty}, nil
}

// penaltyApplies reports whether a cancellation fee is charged. Admin
// cancellations are free, and so are user cancellations inside the grace
// period.
func (s *service) penaltyApplies(order *models.Order, reason enums.CancelReason, now time.Time) bool {
	if !s.cfg.CancelPenaltyPercent.IsPositive() {
		return false
	}
	switch reason {
	case enums.CancelReasonAdmin:
		return false
	case enums.CancelReasonUser:
		return now.Sub(order.CreatedAt) > s.cfg.GracePeriod()
	}
	return true
}

func (s *service) FlagForReview(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockInTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return s.FlagForReviewInTx(ctx, tx, order, reason)
	})
}

func (s *service) FlagForReviewInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	reason = reviewReason(reason)
	order.NeedsReview = true
	order.ReviewReason = &reason
	if err := s.save(ctx, tx, order, "needs_review", "review_reason"); err != nil {
		return err
	}
	return s.RequestReviewInTx(ctx, tx, order, reason)
}

// RequestReviewInTx alerts admins without touching the order row, so the
// order keeps its deadline and the sweeper still times it out.
func (s *service) RequestReviewInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	reason = reviewReason(reason)
	if err := s.emitFlagged(ctx, tx, order, reason); err != nil {
		return err
	}
	if err := s.notifier.ManualReview(ctx, tx, order, reason); err != nil {
		return err
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"reason":       reason,
		"needs_review": order.NeedsReview,
	})
	s.logg.Warn(logCtx, "order reported for review")
	return nil
}

func reviewReason(reason string) string {
	if reason = strings.TrimSpace(reason); reason == "" {
		return defaultReviewReason
	}
	return reason
}

// LockInTx loads the order with FOR UPDATE inside tx.
func (s *service) LockInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).LockByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
	}
	return order, nil
}

// SaveInTx persists the named columns behind the version guard.
func (s *service) SaveInTx(ctx context.Context, tx *gorm.DB, order *models.Order, columns ...string) error {
	return s.save(ctx, tx, order, columns...)
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*OrderDetail, error) {
	var detail *OrderDetail
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		active, err := s.invoices.ActiveForOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		units, err := reservation.ListForOrder(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
		}
		detail = &OrderDetail{Order: order, ActiveInvoice: active, Items: itemViews(order, units)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *service) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	orders, err := s.repo.FindExpiredPending(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find expired orders")
	}
	return orders, nil
}

func (s *service) save(ctx context.Context, tx *gorm.DB, order *models.Order, columns ...string) error {
	if err := s.repo.WithTx(tx).UpdateVersioned(ctx, order, columns...); err != nil {
		return stale(err)
	}
	return nil
}

// transition moves order to next when the status table allows it.
func transition(order *models.Order, next enums.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", order.Status, next))
	}
	order.Status = next
	return nil
}

// normalizeLines validates the cart and merges repeated subcategories.
func normalizeLines(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	merged := make([]CartLine, 0, len(lines))
	index := map[uuid.UUID]int{}
	for _, line := range lines {
		if line.SubcategoryID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "subcategory id is required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if i, ok := index[line.SubcategoryID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.SubcategoryID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

// priceUnits sums unit prices and adds the highest shipping cost among
// physical units once.
func priceUnits(units []models.Item) (total, shipping decimal.Decimal, physical bool) {
	total = decimal.Zero
	shipping = decimal.Zero
	for _, unit := range units {
		total = total.Add(unit.Price)
		if unit.IsPhysical {
			physical = true
			if unit.ShippingCost.GreaterThan(shipping) {
				shipping = unit.ShippingCost
			}
		}
	}
	return total.Add(shipping), shipping, physical
}

func itemViews(order *models.Order, units []models.Item) []ItemView {
	views := make([]ItemView, 0, len(units))
	for _, unit := range units {
		view := ItemView{
			ID:            unit.ID,
			SubcategoryID: unit.SubcategoryID,
			Price:         unit.Price,
			IsPhysical:    unit.IsPhysical,
			IsSold:        unit.IsSold,
		}
		if order.Status.IsPaid() && unit.IsSold {
			view.PrivateData = unit.PrivateData
		}
		views = append(views, view)
	}
	return views
}
