package orders

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/invoices"
	"github.com/angelmondragon/settlement-engine/internal/notifications"
	"github.com/angelmondragon/settlement-engine/internal/reservation"
	"github.com/angelmondragon/settlement-engine/internal/wallet"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

type stubProcessor struct {
	mu    sync.Mutex
	calls []processor.CreatePaymentRequest
	err   error
}

func (s *stubProcessor) CreatePayment(ctx context.Context, req processor.CreatePaymentRequest) (*processor.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return &processor.Payment{
		ProcessorID:    uuid.NewString(),
		Address:        "bc1qorders",
		CryptoAmount:   req.FiatAmount.Div(decimal.NewFromInt(60000)),
		CryptoCurrency: req.CryptoCurrency,
		FiatAmount:     req.FiatAmount,
		FiatCurrency:   req.FiatCurrency,
	}, nil
}

func (s *stubProcessor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	db    *gorm.DB
	svc   Service
	proc  *stubProcessor
	clock *testClock
	repo  *outbox.Repository
}

func testOrdersConfig() config.OrdersConfig {
	return config.OrdersConfig{
		TimeoutMinutes:             30,
		GracePeriodMinutes:         5,
		UnderpaymentRetryMinutes:   30,
		UnderpaymentPenaltyPercent: decimal.NewFromInt(5),
		LatePaymentPenaltyPercent:  decimal.NewFromInt(5),
		CancelPenaltyPercent:       decimal.NewFromInt(5),
		PaymentTolerancePercent:    decimal.RequireFromString("0.1"),
		Currency:                   "EUR",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	clock := &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	proc := &stubProcessor{}

	invoiceSvc, err := invoices.NewService(invoices.ServiceParams{
		Repo:      invoices.NewRepository(db),
		Processor: proc,
		Logger:    logg,
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	outboxRepo := outbox.NewRepository(db)
	outboxSvc := outbox.NewService(outboxRepo, logg)
	notifier, err := notifications.NewOutboxNotifier(outboxSvc)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:                  NewRepository(db),
		Tx:                    dbtest.Tx{DB: db},
		Invoices:              invoiceSvc,
		Notifier:              notifier,
		Outbox:                outboxSvc,
		Config:                testOrdersConfig(),
		DefaultCryptoCurrency: "BTC",
		Logger:                logg,
		Clock:                 clock.Now,
	})
	require.NoError(t, err)
	return &harness{db: db, svc: svc, proc: proc, clock: clock, repo: outboxRepo}
}

func (h *harness) createOrder(t *testing.T, userID uuid.UUID, lines ...CartLine) *models.Order {
	t.Helper()
	res, err := h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: userID, Lines: lines})
	require.NoError(t, err)
	return res.Order
}

func (h *harness) reload(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.db.Where("id = ?", id).First(&order).Error)
	return order
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	bal, err := wallet.Balance(context.Background(), h.db, userID)
	require.NoError(t, err)
	return bal
}

func (h *harness) eventTypes(t *testing.T, orderID uuid.UUID) []string {
	t.Helper()
	rows, err := h.repo.ListByAggregate(context.Background(), nil, orderID)
	require.NoError(t, err)
	types := make([]string, 0, len(rows))
	for _, row := range rows {
		types = append(types, string(row.EventType))
	}
	return types
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func line(sub models.Subcategory, qty int) CartLine {
	return CartLine{SubcategoryID: sub.ID, Quantity: qty}
}

func TestProcessPaymentSplitsWalletAndCrypto(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "20")
	sub := dbtest.SeedStock(t, h.db, "50", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))
	require.Equal(t, enums.OrderStatusPendingPayment, order.Status)

	res, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)

	assert.False(t, res.Completed)
	requireDecimal(t, "20", res.WalletDeducted)
	requireDecimal(t, "30", res.Invoice.FiatAmount)
	require.Equal(t, 1, h.proc.callCount())
	requireDecimal(t, "30", h.proc.calls[0].FiatAmount)
	assert.Equal(t, "BTC", h.proc.calls[0].CryptoCurrency)

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
	requireDecimal(t, "20", stored.WalletUsed)
	requireDecimal(t, "0", h.balance(t, user.ID))
}

func TestProcessPaymentWalletOnlyCompletesOrder(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "60")
	sub := dbtest.SeedStock(t, h.db, "50", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))

	res, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.True(t, res.Invoice.IsWalletOnly)
	assert.Zero(t, h.proc.callCount())

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.False(t, stored.NeedsReview)
	requireDecimal(t, "50", stored.WalletUsed)
	requireDecimal(t, "10", h.balance(t, user.ID))

	var records int64
	require.NoError(t, h.db.Model(&models.BuyRecord{}).Where("order_id = ?", order.ID).Count(&records).Error)
	assert.EqualValues(t, 1, records)

	units, err := reservation.ListForOrder(context.Background(), h.db, order.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.True(t, units[0].IsSold)

	assert.Contains(t, h.eventTypes(t, order.ID), string(enums.EventOrderPaid))
}

func TestProcessPaymentReturnsActiveInvoice(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	sub := dbtest.SeedStock(t, h.db, "25", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))

	first, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)
	second, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)

	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, 1, h.proc.callCount())
	requireDecimal(t, "0", second.WalletDeducted)
}

func TestProcessPaymentProcessorFailureRollsBackWallet(t *testing.T) {
	h := newHarness(t)
	h.proc.err = pkgerrors.New(pkgerrors.CodeDependency, "processor unavailable")
	user := dbtest.SeedUser(t, h.db, "20")
	sub := dbtest.SeedStock(t, h.db, "50", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))

	_, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.Error(t, err)

	stored := h.reload(t, order.ID)
	requireDecimal(t, "0", stored.WalletUsed)
	requireDecimal(t, "20", h.balance(t, user.ID))
}

func TestProcessPaymentRejectsUnknownCurrency(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: uuid.New(), CryptoCurrency: "DOGE"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestCreateOrderReservesWhatIsAvailable(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	sub := dbtest.SeedStock(t, h.db, "10", 3, false, "0")

	res, err := h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: user.ID, Lines: []CartLine{line(sub, 5)}})
	require.NoError(t, err)

	requireDecimal(t, "30", res.Order.TotalPrice)
	require.Len(t, res.Adjustments, 1)
	assert.Equal(t, Adjustment{SubcategoryID: sub.ID, Requested: 5, Reserved: 3}, res.Adjustments[0])
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), res.Order.ExpiresAt)
	assert.Equal(t, res.Order.ExpiresAt, res.Order.OriginalExpiresAt)
}

func TestCreateOrderWithoutStockIsCancelledBySystem(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	sub := dbtest.SeedStock(t, h.db, "10", 0, false, "0")

	res, err := h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: user.ID, Lines: []CartLine{line(sub, 2)}})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	require.NotNil(t, res)

	stored := h.reload(t, res.Order.ID)
	assert.Equal(t, enums.OrderStatusCancelledBySystem, stored.Status)
	require.NotNil(t, stored.CancelledAt)

	// a system-cancelled order does not block the next checkout
	other := dbtest.SeedStock(t, h.db, "10", 1, false, "0")
	h.createOrder(t, user.ID, line(other, 1))
}

func TestCreateOrderWithZeroTotalIsCancelledBySystem(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	free := dbtest.SeedStock(t, h.db, "0", 2, false, "0")

	res, err := h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: user.ID, Lines: []CartLine{line(free, 2)}})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	require.NotNil(t, res)

	stored := h.reload(t, res.Order.ID)
	assert.Equal(t, enums.OrderStatusCancelledBySystem, stored.Status)
	requireDecimal(t, "0", stored.TotalPrice)

	var held int64
	require.NoError(t, h.db.Model(&models.Item{}).Where("order_id = ?", res.Order.ID).Count(&held).Error)
	assert.Zero(t, held)

	// a priced unit in the same cart keeps the order open
	paid := dbtest.SeedStock(t, h.db, "10", 1, false, "0")
	order := h.createOrder(t, user.ID, line(free, 1), line(paid, 1))
	requireDecimal(t, "10", order.TotalPrice)
}

func TestCreateOrderPhysicalItemsNeedAddress(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	small := dbtest.SeedStock(t, h.db, "10", 1, true, "5")
	large := dbtest.SeedStock(t, h.db, "10", 1, true, "7")

	order := h.createOrder(t, user.ID, line(small, 1), line(large, 1))
	assert.Equal(t, enums.OrderStatusPendingPaymentAndAddress, order.Status)
	assert.True(t, order.HasPhysicalItems)
	requireDecimal(t, "27", order.TotalPrice)
	requireDecimal(t, "7", order.ShippingCost)

	_, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	_, err = h.svc.SubmitShippingAddress(context.Background(), order.ID, uuid.New(), "Main St 1")
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	updated, err := h.svc.SubmitShippingAddress(context.Background(), order.ID, user.ID, "Main St 1")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, updated.Status)
	require.NotNil(t, updated.ShippingAddress)
}

func TestCreateOrderRejectsSecondPendingOrder(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	sub := dbtest.SeedStock(t, h.db, "10", 2, false, "0")
	h.createOrder(t, user.ID, line(sub, 1))

	_, err := h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: user.ID, Lines: []CartLine{line(sub, 1)}})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestCreateOrderValidatesCart(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New()})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = h.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: uuid.New(), Lines: []CartLine{{SubcategoryID: uuid.New(), Quantity: 0}}})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

// walletFundedOrder leaves an order pending with 45 paid from the wallet.
func walletFundedOrder(t *testing.T, h *harness) (models.User, *models.Order) {
	t.Helper()
	user := dbtest.SeedUser(t, h.db, "45")
	sub := dbtest.SeedStock(t, h.db, "100", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))
	_, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)
	return user, order
}

func TestUserCancelAfterGraceChargesPenalty(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)
	h.clock.Advance(10 * time.Minute)

	res, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonUser, ActorUserID: user.ID})
	require.NoError(t, err)

	requireDecimal(t, "2.25", res.Penalty)
	requireDecimal(t, "42.75", res.Refund)
	requireDecimal(t, "42.75", h.balance(t, user.ID))

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelledByUser, stored.Status)
	units, err := reservation.ListForOrder(context.Background(), h.db, order.ID)
	require.NoError(t, err)
	assert.Empty(t, units)
	assert.Contains(t, h.eventTypes(t, order.ID), string(enums.EventOrderCancelled))
}

func TestUserCancelWithinGraceIsFree(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)
	h.clock.Advance(time.Minute)

	res, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonUser, ActorUserID: user.ID})
	require.NoError(t, err)
	requireDecimal(t, "0", res.Penalty)
	requireDecimal(t, "45", h.balance(t, user.ID))
}

func TestAdminCancelIsFree(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)
	h.clock.Advance(20 * time.Minute)

	res, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonAdmin, ActorUserID: uuid.New()})
	require.NoError(t, err)
	requireDecimal(t, "0", res.Penalty)
	requireDecimal(t, "45", h.balance(t, user.ID))
	assert.Equal(t, enums.OrderStatusCancelledByAdmin, res.Order.Status)
}

func TestUserCannotCancelForeignOrder(t *testing.T) {
	h := newHarness(t)
	_, order := walletFundedOrder(t, h)

	_, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonUser, ActorUserID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestCancelDeactivatesCryptoInvoice(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)
	before, err := h.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.NotNil(t, before.ActiveInvoice)
	require.NotNil(t, before.ActiveInvoice.PaymentProcessingID)

	_, err = h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonUser, ActorUserID: user.ID})
	require.NoError(t, err)

	after, err := h.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Nil(t, after.ActiveInvoice)

	var stored models.Invoice
	require.NoError(t, h.db.Where("payment_processing_id = ?", *before.ActiveInvoice.PaymentProcessingID).First(&stored).Error)
	assert.False(t, stored.IsActive)
	assert.Equal(t, order.ID, stored.OrderID)
}

func TestCancelTwiceReturnsFinalized(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)

	_, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonUser, ActorUserID: user.ID})
	require.NoError(t, err)
	_, err = h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonUser, ActorUserID: user.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderFinalized))
	requireDecimal(t, "45", h.balance(t, user.ID))
}

func TestTimeoutCancelRequiresExpiry(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)

	_, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonTimeout})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderNotExpired))

	h.clock.Advance(31 * time.Minute)
	res, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonTimeout})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusTimeout, res.Order.Status)
	requireDecimal(t, "42.75", h.balance(t, user.ID))
}

func TestCancelPartialOrderWithoutPaymentIsIntegrityError(t *testing.T) {
	h := newHarness(t)
	_, order := walletFundedOrder(t, h)
	require.NoError(t, h.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusPendingPaymentPartial).Error)

	_, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonAdmin})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataIntegrity))
	assert.Equal(t, pkgerrors.CodeIntegrity, pkgerrors.As(err).Code())

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPendingPaymentPartial, stored.Status)
}

func TestCancelRefundsEarlierUnderpayment(t *testing.T) {
	h := newHarness(t)
	user, order := walletFundedOrder(t, h)
	require.NoError(t, h.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusPendingPaymentPartial).Error)
	require.NoError(t, h.db.Create(&models.PaymentTransaction{
		OrderID:             order.ID,
		InvoiceID:           uuid.New(),
		CryptoAmount:        decimal.RequireFromString("0.0005"),
		CryptoCurrency:      "BTC",
		FiatAmount:          decimal.NewFromInt(30),
		PaymentProcessingID: uuid.NewString(),
		IsUnderpayment:      true,
		ReceivedAt:          h.clock.Now(),
	}).Error)

	res, err := h.svc.Cancel(context.Background(), order.ID, CancelInput{Reason: enums.CancelReasonAdmin})
	require.NoError(t, err)
	requireDecimal(t, "75", res.Refund)
	requireDecimal(t, "75", h.balance(t, user.ID))
}

func TestCompletePaymentFlagsReviewWhenBookkeepingFails(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "50")
	sub := dbtest.SeedStock(t, h.db, "50", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))

	units, err := reservation.ListForOrder(context.Background(), h.db, order.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.NoError(t, h.db.Create(&models.BuyRecord{
		UserID:   user.ID,
		OrderID:  uuid.New(),
		ItemID:   units[0].ID,
		Price:    units[0].Price,
		BoughtAt: h.clock.Now(),
	}).Error)

	res, err := h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)
	assert.True(t, res.Completed)

	stored := h.reload(t, order.ID)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)
	assert.True(t, stored.NeedsReview)
	require.NotNil(t, stored.ReviewReason)

	units, err = reservation.ListForOrder(context.Background(), h.db, order.ID)
	require.NoError(t, err)
	assert.False(t, units[0].IsSold)

	events := h.eventTypes(t, order.ID)
	assert.Contains(t, events, string(enums.EventOrderFlagged))
	assert.Contains(t, events, string(enums.EventOrderPaid))
}

func TestGetHidesPrivateDataUntilPaid(t *testing.T) {
	h := newHarness(t)
	user := dbtest.SeedUser(t, h.db, "0")
	sub := dbtest.SeedStock(t, h.db, "10", 1, false, "0")
	order := h.createOrder(t, user.ID, line(sub, 1))

	detail, err := h.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Items, 1)
	assert.Empty(t, detail.Items[0].PrivateData)
	assert.Nil(t, detail.ActiveInvoice)

	require.NoError(t, h.db.Model(&models.User{}).Where("id = ?", user.ID).Update("top_up_amount", decimal.NewFromInt(10)).Error)
	_, err = h.svc.ProcessPayment(context.Background(), ProcessPaymentInput{OrderID: order.ID, UserID: user.ID})
	require.NoError(t, err)

	detail, err = h.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, detail.Items[0].PrivateData)

	_, err = h.svc.Get(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestFlagForReviewExcludesOrderFromSweep(t *testing.T) {
	h := newHarness(t)
	_, order := walletFundedOrder(t, h)
	h.clock.Advance(time.Hour)

	expired, err := h.svc.FindExpiredPending(context.Background(), h.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, h.svc.FlagForReview(context.Background(), order.ID, "needs a look"))

	expired, err = h.svc.FindExpiredPending(context.Background(), h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
