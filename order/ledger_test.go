package order

import (
	"testing"

	"order-service/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.OrderItem{}, &model.UserBook{}))
	return db
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestCreateOrderComputesTotalServerSide(t *testing.T) {
	ledger := NewLedger(openTestDB(t))

	items := []model.OrderItem{
		{BookID: 1, Quantity: 2, UnitPrice: price("9.99")},
		{BookID: 2, Quantity: 1, UnitPrice: price("5.00")},
	}

	o, err := ledger.CreateOrder(7, items, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	require.NoError(t, err)

	assert.True(t, o.TotalPrice.Equal(price("24.98")), "got total %s", o.TotalPrice)
	assert.Equal(t, model.OrderPending, o.OrderStatus)
	assert.Equal(t, model.PaymentUnpaid, o.PaymentStatus)
	assert.Len(t, o.Items, 2)
}

func TestCreateOrderValidation(t *testing.T) {
	ledger := NewLedger(openTestDB(t))

	_, err := ledger.CreateOrder(7, nil, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = ledger.CreateOrder(7, []model.OrderItem{
		{BookID: 1, Quantity: 0, UnitPrice: price("9.99")},
	}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	assert.ErrorContains(t, err, "quantity")

	_, err = ledger.CreateOrder(7, []model.OrderItem{
		{BookID: 1, Quantity: 1, UnitPrice: price("-1.00")},
	}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	assert.ErrorContains(t, err, "unit price")
}

func TestCreateCompletedOrderFulfillsImmediately(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	items := []model.OrderItem{
		{BookID: 10, Quantity: 1, UnitPrice: price("0.00")},
		{BookID: 11, Quantity: 1, UnitPrice: price("0.00")},
	}

	_, err := ledger.CreateOrder(3, items, model.OrderCompleted, model.PaymentUnpaid, model.TypeArchive)
	require.NoError(t, err)

	var count int64
	db.Model(&model.UserBook{}).Where("user_id = ?", 3).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestFulfillIsSetUnion(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	// Book 20 is already owned from an earlier purchase.
	require.NoError(t, db.Create(&model.UserBook{UserID: 5, BookID: 20}).Error)

	o, err := ledger.CreateOrder(5, []model.OrderItem{
		{BookID: 20, Quantity: 1, UnitPrice: price("4.50")},
		{BookID: 21, Quantity: 2, UnitPrice: price("4.50")},
		{BookID: 21, Quantity: 1, UnitPrice: price("4.50")}, // duplicate line item
	}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	require.NoError(t, err)

	o.OrderStatus = model.OrderCompleted

	require.NoError(t, ledger.FulfillIfCompleted(o))
	require.NoError(t, ledger.FulfillIfCompleted(o)) // repeat must be a no-op

	var count int64
	db.Model(&model.UserBook{}).Where("user_id = ?", 5).Count(&count)
	assert.EqualValues(t, 2, count, "each distinct book granted exactly once")
}

func TestFulfillSkipsNonCompletedOrders(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	o, err := ledger.CreateOrder(5, []model.OrderItem{
		{BookID: 30, Quantity: 1, UnitPrice: price("4.50")},
	}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	require.NoError(t, err)

	require.NoError(t, ledger.FulfillIfCompleted(o))

	var count int64
	db.Model(&model.UserBook{}).Count(&count)
	assert.Zero(t, count)
}

func TestTransitionNotFound(t *testing.T) {
	ledger := NewLedger(openTestDB(t))

	err := ledger.Transition(999, model.OrderCancelled, model.PaymentFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkInitiated(t *testing.T) {
	ledger := NewLedger(openTestDB(t))

	o, err := ledger.CreateOrder(1, []model.OrderItem{
		{BookID: 1, Quantity: 1, UnitPrice: price("19.99")},
	}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	require.NoError(t, err)

	require.NoError(t, ledger.MarkInitiated(o.ID, "PAY-1", true))

	got, err := ledger.ByPaypalOrderID("PAY-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, model.OrderProcessing, got.OrderStatus)
	assert.Equal(t, model.PaymentPending, got.PaymentStatus)
	require.NotNil(t, got.PaypalSandbox)
	assert.True(t, *got.PaypalSandbox)

	assert.ErrorIs(t, ledger.MarkInitiated(999, "PAY-2", false), ErrNotFound)
}

func TestClaimCaptureHasExactlyOneWinner(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	o, err := ledger.CreateOrder(1, []model.OrderItem{
		{BookID: 1, Quantity: 1, UnitPrice: price("19.99")},
	}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
	require.NoError(t, err)
	require.NoError(t, ledger.MarkInitiated(o.ID, "PAY-1", false))

	won, err := ledger.ClaimCapture(o.ID, "CAP-1")
	require.NoError(t, err)
	assert.True(t, won)

	// The duplicate attempt loses and must not overwrite the capture id.
	won, err = ledger.ClaimCapture(o.ID, "CAP-2")
	require.NoError(t, err)
	assert.False(t, won)

	got, err := ledger.GetOrder(o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaypalCaptureID)
	assert.Equal(t, "CAP-1", *got.PaypalCaptureID)
	assert.Equal(t, model.OrderCompleted, got.OrderStatus)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)

	// The winning claim grants the books in the same transaction.
	var owned int64
	db.Model(&model.UserBook{}).Where("user_id = ?", o.UserID).Count(&owned)
	assert.EqualValues(t, 1, owned)
}

func TestClaimCaptureWithoutCaptureIDLeavesColumnNull(t *testing.T) {
	ledger := NewLedger(openTestDB(t))

	newInitiated := func(paypalOrderID string) *model.Order {
		o, err := ledger.CreateOrder(1, []model.OrderItem{
			{BookID: 1, Quantity: 1, UnitPrice: price("19.99")},
		}, model.OrderPending, model.PaymentUnpaid, model.TypePurchase)
		require.NoError(t, err)
		require.NoError(t, ledger.MarkInitiated(o.ID, paypalOrderID, false))
		return o
	}

	first := newInitiated("PAY-1")
	second := newInitiated("PAY-2")

	// Two id-less captures must not collide on the unique capture id index.
	won, err := ledger.ClaimCapture(first.ID, "")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = ledger.ClaimCapture(second.ID, "")
	require.NoError(t, err)
	assert.True(t, won)

	got, err := ledger.GetOrder(first.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PaypalCaptureID)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)

	// A later capture that does carry an id can still record it.
	won, err = ledger.ClaimCapture(first.ID, "CAP-1")
	require.NoError(t, err)
	assert.True(t, won)

	got, err = ledger.GetOrder(first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaypalCaptureID)
	assert.Equal(t, "CAP-1", *got.PaypalCaptureID)
}
