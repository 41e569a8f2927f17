package order

import (
	"errors"
	"fmt"
	"time"

	"order-service/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrNoItems  = errors.New("order must contain at least one item")
)

// Ledger owns Order/OrderItem persistence and the state invariants around
// capture and fulfillment.
type Ledger struct {
	DB *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db}
}

// CreateOrder inserts a new order. The total price is always computed from
// the items; a caller-supplied total is never trusted. Orders created
// directly in Completed state (reservations, archive imports) are fulfilled
// immediately.
func (l *Ledger) CreateOrder(userID uint, items []model.OrderItem, orderStatus model.OrderStatus, paymentStatus model.PaymentStatus, orderType model.OrderType) (*model.Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	total := decimal.Zero
	for i, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("item %d: unit price cannot be negative", i)
		}
		total = total.Add(it.Total())
	}

	o := &model.Order{
		OrderDate:     time.Now().UTC(),
		TotalPrice:    total,
		OrderStatus:   orderStatus,
		PaymentStatus: paymentStatus,
		Type:          orderType,
		UserID:        userID,
		Items:         items,
	}

	err := l.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(o).Error; err != nil {
			return err
		}
		if o.OrderStatus == model.OrderCompleted {
			return fulfill(tx, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// FulfillIfCompleted grants the buyer every distinct book on the order.
// Set-union semantics: a (user, book) row is inserted only when missing, so
// the call is safe to repeat for the same order.
func (l *Ledger) FulfillIfCompleted(o *model.Order) error {
	if o.OrderStatus != model.OrderCompleted {
		return nil
	}
	return fulfill(l.DB, o)
}

func fulfill(tx *gorm.DB, o *model.Order) error {
	seen := make(map[uint]bool, len(o.Items))
	for _, it := range o.Items {
		if seen[it.BookID] {
			continue
		}
		seen[it.BookID] = true

		ub := model.UserBook{UserID: o.UserID, BookID: it.BookID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ub).Error; err != nil {
			return fmt.Errorf("grant book %d to user %d: %w", it.BookID, o.UserID, err)
		}
	}
	return nil
}

// Transition moves an order to the given statuses.
func (l *Ledger) Transition(orderID uint, orderStatus model.OrderStatus, paymentStatus model.PaymentStatus) error {
	res := l.DB.Model(&model.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
		"order_status":   orderStatus,
		"payment_status": paymentStatus,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInitiated records the gateway reference after a successful intent
// creation and moves the order to Pending/Processing.
func (l *Ledger) MarkInitiated(orderID uint, paypalOrderID string, sandbox bool) error {
	res := l.DB.Model(&model.Order{}).Where("id = ?", orderID).Updates(map[string]interface{}{
		"paypal_order_id": paypalOrderID,
		"paypal_sandbox":  sandbox,
		"order_status":    model.OrderProcessing,
		"payment_status":  model.PaymentPending,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimCapture sets the capture id and the Paid/Completed statuses in a
// single conditional update and grants the books in the same transaction.
// Only one caller can win the claim: the update matches only while
// paypal_capture_id is still null, and the column carries a unique index.
// Returns false when a concurrent writer got there first. An empty capture
// id leaves the column null so the unique index is never tripped by a
// second id-less capture.
func (l *Ledger) ClaimCapture(orderID uint, captureID string) (bool, error) {
	updates := map[string]interface{}{
		"order_status":   model.OrderCompleted,
		"payment_status": model.PaymentPaid,
	}
	if captureID != "" {
		updates["paypal_capture_id"] = captureID
	}

	won := false
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND paypal_capture_id IS NULL", orderID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		won = true

		var o model.Order
		if err := tx.Preload("Items").First(&o, orderID).Error; err != nil {
			return err
		}
		return fulfill(tx, &o)
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (l *Ledger) GetOrder(orderID uint) (*model.Order, error) {
	var o model.Order
	err := l.DB.Preload("Items").First(&o, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (l *Ledger) ByPaypalOrderID(paypalOrderID string) (*model.Order, error) {
	var o model.Order
	err := l.DB.Preload("Items").Where("paypal_order_id = ?", paypalOrderID).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (l *Ledger) ListUserOrders(userID uint) ([]model.Order, error) {
	var list []model.Order
	err := l.DB.Preload("Items").Where("user_id = ?", userID).
		Order("created_at DESC").Find(&list).Error
	return list, err
}

func (l *Ledger) ListAllOrders() ([]model.Order, error) {
	var list []model.Order
	err := l.DB.Preload("Items").Order("created_at DESC").Find(&list).Error
	return list, err
}
