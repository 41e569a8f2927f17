package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderProcessing
	OrderCompleted
	OrderCancelled
)

type PaymentStatus int

const (
	PaymentUnpaid PaymentStatus = iota
	PaymentPending
	PaymentPaid
	PaymentRefunded
	PaymentFailed
)

type OrderType int

const (
	TypePurchase OrderType = iota
	TypeReservation
	TypeArchive
)

type Order struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	OrderDate       time.Time       `json:"order_date"`
	TotalPrice      decimal.Decimal `gorm:"type:decimal(10,2)" json:"total_price"`
	OrderStatus     OrderStatus     `json:"order_status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Type            OrderType       `json:"type"`
	UserID          uint            `json:"user_id"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	PaypalOrderID   *string         `gorm:"size:128;uniqueIndex" json:"paypal_order_id,omitempty"`
	PaypalCaptureID *string         `gorm:"size:128;uniqueIndex" json:"paypal_capture_id,omitempty"`
	PaypalSandbox   *bool           `json:"paypal_sandbox,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Captured reports whether a capture id has already been recorded.
func (o *Order) Captured() bool {
	return o.PaypalCaptureID != nil && *o.PaypalCaptureID != ""
}

type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `json:"order_id"`
	BookID    uint            `json:"book_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2)" json:"unit_price"`
}

// Total is derived, never stored.
func (i OrderItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// UserBook grants a user durable access to a purchased book. The composite
// unique index is what makes fulfillment safe to repeat.
type UserBook struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"uniqueIndex:idx_user_book" json:"user_id"`
	BookID uint `gorm:"uniqueIndex:idx_user_book" json:"book_id"`
}
