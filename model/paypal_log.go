package model

import "time"

const (
	DirectionOutbound = "Outbound"
	DirectionInbound  = "Inbound"
)

// PaypalLog is the append-only audit trail of gateway traffic. One row is
// written per call attempt, success or failure, and rows are never updated
// or deleted afterwards.
type PaypalLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Direction      string    `gorm:"size:16" json:"direction"`
	Operation      string    `gorm:"size:128" json:"operation"`
	Url            string    `gorm:"size:512" json:"url"`
	Method         string    `gorm:"size:10" json:"method"`
	HttpStatus     int       `json:"http_status"`
	CorrelationId  string    `gorm:"size:128" json:"correlation_id"`
	OrderID        string    `gorm:"size:64" json:"order_id"`
	CaptureID      string    `gorm:"size:64" json:"capture_id"`
	PayerID        string    `gorm:"size:64" json:"payer_id"`
	Amount         string    `gorm:"size:32" json:"amount"`
	Currency       string    `gorm:"size:8" json:"currency"`
	RequestHeaders string    `json:"request_headers"`
	RequestBody    string    `json:"request_body"`
	ResponseBody   string    `json:"response_body"`
	Error          string    `json:"error"`
}
