package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"order-service/model"
	"order-service/order"
	"order-service/paypal"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderState   = errors.New("order is not in a state that allows this operation")
	ErrBadSignature = errors.New("webhook signature verification failed")
)

// StatusAlreadyCaptured is returned when a capture request arrives for an
// order whose capture id is already recorded.
const StatusAlreadyCaptured = "ALREADY_CAPTURED"

// Gateway is the slice of the PayPal client the coordinator needs.
type Gateway interface {
	CreateOrder(ctx context.Context, o *model.Order, amount decimal.Decimal, currency string) (*paypal.CreateOrderResult, error)
	CaptureOrder(ctx context.Context, paypalOrderID string) (*paypal.CaptureResult, error)
	VerifyWebhook(ctx context.Context, headers map[string]string, url string, body []byte) (bool, error)
}

// EventPublisher pushes domain events onto the event bus.
type EventPublisher interface {
	PublishOrderPaidEvent(event interface{})
}

// Notifier enqueues an email for asynchronous delivery.
type Notifier interface {
	Publish(ctx context.Context, msg model.EmailMessage) error
}

// Coordinator orchestrates the ledger and the gateway through the
// initiate/capture/webhook workflow. It owns the idempotency and
// state-machine rules; the gateway never mutates order state on its own.
type Coordinator struct {
	Ledger  *order.Ledger
	Gateway Gateway
	Events  EventPublisher
	Mail    Notifier
}

func NewCoordinator(ledger *order.Ledger, gw Gateway, events EventPublisher, mail Notifier) *Coordinator {
	return &Coordinator{Ledger: ledger, Gateway: gw, Events: events, Mail: mail}
}

type InitiateResult struct {
	PaypalOrderID string `json:"paypal_order_id"`
	Status        string `json:"status"`
	ApproveLink   string `json:"approve_link"`
}

// Initiate creates a gateway intent for an Unpaid/Pending order, persists
// the gateway reference and moves the order to Pending/Processing. The
// amount check happens inside the gateway client, before any network call.
func (c *Coordinator) Initiate(ctx context.Context, orderID uint, amount decimal.Decimal, currency string) (*InitiateResult, error) {
	o, err := c.Ledger.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != model.PaymentUnpaid || o.OrderStatus != model.OrderPending {
		return nil, fmt.Errorf("%w: order %d is not awaiting payment", ErrOrderState, orderID)
	}

	res, err := c.Gateway.CreateOrder(ctx, o, amount, currency)
	if err != nil {
		return nil, err
	}

	if err := c.Ledger.MarkInitiated(o.ID, res.ID, res.Sandbox); err != nil {
		return nil, err
	}

	return &InitiateResult{
		PaypalOrderID: res.ID,
		Status:        res.Status,
		ApproveLink:   res.ApproveLink,
	}, nil
}

type CaptureResult struct {
	OrderID   uint   `json:"order_id"`
	Status    string `json:"status"`
	CaptureID string `json:"capture_id,omitempty"`
}

// Capture settles an approved intent at most once. The stored capture id is
// checked before the gateway is called; a concurrent duplicate loses the
// conditional claim and gets the winner's capture id back. notifyEmail, when
// non-empty, receives the purchase confirmation; the webhook path passes ""
// because the buyer address is not on the notification.
func (c *Coordinator) Capture(ctx context.Context, paypalOrderID, notifyEmail string) (*CaptureResult, error) {
	o, err := c.Ledger.ByPaypalOrderID(paypalOrderID)
	if err != nil {
		return nil, err
	}

	if o.Captured() {
		// The grant may not have landed if an earlier attempt was cut off
		// between the claim and the fulfillment write.
		if err := c.Ledger.FulfillIfCompleted(o); err != nil {
			return nil, err
		}
		return &CaptureResult{OrderID: o.ID, Status: StatusAlreadyCaptured, CaptureID: *o.PaypalCaptureID}, nil
	}

	res, err := c.Gateway.CaptureOrder(ctx, paypalOrderID)
	if err != nil {
		return nil, err
	}

	won, err := c.Ledger.ClaimCapture(o.ID, res.CaptureID)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent capture got there first. Report its result.
		winner, err := c.Ledger.ByPaypalOrderID(paypalOrderID)
		if err != nil {
			return nil, err
		}
		if err := c.Ledger.FulfillIfCompleted(winner); err != nil {
			return nil, err
		}
		captureID := ""
		if winner.PaypalCaptureID != nil {
			captureID = *winner.PaypalCaptureID
		}
		return &CaptureResult{OrderID: winner.ID, Status: StatusAlreadyCaptured, CaptureID: captureID}, nil
	}

	completed, err := c.Ledger.GetOrder(o.ID)
	if err != nil {
		return nil, err
	}

	c.announce(ctx, completed, res.CaptureID, notifyEmail)

	return &CaptureResult{OrderID: o.ID, Status: res.Status, CaptureID: res.CaptureID}, nil
}

// announce publishes the order.paid event and queues the confirmation
// email. Both are best-effort side effects of an already-settled order.
func (c *Coordinator) announce(ctx context.Context, o *model.Order, captureID, notifyEmail string) {
	if c.Events != nil {
		c.Events.PublishOrderPaidEvent(map[string]interface{}{
			"event_type": "order.paid",
			"data": map[string]interface{}{
				"order_id":        o.ID,
				"user_id":         o.UserID,
				"paypal_order_id": derefString(o.PaypalOrderID),
				"capture_id":      captureID,
				"amount":          o.TotalPrice.StringFixed(2),
				"paid_at":         time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	if c.Mail != nil && notifyEmail != "" {
		msg := model.EmailMessage{
			To:      notifyEmail,
			Subject: fmt.Sprintf("Order #%d confirmed", o.ID),
			Text:    fmt.Sprintf("Your payment of %s was received. The books are now in your library.", o.TotalPrice.StringFixed(2)),
		}
		if err := c.Mail.Publish(ctx, msg); err != nil {
			log.Printf("settlement: could not queue confirmation email for order %d: %v", o.ID, err)
		}
	}
}

// webhookEvent is the minimal slice of a gateway notification the
// coordinator reads. Webhook-carried amounts and statuses are deliberately
// ignored; the event only triggers a server-initiated confirmation.
type webhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// HandleWebhook verifies the notification signature and, for settlement
// events, re-drives the capture confirmation path. An invalid signature is
// rejected with no state change at all.
func (c *Coordinator) HandleWebhook(ctx context.Context, headers map[string]string, url string, body []byte) error {
	ok, err := c.Gateway.VerifyWebhook(ctx, headers, url, body)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadSignature
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unreadable webhook event: %w", err)
	}

	switch ev.EventType {
	case "CHECKOUT.ORDER.APPROVED", "PAYMENT.CAPTURE.COMPLETED":
		paypalOrderID := ev.Resource.ID
		if ev.EventType == "PAYMENT.CAPTURE.COMPLETED" && ev.Resource.SupplementaryData.RelatedIDs.OrderID != "" {
			// For capture events resource.id is the capture, not the order.
			paypalOrderID = ev.Resource.SupplementaryData.RelatedIDs.OrderID
		}

		_, err := c.Capture(ctx, paypalOrderID, "")
		switch {
		case err == nil:
			return nil
		case errors.Is(err, order.ErrNotFound):
			log.Printf("settlement: webhook %s references unknown order %s", ev.EventType, paypalOrderID)
			return nil
		case errors.Is(err, paypal.ErrNotApproved):
			// The gateway will retry the notification once the intent settles.
			log.Printf("settlement: webhook %s arrived before approval of %s", ev.EventType, paypalOrderID)
			return nil
		default:
			return err
		}
	default:
		log.Printf("settlement: webhook event %s recorded, no action taken", ev.EventType)
		return nil
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
