package controller

import (
	"errors"
	"net/url"
	"strconv"

	"order-service/order"
	"order-service/paypal"
	"order-service/settlement"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type PaypalController struct {
	Coordinator *settlement.Coordinator
}

func NewPaypalController(coord *settlement.Coordinator) *PaypalController {
	return &PaypalController{Coordinator: coord}
}

func (pc *PaypalController) CreateOrder(c *fiber.Ctx) error {
	orderID, err := strconv.Atoi(c.Params("orderId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid order id"})
	}

	var body struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}
	if body.Currency == "" {
		body.Currency = "EUR"
	}

	res, err := pc.Coordinator.Initiate(c.Context(), uint(orderID), body.Amount, body.Currency)
	if err != nil {
		return c.Status(settlementStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

func (pc *PaypalController) CaptureOrder(c *fiber.Ctx) error {
	paypalOrderID := c.Params("paypalOrderId")
	if paypalOrderID == "" {
		return c.Status(400).JSON(fiber.Map{"error": "missing paypal order id"})
	}

	email, _ := c.Locals("user_email").(string)

	res, err := pc.Coordinator.Capture(c.Context(), paypalOrderID, email)
	if err != nil {
		return c.Status(settlementStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

func (pc *PaypalController) Webhook(c *fiber.Ctx) error {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})

	// fasthttp reuses its buffers, the coordinator gets a copy.
	raw := c.Body()
	body := make([]byte, len(raw))
	copy(body, raw)

	fullURL := c.BaseURL() + c.OriginalURL()

	err := pc.Coordinator.HandleWebhook(c.Context(), headers, fullURL, body)
	if errors.Is(err, settlement.ErrBadSignature) {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	if err != nil {
		return c.Status(settlementStatus(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusOK)
}

func (pc *PaypalController) Return(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return c.Redirect("bookstore://paypal-return")
	}
	return c.Redirect("bookstore://paypal-return?token=" + url.QueryEscape(token))
}

func (pc *PaypalController) Cancel(c *fiber.Ctx) error {
	return c.Redirect("bookstore://paypal-cancel")
}

func settlementStatus(err error) int {
	var reqErr *paypal.RequestError
	switch {
	case errors.Is(err, order.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, order.ErrNoItems), errors.Is(err, paypal.ErrAmountMismatch):
		return fiber.StatusBadRequest
	case errors.Is(err, settlement.ErrOrderState), errors.Is(err, paypal.ErrNotApproved):
		return fiber.StatusConflict
	case errors.Is(err, settlement.ErrBadSignature):
		return fiber.StatusUnauthorized
	case errors.Is(err, paypal.ErrGatewayAuth), errors.As(err, &reqErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
