package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"order-service/model"
	"order-service/order"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const orderCacheTTL = 60 * time.Second

type OrderController struct {
	Ledger *order.Ledger
	Redis  *redis.Client
}

func NewOrderController(ledger *order.Ledger, rdb *redis.Client) *OrderController {
	return &OrderController{Ledger: ledger, Redis: rdb}
}

func (oc *OrderController) Create(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uint)

	var body struct {
		Items []struct {
			BookID    uint            `json:"book_id"`
			Quantity  int             `json:"quantity"`
			UnitPrice decimal.Decimal `json:"unit_price"`
		} `json:"items"`
		Type          *model.OrderType     `json:"type"`
		OrderStatus   *model.OrderStatus   `json:"order_status"`
		PaymentStatus *model.PaymentStatus `json:"payment_status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid payload"})
	}

	items := make([]model.OrderItem, 0, len(body.Items))
	for _, it := range body.Items {
		items = append(items, model.OrderItem{
			BookID:    it.BookID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	orderType := model.TypePurchase
	if body.Type != nil {
		orderType = *body.Type
	}
	orderStatus := model.OrderPending
	if body.OrderStatus != nil {
		orderStatus = *body.OrderStatus
	}
	paymentStatus := model.PaymentUnpaid
	if body.PaymentStatus != nil {
		paymentStatus = *body.PaymentStatus
	}

	// Purchase orders reach Completed through settlement, never at
	// creation. Direct Completed creation is for non-payment order types;
	// for purchases only an admin may import one.
	if orderStatus == model.OrderCompleted && orderType == model.TypePurchase {
		if role, _ := c.Locals("user_role").(string); role != "admin" {
			return c.Status(403).JSON(fiber.Map{"error": "purchase orders cannot be created as completed"})
		}
	}

	o, err := oc.Ledger.CreateOrder(userID, items, orderStatus, paymentStatus, orderType)
	if err != nil {
		if errors.Is(err, order.ErrNoItems) {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	oc.invalidate(c, userID)

	return c.Status(201).JSON(o)
}

func (oc *OrderController) List(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uint)
	key := fmt.Sprintf("orders:%d", userID)

	if oc.Redis != nil {
		if cached, err := oc.Redis.Get(c.Context(), key).Result(); err == nil {
			c.Set("Content-Type", "application/json")
			return c.SendString(cached)
		}
	}

	list, err := oc.Ledger.ListUserOrders(userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if list == nil {
		list = []model.Order{}
	}

	if oc.Redis != nil {
		if data, err := json.Marshal(list); err == nil {
			oc.Redis.Set(c.Context(), key, data, orderCacheTTL)
		}
	}

	return c.JSON(list)
}

func (oc *OrderController) Get(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid id"})
	}

	userID := c.Locals("user_id").(uint)
	role, _ := c.Locals("user_role").(string)

	o, err := oc.Ledger.GetOrder(uint(id))
	if errors.Is(err, order.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "order not found"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}

	if o.UserID != userID && role != "admin" {
		return c.Status(403).JSON(fiber.Map{"error": "not the owner"})
	}

	return c.JSON(o)
}

func (oc *OrderController) ListAll(c *fiber.Ctx) error {
	list, err := oc.Ledger.ListAllOrders()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	if list == nil {
		list = []model.Order{}
	}
	return c.JSON(list)
}

func (oc *OrderController) invalidate(c *fiber.Ctx, userID uint) {
	if oc.Redis == nil {
		return
	}
	oc.Redis.Del(c.Context(), fmt.Sprintf("orders:%d", userID))
}
