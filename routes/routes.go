package routes

import (
	"order-service/controller"
	"order-service/middleware"

	"github.com/gofiber/fiber/v2"
)

func RegisterOrderRoutes(app *fiber.App, oc *controller.OrderController, auth fiber.Handler) {
	api := app.Group("/api")
	o := api.Group("/order")

	o.Get("/", auth, oc.List)
	o.Post("/", auth, oc.Create)

	o.Get(
		"/all",
		auth,
		middleware.RoleRequired("admin"),
		oc.ListAll,
	)

	o.Get("/:id", auth, oc.Get)
}

func RegisterPaypalRoutes(app *fiber.App, pc *controller.PaypalController, auth fiber.Handler) {
	api := app.Group("/api")
	p := api.Group("/paypal")

	p.Post("/create-order/:orderId", auth, pc.CreateOrder)
	p.Post("/capture-order/:paypalOrderId", auth, pc.CaptureOrder)

	// Gateway-facing endpoints, no auth: the webhook is signature-checked,
	// return/cancel only redirect back into the app.
	p.Post("/webhook", pc.Webhook)
	p.Get("/return", pc.Return)
	p.Get("/cancel", pc.Cancel)
}
