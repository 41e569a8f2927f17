package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"order-service/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrGatewayAuth    = errors.New("paypal token exchange failed")
	ErrAmountMismatch = errors.New("amount does not match order total")
	ErrNotApproved    = errors.New("paypal order is not approved for capture")
)

// RequestError is a non-success HTTP response from the gateway. The status
// and body travel with the error so failures stay diagnosable.
type RequestError struct {
	Operation string
	Status    int
	Body      string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("paypal %s failed: status %d: %s", e.Operation, e.Status, e.Body)
}

// TokenCache is an optional short-TTL cache for access tokens, so that the
// token endpoint is not hit once per call.
type TokenCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string, ttl time.Duration)
}

type Config struct {
	ClientID  string
	Secret    string
	WebhookID string
	BaseURL   string
	ReturnURL string
	CancelURL string
}

// Client talks to the PayPal REST API. Every call attempt, success or
// failure, is mirrored into the PaypalLog audit table before any business
// state is touched.
type Client struct {
	cfg    Config
	db     *gorm.DB
	http   *http.Client
	tokens TokenCache
}

func NewClient(cfg Config, db *gorm.DB, tokens TokenCache) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.sandbox.paypal.com"
	}
	return &Client{
		cfg:    cfg,
		db:     db,
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
	}
}

func (c *Client) Sandbox() bool {
	return strings.Contains(c.cfg.BaseURL, "sandbox")
}

// audit appends one PaypalLog row. A failed audit write is logged but never
// fails the gateway call itself.
func (c *Client) audit(row *model.PaypalLog) {
	if err := c.db.Create(row).Error; err != nil {
		log.Printf("paypal: audit write failed (%s): %v", row.Operation, err)
	}
}

type CreateOrderResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ApproveLink string `json:"approve_link"`
	Sandbox     bool   `json:"sandbox"`
}

type CaptureResult struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CaptureID string `json:"capture_id,omitempty"`
}

// AccessToken exchanges the client credentials for a bearer token. The token
// itself is redacted from the audit row.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.tokens != nil {
		if tok, ok := c.tokens.Get(ctx); ok {
			return tok, nil
		}
	}

	endpoint := c.cfg.BaseURL + "/v1/oauth2/token"
	form := url.Values{"grant_type": {"client_credentials"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		c.audit(&model.PaypalLog{
			Direction: model.DirectionOutbound,
			Operation: "GetAccessToken",
			Url:       endpoint,
			Method:    http.MethodPost,
			Error:     err.Error(),
		})
		return "", fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	c.audit(&model.PaypalLog{
		Direction:    model.DirectionOutbound,
		Operation:    "GetAccessToken",
		Url:          endpoint,
		Method:       http.MethodPost,
		HttpStatus:   res.StatusCode,
		ResponseBody: `{"notice":"access_token redacted"}`,
	})

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d %s", ErrGatewayAuth, res.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: unreadable token response", ErrGatewayAuth)
	}

	if c.tokens != nil && parsed.ExpiresIn > 60 {
		c.tokens.Set(ctx, parsed.AccessToken, time.Duration(parsed.ExpiresIn-60)*time.Second)
	}
	return parsed.AccessToken, nil
}

type amountPayload struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string        `json:"reference_id"`
	Amount      amountPayload `json:"amount"`
	Description string        `json:"description,omitempty"`
}

type applicationContext struct {
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
}

type createOrderPayload struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

// CreateOrder creates a CAPTURE intent for the order. The amount is checked
// against the order total locally, before any network traffic.
func (c *Client) CreateOrder(ctx context.Context, o *model.Order, amount decimal.Decimal, currency string) (*CreateOrderResult, error) {
	if !amount.Equal(o.TotalPrice) {
		return nil, fmt.Errorf("%w: got %s, order total is %s",
			ErrAmountMismatch, amount.StringFixed(2), o.TotalPrice.StringFixed(2))
	}

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := createOrderPayload{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: uuid.NewString(),
			Amount:      amountPayload{CurrencyCode: currency, Value: amount.StringFixed(2)},
			Description: fmt.Sprintf("Order #%d", o.ID),
		}},
		ApplicationContext: applicationContext{
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
			ReturnURL:          c.cfg.ReturnURL,
			CancelURL:          c.cfg.CancelURL,
		},
	}

	reqBody, _ := json.Marshal(payload)
	endpoint := c.cfg.BaseURL + "/v2/checkout/orders"

	status, resBody, debugID, err := c.post(ctx, endpoint, token, reqBody)

	row := &model.PaypalLog{
		Direction:     model.DirectionOutbound,
		Operation:     "CreateOrder",
		Url:           endpoint,
		Method:        http.MethodPost,
		HttpStatus:    status,
		CorrelationId: debugID,
		Amount:        amount.StringFixed(2),
		Currency:      currency,
		RequestBody:   string(reqBody),
		ResponseBody:  resBody,
	}
	if err != nil {
		row.Error = err.Error()
		c.audit(row)
		return nil, fmt.Errorf("paypal create order: %w", err)
	}

	if status < 200 || status > 299 {
		c.audit(row)
		return nil, &RequestError{Operation: "CreateOrder", Status: status, Body: resBody}
	}

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal([]byte(resBody), &parsed); err != nil {
		row.Error = err.Error()
		c.audit(row)
		return nil, fmt.Errorf("paypal create order: unreadable response: %w", err)
	}

	row.OrderID = parsed.ID
	c.audit(row)

	approve := ""
	for _, l := range parsed.Links {
		if l.Rel == "approve" {
			approve = l.Href
			break
		}
	}
	if approve == "" {
		return nil, fmt.Errorf("paypal create order: response carries no approve link")
	}

	return &CreateOrderResult{
		ID:          parsed.ID,
		Status:      parsed.Status,
		ApproveLink: approve,
		Sandbox:     c.Sandbox(),
	}, nil
}

// CaptureOrder collects the funds for an approved intent. The remote status
// is checked first; anything but APPROVED is rejected without a capture
// attempt. The capture id is extracted best-effort — a response missing it
// is logged but not fatal.
func (c *Client) CaptureOrder(ctx context.Context, paypalOrderID string) (*CaptureResult, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	remote, err := c.orderStatus(ctx, token, paypalOrderID)
	if err != nil {
		return nil, err
	}
	if remote != StatusApproved {
		return nil, fmt.Errorf("%w: remote status is %s", ErrNotApproved, remote)
	}

	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.cfg.BaseURL, url.PathEscape(paypalOrderID))
	status, resBody, debugID, err := c.post(ctx, endpoint, token, []byte("{}"))

	row := &model.PaypalLog{
		Direction:     model.DirectionOutbound,
		Operation:     "CaptureOrder",
		Url:           endpoint,
		Method:        http.MethodPost,
		HttpStatus:    status,
		CorrelationId: debugID,
		OrderID:       paypalOrderID,
		ResponseBody:  resBody,
	}
	if err != nil {
		row.Error = err.Error()
		c.audit(row)
		return nil, fmt.Errorf("paypal capture: %w", err)
	}
	if status < 200 || status > 299 {
		c.audit(row)
		return nil, &RequestError{Operation: "CaptureOrder", Status: status, Body: resBody}
	}

	var parsed struct {
		Status string `json:"status"`
		Payer  struct {
			PayerID string `json:"payer_id"`
		} `json:"payer"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID string `json:"id"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := json.Unmarshal([]byte(resBody), &parsed); err != nil {
		row.Error = err.Error()
		c.audit(row)
		return nil, fmt.Errorf("paypal capture: unreadable response: %w", err)
	}

	captureID := ""
	if len(parsed.PurchaseUnits) > 0 && len(parsed.PurchaseUnits[0].Payments.Captures) > 0 {
		captureID = parsed.PurchaseUnits[0].Payments.Captures[0].ID
	}
	if captureID == "" {
		log.Printf("paypal: capture of %s returned no capture id", paypalOrderID)
	}

	row.CaptureID = captureID
	row.PayerID = parsed.Payer.PayerID
	c.audit(row)

	return &CaptureResult{ID: paypalOrderID, Status: parsed.Status, CaptureID: captureID}, nil
}

// orderStatus fetches and parses the remote intent status.
func (c *Client) orderStatus(ctx context.Context, token, paypalOrderID string) (IntentStatus, error) {
	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s", c.cfg.BaseURL, url.PathEscape(paypalOrderID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StatusUnknown, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		c.audit(&model.PaypalLog{
			Direction: model.DirectionOutbound,
			Operation: "GetOrder",
			Url:       endpoint,
			Method:    http.MethodGet,
			OrderID:   paypalOrderID,
			Error:     err.Error(),
		})
		return StatusUnknown, fmt.Errorf("paypal get order: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	row := &model.PaypalLog{
		Direction:     model.DirectionOutbound,
		Operation:     "GetOrder",
		Url:           endpoint,
		Method:        http.MethodGet,
		HttpStatus:    res.StatusCode,
		CorrelationId: res.Header.Get("Paypal-Debug-Id"),
		OrderID:       paypalOrderID,
		ResponseBody:  string(body),
	}
	c.audit(row)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return StatusUnknown, &RequestError{Operation: "GetOrder", Status: res.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StatusUnknown, fmt.Errorf("paypal get order: unreadable response: %w", err)
	}
	return ParseIntentStatus(parsed.Status), nil
}

// VerifyWebhook forwards the transmission headers and raw event body to the
// gateway's verification endpoint. A negative answer only rejects the
// notification; it is never the basis for mutating order state.
func (c *Client) VerifyWebhook(ctx context.Context, headers map[string]string, fullURL string, body []byte) (bool, error) {
	c.audit(&model.PaypalLog{
		Direction:      model.DirectionInbound,
		Operation:      "Webhook:" + headerGet(headers, "Paypal-Event-Type"),
		Url:            fullURL,
		Method:         http.MethodPost,
		RequestHeaders: joinHeaders(headers),
		RequestBody:    string(body),
	})

	token, err := c.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	payload := map[string]interface{}{
		"auth_algo":         headerGet(headers, "Paypal-Auth-Algo"),
		"cert_url":          headerGet(headers, "Paypal-Cert-Url"),
		"transmission_id":   headerGet(headers, "Paypal-Transmission-Id"),
		"transmission_sig":  headerGet(headers, "Paypal-Transmission-Sig"),
		"transmission_time": headerGet(headers, "Paypal-Transmission-Time"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	reqBody, _ := json.Marshal(payload)

	endpoint := c.cfg.BaseURL + "/v1/notifications/verify-webhook-signature"
	status, resBody, debugID, err := c.post(ctx, endpoint, token, reqBody)

	row := &model.PaypalLog{
		Direction:     model.DirectionOutbound,
		Operation:     "VerifyWebhookSignature",
		Url:           endpoint,
		Method:        http.MethodPost,
		HttpStatus:    status,
		CorrelationId: debugID,
		RequestBody:   string(reqBody),
		ResponseBody:  resBody,
	}
	if err != nil {
		row.Error = err.Error()
		c.audit(row)
		return false, fmt.Errorf("paypal verify webhook: %w", err)
	}
	c.audit(row)

	if status < 200 || status > 299 {
		return false, nil
	}

	var parsed struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal([]byte(resBody), &parsed); err != nil {
		return false, nil
	}
	return strings.EqualFold(parsed.VerificationStatus, "SUCCESS"), nil
}

// post sends an authorized JSON POST and returns status, body and the
// gateway correlation id.
func (c *Client) post(ctx context.Context, endpoint, token string, body []byte) (int, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return 0, "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer res.Body.Close()

	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(resBody), res.Header.Get("Paypal-Debug-Id"), nil
}

func headerGet(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func joinHeaders(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
	}
	return b.String()
}
