package prismprint

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"

	"github.com/shopspring/decimal"
)

const (
	skuPrefix       = "prism:"
	signatureHeader = "X-Prism-Signature"
	defaultTimeout  = 10 * time.Second
)

// shippingMethods 站内配送偏好到 PrismPrint 枚举的映射，映射不到即判定拒绝
var shippingMethods = map[string]string{
	"standard": "STD",
	"express":  "EXP",
	"economy":  "ECO",
}

// Config PrismPrint 连接器配置
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	TimeoutMS     int
}

// Connector PrismPrint（JSON API，本币报价，HMAC-SHA256 回调签名）
type Connector struct {
	cfg    Config
	client *http.Client
}

// New 创建 PrismPrint 连接器
func New(cfg Config) *Connector {
	timeout := defaultTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &Connector{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Name 供应商名
func (c *Connector) Name() string {
	return constants.SupplierPrismPrint
}

type submitRequest struct {
	ExternalRef    string `json:"external_ref"`
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	ShippingMethod string `json:"shipping_method"`
	Recipient      struct {
		Name        string `json:"name"`
		Phone       string `json:"phone"`
		CountryCode string `json:"country_code"`
		Province    string `json:"province"`
		City        string `json:"city"`
		AddressLine string `json:"address_line"`
		PostalCode  string `json:"postal_code"`
	} `json:"recipient"`
}

type submitResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Quote   struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"quote"`
}

// Submit 提交打印订单
func (c *Connector) Submit(ctx context.Context, input connector.SubmitInput) (*connector.SubmitResult, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, connector.ErrConfigInvalid
	}

	sku, ok := resolveSKU(input.ProductRef)
	if !ok {
		return &connector.SubmitResult{
			Outcome: connector.OutcomeRejected,
			Reason:  fmt.Sprintf("unmapped product ref: %s", input.ProductRef),
		}, nil
	}
	method, ok := shippingMethods[strings.ToLower(strings.TrimSpace(input.ShippingMethod))]
	if !ok {
		return &connector.SubmitResult{
			Outcome: connector.OutcomeRejected,
			Reason:  fmt.Sprintf("unmapped shipping method: %s", input.ShippingMethod),
		}, nil
	}

	reqBody := submitRequest{
		ExternalRef:    fmt.Sprintf("%s-%d", input.OrderNo, input.ItemID),
		SKU:            sku,
		Quantity:       input.Quantity,
		ShippingMethod: method,
	}
	reqBody.Recipient.Name = input.RecipientName
	reqBody.Recipient.Phone = input.RecipientPhone
	reqBody.Recipient.CountryCode = input.CountryCode
	reqBody.Recipient.Province = input.Province
	reqBody.Recipient.City = input.City
	reqBody.Recipient.AddressLine = input.AddressLine
	reqBody.Recipient.PostalCode = input.PostalCode

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, connector.ErrRequestFailed
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, connector.ErrRequestFailed
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// 网络错误视为瞬时失败
		return &connector.SubmitResult{Outcome: connector.OutcomeTransient, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &connector.SubmitResult{Outcome: connector.OutcomeTransient, Reason: err.Error()}, nil
	}

	var parsed submitResponse
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(respBytes, &parsed); err != nil || parsed.OrderID == "" {
			return nil, connector.ErrResponseInvalid
		}
		result := &connector.SubmitResult{
			Outcome:         connector.OutcomeAccepted,
			ExternalOrderID: parsed.OrderID,
		}
		if parsed.Quote.Amount != "" {
			if quote, err := decimal.NewFromString(parsed.Quote.Amount); err == nil {
				result.QuoteAmount = quote
				result.QuoteCurrency = parsed.Quote.Currency
				// 本币报价，无需折算
				result.ChargedAmount = quote
			}
		}
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		_ = json.Unmarshal(respBytes, &parsed)
		reason := parsed.Message
		if reason == "" {
			reason = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return &connector.SubmitResult{Outcome: connector.OutcomeRejected, Reason: reason}, nil
	default:
		return &connector.SubmitResult{
			Outcome: connector.OutcomeTransient,
			Reason:  fmt.Sprintf("http %d", resp.StatusCode),
		}, nil
	}
}

// VerifyWebhook 校验回调签名（报文体的 HMAC-SHA256，十六进制）
func (c *Connector) VerifyWebhook(headers http.Header, body []byte) error {
	if strings.TrimSpace(c.cfg.WebhookSecret) == "" {
		return connector.ErrConfigInvalid
	}
	provided := strings.TrimSpace(headers.Get(signatureHeader))
	if provided == "" {
		return connector.ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return connector.ErrSignatureInvalid
	}
	return nil
}

type webhookPayload struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Tracking struct {
		Carrier string `json:"carrier"`
		Number  string `json:"number"`
		URL     string `json:"url"`
	} `json:"tracking"`
}

// NormalizeWebhook 归一化回调报文
func (c *Connector) NormalizeWebhook(body []byte) (*connector.WebhookResult, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, connector.ErrNotMine
	}
	if payload.OrderID == "" || payload.Status == "" {
		return nil, connector.ErrNotMine
	}
	normalized, ok := normalizeStatus(payload.Status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %s", connector.ErrResponseInvalid, payload.Status)
	}
	result := &connector.WebhookResult{
		ExternalOrderID:  payload.OrderID,
		RawStatus:        payload.Status,
		NormalizedStatus: normalized,
	}
	if payload.Tracking.Number != "" {
		result.Tracking = &connector.TrackingInfo{
			Carrier: payload.Tracking.Carrier,
			Number:  payload.Tracking.Number,
			URL:     payload.Tracking.URL,
		}
	}
	return result, nil
}

func resolveSKU(productRef string) (string, bool) {
	trimmed := strings.TrimSpace(productRef)
	if !strings.HasPrefix(trimmed, skuPrefix) {
		return "", false
	}
	sku := strings.TrimPrefix(trimmed, skuPrefix)
	if sku == "" {
		return "", false
	}
	return sku, true
}

func normalizeStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accepted", "in_production":
		return constants.SupplierOrderStatusAccepted, true
	case "shipped":
		return constants.SupplierOrderStatusShipped, true
	case "delivered":
		return constants.SupplierOrderStatusDelivered, true
	case "cancelled", "canceled":
		return constants.SupplierOrderStatusCancelled, true
	case "rejected", "failed":
		return constants.SupplierOrderStatusRejected, true
	default:
		return "", false
	}
}
