package dropship

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"
)

const defaultTimeout = 15 * time.Second

// Config 直邮供应商连接器配置。BaseURL 为空时走人工确认模式。
type Config struct {
	BaseURL   string
	APIKey    string
	TimeoutMS int
}

// Connector 直邮供应商。有 API 时走接口提交，
// 否则提交即视为已受理并等待运营人工确认发货。
type Connector struct {
	cfg    Config
	client *http.Client
}

// New 创建直邮连接器
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
	return constants.SupplierDropship
}

// ManualMode 是否为人工确认模式
func (c *Connector) ManualMode() bool {
	return strings.TrimSpace(c.cfg.BaseURL) == ""
}

// Submit 提交直邮订单
func (c *Connector) Submit(ctx context.Context, input connector.SubmitInput) (*connector.SubmitResult, error) {
	if c.ManualMode() {
		// 无 API 的供应商：受理即挂起，等待人工确认
		return &connector.SubmitResult{
			Outcome:            connector.OutcomeAccepted,
			ManualConfirmation: true,
		}, nil
	}

	reqBody := map[string]interface{}{
		"source_order": fmt.Sprintf("%s-%d", input.OrderNo, input.ItemID),
		"product_ref":  input.ProductRef,
		"title":        input.Title,
		"quantity":     input.Quantity,
		"ship_to": map[string]string{
			"name":     input.RecipientName,
			"phone":    input.RecipientPhone,
			"country":  input.CountryCode,
			"province": input.Province,
			"city":     input.City,
			"address":  input.AddressLine,
			"postcode": input.PostalCode,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, connector.ErrRequestFailed
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, connector.ErrRequestFailed
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &connector.SubmitResult{Outcome: connector.OutcomeTransient, Reason: err.Error()}, nil
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &connector.SubmitResult{Outcome: connector.OutcomeTransient, Reason: err.Error()}, nil
	}

	var parsed struct {
		OrderID string `json:"order_id"`
		Message string `json:"message"`
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(respBytes, &parsed); err != nil || parsed.OrderID == "" {
			return nil, connector.ErrResponseInvalid
		}
		return &connector.SubmitResult{
			Outcome:         connector.OutcomeAccepted,
			ExternalOrderID: parsed.OrderID,
		}, nil
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

// VerifyWebhook 校验回调。直邮供应商接口不带签名，仅校验配置了 API 模式。
func (c *Connector) VerifyWebhook(headers http.Header, _ []byte) error {
	if c.ManualMode() {
		return connector.ErrSignatureInvalid
	}
	if strings.TrimSpace(c.cfg.APIKey) != "" && headers.Get("X-API-Key") != c.cfg.APIKey {
		return connector.ErrSignatureInvalid
	}
	return nil
}

type webhookPayload struct {
	SourceOrder string `json:"source_order"`
	OrderID     string `json:"order_id"`
	State       string `json:"state"`
	Courier     string `json:"courier"`
	Waybill     string `json:"waybill"`
	TrackingURL string `json:"tracking_url"`
}

// NormalizeWebhook 归一化回调报文
func (c *Connector) NormalizeWebhook(body []byte) (*connector.WebhookResult, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, connector.ErrNotMine
	}
	if payload.OrderID == "" || payload.State == "" {
		return nil, connector.ErrNotMine
	}
	normalized, ok := normalizeStatus(payload.State)
	if !ok {
		return nil, fmt.Errorf("%w: unknown state %s", connector.ErrResponseInvalid, payload.State)
	}
	result := &connector.WebhookResult{
		ExternalOrderID:  payload.OrderID,
		RawStatus:        payload.State,
		NormalizedStatus: normalized,
	}
	if payload.Waybill != "" {
		result.Tracking = &connector.TrackingInfo{
			Carrier: payload.Courier,
			Number:  payload.Waybill,
			URL:     payload.TrackingURL,
		}
	}
	return result, nil
}

func normalizeStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accepted", "processing":
		return constants.SupplierOrderStatusAccepted, true
	case "shipped", "dispatched":
		return constants.SupplierOrderStatusShipped, true
	case "delivered":
		return constants.SupplierOrderStatusDelivered, true
	case "cancelled", "canceled":
		return constants.SupplierOrderStatusCancelled, true
	case "rejected":
		return constants.SupplierOrderStatusRejected, true
	default:
		return "", false
	}
}
