package inkwell

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"

	"github.com/shopspring/decimal"
)

const (
	skuPrefix      = "inkwell:"
	defaultTimeout = 10 * time.Second
)

// shippingMethods 站内配送偏好到 Inkwell 枚举的映射
var shippingMethods = map[string]string{
	"standard": "ground",
	"express":  "air",
}

// Config Inkwell 连接器配置。报价为美元，按配置汇率在提交时点折算。
type Config struct {
	BaseURL         string
	MerchantID      string
	MerchantKey     string
	TimeoutMS       int
	USDExchangeRate decimal.Decimal
}

// Connector Inkwell（表单接口，MD5 签名，美元报价）
type Connector struct {
	cfg    Config
	client *http.Client
}

// New 创建 Inkwell 连接器
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
	return constants.SupplierInkwell
}

// Submit 提交打印订单
func (c *Connector) Submit(ctx context.Context, input connector.SubmitInput) (*connector.SubmitResult, error) {
	if strings.TrimSpace(c.cfg.BaseURL) == "" || strings.TrimSpace(c.cfg.MerchantID) == "" ||
		strings.TrimSpace(c.cfg.MerchantKey) == "" {
		return nil, connector.ErrConfigInvalid
	}

	sku, ok := resolveSKU(input.ProductRef)
	if !ok {
		return &connector.SubmitResult{
			Outcome: connector.OutcomeRejected,
			Reason:  fmt.Sprintf("unmapped product ref: %s", input.ProductRef),
		}, nil
	}
	shipVia, ok := shippingMethods[strings.ToLower(strings.TrimSpace(input.ShippingMethod))]
	if !ok {
		return &connector.SubmitResult{
			Outcome: connector.OutcomeRejected,
			Reason:  fmt.Sprintf("unmapped shipping method: %s", input.ShippingMethod),
		}, nil
	}

	params := map[string]string{
		"pid":          c.cfg.MerchantID,
		"out_order_no": fmt.Sprintf("%s-%d", input.OrderNo, input.ItemID),
		"sku":          sku,
		"qty":          strconv.Itoa(input.Quantity),
		"ship_via":     shipVia,
		"name":         input.RecipientName,
		"phone":        input.RecipientPhone,
		"country":      input.CountryCode,
		"province":     input.Province,
		"city":         input.City,
		"address":      input.AddressLine,
		"postcode":     input.PostalCode,
	}
	params["sign"] = signMD5(buildSignContent(params) + c.cfg.MerchantKey)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/gateway/order/create"
	respBytes, err := c.postForm(ctx, endpoint, params)
	if err != nil {
		return &connector.SubmitResult{Outcome: connector.OutcomeTransient, Reason: err.Error()}, nil
	}

	var resp struct {
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
		OrderNo string `json:"order_no"`
		Quote   string `json:"quote"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, connector.ErrResponseInvalid
	}
	if resp.Code != 1 {
		return &connector.SubmitResult{Outcome: connector.OutcomeRejected, Reason: resp.Msg}, nil
	}
	if resp.OrderNo == "" {
		return nil, connector.ErrResponseInvalid
	}

	result := &connector.SubmitResult{
		Outcome:         connector.OutcomeAccepted,
		ExternalOrderID: resp.OrderNo,
	}
	if resp.Quote != "" {
		if quote, err := decimal.NewFromString(resp.Quote); err == nil {
			result.QuoteAmount = quote
			result.QuoteCurrency = "USD"
			result.ExchangeRate = c.cfg.USDExchangeRate
			// 折算金额在提交时点固化，后续汇率变动不回溯
			result.ChargedAmount = quote.Mul(c.cfg.USDExchangeRate).Round(2)
		}
	}
	return result, nil
}

// VerifyWebhook 校验回调签名（表单字段按键排序后 MD5）
func (c *Connector) VerifyWebhook(_ http.Header, body []byte) error {
	if strings.TrimSpace(c.cfg.MerchantKey) == "" {
		return connector.ErrConfigInvalid
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return connector.ErrSignatureInvalid
	}
	sign := strings.TrimSpace(form.Get("sign"))
	if sign == "" {
		return connector.ErrSignatureInvalid
	}
	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}
	expected := signMD5(buildSignContent(params) + c.cfg.MerchantKey)
	if !strings.EqualFold(expected, sign) {
		return connector.ErrSignatureInvalid
	}
	return nil
}

// NormalizeWebhook 归一化回调报文（表单编码）
func (c *Connector) NormalizeWebhook(body []byte) (*connector.WebhookResult, error) {
	raw := string(body)
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil, connector.ErrNotMine
	}
	form, err := url.ParseQuery(raw)
	if err != nil {
		return nil, connector.ErrNotMine
	}
	orderNo := strings.TrimSpace(form.Get("order_no"))
	status := strings.TrimSpace(form.Get("status"))
	if orderNo == "" || status == "" {
		return nil, connector.ErrNotMine
	}
	normalized, ok := normalizeStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %s", connector.ErrResponseInvalid, status)
	}
	result := &connector.WebhookResult{
		ExternalOrderID:  orderNo,
		RawStatus:        status,
		NormalizedStatus: normalized,
	}
	if trackingNo := strings.TrimSpace(form.Get("tracking_no")); trackingNo != "" {
		result.Tracking = &connector.TrackingInfo{
			Carrier: strings.TrimSpace(form.Get("carrier")),
			Number:  trackingNo,
			URL:     strings.TrimSpace(form.Get("tracking_url")),
		}
	}
	return result, nil
}

func (c *Connector) postForm(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, connector.ErrRequestFailed
	}
	return io.ReadAll(resp.Body)
}

func buildSignContent(params map[string]string) string {
	var keys []string
	for k, v := range params {
		if v == "" || k == "sign" || k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(pairs, "&")
}

func signMD5(content string) string {
	sum := md5.Sum([]byte(content))
	return strings.ToLower(hex.EncodeToString(sum[:]))
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
	case "accepted", "printing":
		return constants.SupplierOrderStatusAccepted, true
	case "shipped":
		return constants.SupplierOrderStatusShipped, true
	case "completed", "delivered":
		return constants.SupplierOrderStatusDelivered, true
	case "refused":
		return constants.SupplierOrderStatusRejected, true
	case "void":
		return constants.SupplierOrderStatusCancelled, true
	default:
		return "", false
	}
}
