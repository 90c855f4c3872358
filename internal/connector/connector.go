package connector

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

// 提交结果的三种归类：接受、拒绝（终态，不重试）、瞬时失败（可重试）
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeTransient = "transient"
)

var (
	ErrConfigInvalid    = errors.New("supplier config invalid")
	ErrRequestFailed    = errors.New("supplier request failed")
	ErrResponseInvalid  = errors.New("supplier response invalid")
	ErrSignatureInvalid = errors.New("supplier webhook signature invalid")
	// ErrNotMine 回调报文不属于该连接器，路由层应继续尝试其它连接器
	ErrNotMine = errors.New("webhook payload not recognized")
)

// SubmitInput 供应商下单输入（连接器不落库，所需上下文全部由此传入）
type SubmitInput struct {
	OrderNo         string
	ItemID          uint
	ProductRef      string
	Title           string
	Quantity        int
	ShippingMethod  string
	RecipientName   string
	RecipientPhone  string
	CountryCode     string
	Province        string
	City            string
	AddressLine     string
	PostalCode      string
}

// SubmitResult 供应商下单结果
type SubmitResult struct {
	Outcome            string          // accepted/rejected/transient
	ExternalOrderID    string          // 供应商侧订单号（accepted 时非空，人工模式除外）
	Reason             string          // rejected/transient 时的原因
	QuoteAmount        decimal.Decimal // 供应商报价
	QuoteCurrency      string          // 报价币种
	ExchangeRate       decimal.Decimal // 提交时点的折算汇率（无折算时为零值）
	ChargedAmount      decimal.Decimal // 折算为站点币种后的金额
	ManualConfirmation bool            // 需要人工确认（无 API 的直邮供应商）
}

// TrackingInfo 物流信息
type TrackingInfo struct {
	Carrier string
	Number  string
	URL     string
}

// WebhookResult 回调归一化结果
type WebhookResult struct {
	ExternalOrderID  string
	RawStatus        string
	NormalizedStatus string // constants.SupplierOrderStatus*
	Tracking         *TrackingInfo
}

// Connector 供应商连接器。实现只做网络与报文转换，不读写数据库。
type Connector interface {
	Name() string
	Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error)
	VerifyWebhook(headers http.Header, body []byte) error
	NormalizeWebhook(body []byte) (*WebhookResult, error)
}

// Registry 连接器注册表，按供应商名与履约类型索引
type Registry struct {
	byName []Connector
	byKind map[string]Connector
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]Connector)}
}

// Register 注册连接器并绑定其负责的履约类型
func (r *Registry) Register(c Connector, kinds ...string) {
	if c == nil {
		return
	}
	r.byName = append(r.byName, c)
	for _, kind := range kinds {
		r.byKind[kind] = c
	}
}

// ByName 根据供应商名获取连接器
func (r *Registry) ByName(name string) Connector {
	for _, c := range r.byName {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ByKind 根据履约类型获取连接器
func (r *Registry) ByKind(kind string) Connector {
	return r.byKind[kind]
}

// All 返回全部连接器（用于按报文特征探测归属）
func (r *Registry) All() []Connector {
	return r.byName
}
