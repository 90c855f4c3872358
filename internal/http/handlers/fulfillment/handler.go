package fulfillment

import "github.com/kecheng-next/internal/provider"

// Handler 履约接口处理器入口
// 说明：该处理器仅供内部服务（结算服务、运营后台）与供应商回调使用。
type Handler struct {
	*provider.Container
}

// New 创建履约处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
