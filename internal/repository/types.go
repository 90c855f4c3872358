package repository

import "time"

// OrderListFilter 查询履约单列表的过滤条件
type OrderListFilter struct {
	Page            int
	PageSize        int
	OrderNo         string
	UserEmail       string
	Keyword         string
	AggregateStatus string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

// WebhookEventListFilter 查询 Webhook 事件的过滤条件
type WebhookEventListFilter struct {
	Page     int
	PageSize int
	Supplier string
	Status   string
}
