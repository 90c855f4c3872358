package main

import (
	"fmt"
	"time"

	"github.com/kecheng-next/internal/config"
	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/logger"
	"github.com/kecheng-next/internal/models"

	"github.com/shopspring/decimal"
)

// 本地开发用演示数据：覆盖全部履约类型与几个典型中间状态。
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	address := models.ShippingAddress{
		Name:        "王小明",
		Phone:       "13800000000",
		CountryCode: "CN",
		Province:    "浙江省",
		City:        "杭州市",
		AddressLine: "西湖区演示路 1 号",
		PostalCode:  "310000",
	}

	orders := []struct {
		order models.FulfillmentOrder
		items []models.FulfillmentItem
	}{
		{
			order: models.FulfillmentOrder{
				OrderNo:         "KC-DEMO-DIGITAL-001",
				PaymentID:       "pay-demo-001",
				UserEmail:       "demo-digital@example.com",
				Locale:          constants.LocaleZhCN,
				AggregateStatus: constants.AggregateStatusProcessing,
			},
			items: []models.FulfillmentItem{
				{
					Kind:       constants.ItemKindDigitalCourse,
					ProductRef: "course:go-advanced",
					TitleJSON: models.JSON{
						"zh-CN": "Go 进阶实战课",
						"en-US": "Advanced Go in Practice",
					},
					Quantity:  1,
					UnitPrice: models.NewMoneyFromDecimal(decimal.NewFromInt(299)),
					Status:    constants.ItemStatusQueued,
				},
				{
					Kind:       constants.ItemKindSubscription,
					ProductRef: "plan:pro-monthly",
					TitleJSON: models.JSON{
						"zh-CN": "专业版会员（月付）",
						"en-US": "Pro Membership (Monthly)",
					},
					Quantity:  3,
					UnitPrice: models.NewMoneyFromDecimal(decimal.NewFromInt(49)),
					Status:    constants.ItemStatusQueued,
				},
			},
		},
		{
			order: models.FulfillmentOrder{
				OrderNo:         "KC-DEMO-POD-001",
				PaymentID:       "pay-demo-002",
				UserEmail:       "demo-pod@example.com",
				Locale:          constants.LocaleZhCN,
				AggregateStatus: constants.AggregateStatusProcessing,
			},
			items: []models.FulfillmentItem{
				{
					Kind:       constants.ItemKindPodPrism,
					ProductRef: "prism:POSTER-STARRY",
					TitleJSON: models.JSON{
						"zh-CN": "星空艺术海报",
						"en-US": "Starry Night Poster",
					},
					Quantity:        1,
					UnitPrice:       models.NewMoneyFromDecimal(decimal.NewFromInt(89)),
					ShippingAddress: address,
					ShippingMethod:  "standard",
					Status:          constants.ItemStatusQueued,
				},
				{
					Kind:       constants.ItemKindPodInkwell,
					ProductRef: "inkwell:NOTEBOOK-A5",
					TitleJSON: models.JSON{
						"zh-CN": "定制笔记本 A5",
						"en-US": "Custom Notebook A5",
					},
					Quantity:        2,
					UnitPrice:       models.NewMoneyFromDecimal(decimal.NewFromInt(45)),
					ShippingAddress: address,
					ShippingMethod:  "express",
					Status:          constants.ItemStatusQueued,
				},
			},
		},
		{
			order: models.FulfillmentOrder{
				OrderNo:         "KC-DEMO-MANUAL-001",
				PaymentID:       "pay-demo-003",
				UserEmail:       "demo-manual@example.com",
				Locale:          constants.LocaleEnUS,
				AggregateStatus: constants.AggregateStatusProcessing,
			},
			items: []models.FulfillmentItem{
				{
					Kind:       constants.ItemKindDropship,
					ProductRef: "ds:GADGET-USB",
					TitleJSON: models.JSON{
						"zh-CN": "多功能 USB 集线器",
						"en-US": "Multi-port USB Hub",
					},
					Quantity:        1,
					UnitPrice:       models.NewMoneyFromDecimal(decimal.NewFromInt(120)),
					ShippingAddress: address,
					Status:          constants.ItemStatusQueued,
				},
				{
					Kind:       constants.ItemKindOwnedInventory,
					ProductRef: "wh:TSHIRT-L",
					TitleJSON: models.JSON{
						"zh-CN": "纪念 T 恤 L 码",
						"en-US": "Souvenir T-Shirt (L)",
					},
					Quantity:        1,
					UnitPrice:       models.NewMoneyFromDecimal(decimal.NewFromInt(79)),
					ShippingAddress: address,
					Status:          constants.ItemStatusQueued,
				},
			},
		},
	}

	seeded := 0
	for _, entry := range orders {
		var count int64
		if err := models.DB.Model(&models.FulfillmentOrder{}).
			Where("order_no = ?", entry.order.OrderNo).
			Count(&count).Error; err != nil {
			stdLog.Fatalf("check order %s failed: %v", entry.order.OrderNo, err)
		}
		if count > 0 {
			fmt.Printf("skip existing order %s\n", entry.order.OrderNo)
			continue
		}

		order := entry.order
		if err := models.DB.Create(&order).Error; err != nil {
			stdLog.Fatalf("create order %s failed: %v", order.OrderNo, err)
		}
		for i := range entry.items {
			entry.items[i].OrderID = order.ID
		}
		if err := models.DB.Create(&entry.items).Error; err != nil {
			stdLog.Fatalf("create items for %s failed: %v", order.OrderNo, err)
		}
		seeded++
		fmt.Printf("seeded order %s with %d items\n", order.OrderNo, len(entry.items))
	}

	fmt.Printf("done at %s, %d orders seeded\n", time.Now().Format(time.RFC3339), seeded)
}
