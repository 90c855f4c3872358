package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSON 类型定义，用于存储结构化快照内容
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSON)
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// StringArray 字符串数组类型，用于存储标签等
type StringArray []string

// Value 实现 driver.Valuer 接口
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan 实现 sql.Scanner 接口
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// ShippingAddress 收货地址快照，下单时固化
type ShippingAddress struct {
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	CountryCode string `json:"country_code"`
	Province    string `json:"province,omitempty"`
	City        string `json:"city,omitempty"`
	AddressLine string `json:"address_line"`
	PostalCode  string `json:"postal_code,omitempty"`
}

// IsZero 判断地址是否为空
func (a ShippingAddress) IsZero() bool {
	return a.Name == "" && a.CountryCode == "" && a.AddressLine == ""
}

// Value 实现 driver.Valuer 接口
func (a ShippingAddress) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	return json.Marshal(a)
}

// Scan 实现 sql.Scanner 接口
func (a *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, a)
}
