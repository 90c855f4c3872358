package dropship

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kecheng-next/internal/connector"
	"github.com/kecheng-next/internal/constants"
)

func testInput() connector.SubmitInput {
	return connector.SubmitInput{
		OrderNo:       "ORD-DS-1",
		ItemID:        9,
		ProductRef:    "ds:GADGET-USB",
		Title:         "多功能 USB 集线器",
		Quantity:      1,
		RecipientName: "王小明",
		CountryCode:   "CN",
		AddressLine:   "西湖区测试路 1 号",
	}
}

func TestSubmitManualMode(t *testing.T) {
	conn := New(Config{})
	if !conn.ManualMode() {
		t.Fatal("empty base url should mean manual mode")
	}

	result, err := conn.Submit(context.Background(), testInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Outcome != connector.OutcomeAccepted {
		t.Fatalf("outcome = %q, want accepted", result.Outcome)
	}
	if !result.ManualConfirmation {
		t.Fatal("manual mode must flag manual confirmation")
	}
	if result.ExternalOrderID != "" {
		t.Fatalf("manual mode external order id = %q, want empty", result.ExternalOrderID)
	}
}

func TestSubmitAPIMode(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "ds-key" {
			t.Errorf("api key = %q", r.Header.Get("X-API-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		w.Write([]byte(`{"order_id":"DS-3001"}`))
	}))
	defer server.Close()

	conn := New(Config{BaseURL: server.URL, APIKey: "ds-key"})
	result, err := conn.Submit(context.Background(), testInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Outcome != connector.OutcomeAccepted || result.ExternalOrderID != "DS-3001" {
		t.Fatalf("result = %+v", result)
	}
	if result.ManualConfirmation {
		t.Fatal("api mode must not flag manual confirmation")
	}
	if gotBody["source_order"] != "ORD-DS-1-9" {
		t.Fatalf("source_order = %v", gotBody["source_order"])
	}
}

func TestSubmitAPIModeRejectedAndTransient(t *testing.T) {
	status := http.StatusBadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"message":"address unserviceable"}`))
	}))
	defer server.Close()

	conn := New(Config{BaseURL: server.URL, APIKey: "ds-key"})
	result, err := conn.Submit(context.Background(), testInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Outcome != connector.OutcomeRejected || result.Reason != "address unserviceable" {
		t.Fatalf("4xx result = %+v", result)
	}

	status = http.StatusInternalServerError
	result, err = conn.Submit(context.Background(), testInput())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.Outcome != connector.OutcomeTransient {
		t.Fatalf("5xx outcome = %q, want transient", result.Outcome)
	}
}

func TestVerifyWebhook(t *testing.T) {
	manual := New(Config{})
	if err := manual.VerifyWebhook(http.Header{}, nil); !errors.Is(err, connector.ErrSignatureInvalid) {
		t.Fatalf("manual mode must reject webhooks, err = %v", err)
	}

	api := New(Config{BaseURL: "http://ds.example.com", APIKey: "ds-key"})
	headers := http.Header{}
	headers.Set("X-API-Key", "ds-key")
	if err := api.VerifyWebhook(headers, nil); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	headers.Set("X-API-Key", "wrong")
	if err := api.VerifyWebhook(headers, nil); !errors.Is(err, connector.ErrSignatureInvalid) {
		t.Fatalf("wrong key err = %v", err)
	}
}

func TestNormalizeWebhook(t *testing.T) {
	conn := New(Config{BaseURL: "http://ds.example.com"})

	body := []byte(`{"order_id":"DS-3001","state":"dispatched","courier":"ZTO","waybill":"ZT77","tracking_url":"https://t.example.com/ZT77"}`)
	result, err := conn.NormalizeWebhook(body)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if result.NormalizedStatus != constants.SupplierOrderStatusShipped {
		t.Fatalf("dispatched normalized to %q", result.NormalizedStatus)
	}
	if result.Tracking == nil || result.Tracking.Number != "ZT77" {
		t.Fatalf("tracking = %+v", result.Tracking)
	}

	for _, raw := range []string{`not json`, `{"state":"shipped"}`, `{"order_id":"DS-1"}`} {
		if _, err := conn.NormalizeWebhook([]byte(raw)); !errors.Is(err, connector.ErrNotMine) {
			t.Errorf("NormalizeWebhook(%q) err = %v, want ErrNotMine", raw, err)
		}
	}
	if _, err := conn.NormalizeWebhook([]byte(`{"order_id":"DS-1","state":"vaporized"}`)); !errors.Is(err, connector.ErrResponseInvalid) {
		t.Fatalf("unknown state err = %v, want ErrResponseInvalid", err)
	}
}
