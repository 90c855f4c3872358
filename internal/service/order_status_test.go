package service

import (
	"testing"

	"github.com/kecheng-next/internal/constants"
	"github.com/kecheng-next/internal/models"
)

func TestCalcAggregateStatus(t *testing.T) {
	build := func(statuses ...string) []models.FulfillmentItem {
		items := make([]models.FulfillmentItem, 0, len(statuses))
		for _, status := range statuses {
			items = append(items, models.FulfillmentItem{Status: status})
		}
		return items
	}

	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"empty", nil, constants.AggregateStatusProcessing},
		{"all_queued", []string{"queued", "queued"}, constants.AggregateStatusProcessing},
		{"all_fulfilled", []string{"fulfilled", "delivered"}, constants.AggregateStatusFulfilled},
		{"all_failed", []string{"failed", "cancelled"}, constants.AggregateStatusFailed},
		{"mixed_success_and_failed", []string{"fulfilled", "failed"}, constants.AggregateStatusPartiallyFulfilled},
		{"mixed_success_and_pending", []string{"delivered", "pending_supplier"}, constants.AggregateStatusPartiallyFulfilled},
		{"failed_and_pending", []string{"failed", "queued"}, constants.AggregateStatusProcessing},
		{"shipped_not_terminal", []string{"shipped"}, constants.AggregateStatusProcessing},
		{"single_fulfilled", []string{"fulfilled"}, constants.AggregateStatusFulfilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calcAggregateStatus(build(tt.statuses...)); got != tt.want {
				t.Errorf("calcAggregateStatus(%v) = %q, want %q", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestSupplierStatusAdvances(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		incoming string
		want     bool
	}{
		{"created_to_submitted", "created", "submitted", true},
		{"submitted_to_accepted", "submitted", "accepted", true},
		{"accepted_to_shipped", "accepted", "shipped", true},
		{"shipped_to_delivered", "shipped", "delivered", true},
		{"accepted_to_delivered_skips_shipped", "accepted", "delivered", true},
		{"accepted_to_rejected", "accepted", "rejected", true},
		{"shipped_to_shipped_duplicate", "shipped", "shipped", false},
		{"shipped_to_accepted_regression", "shipped", "accepted", false},
		{"delivered_is_terminal", "delivered", "shipped", false},
		{"rejected_is_terminal", "rejected", "shipped", false},
		{"cancelled_is_terminal", "cancelled", "delivered", false},
		{"unknown_incoming", "accepted", "teleported", false},
		{"unknown_current_treated_as_created", "bogus", "shipped", true},
		{"case_insensitive", "Accepted", "SHIPPED", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := supplierStatusAdvances(tt.current, tt.incoming); got != tt.want {
				t.Errorf("supplierStatusAdvances(%q, %q) = %v, want %v", tt.current, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestItemStatusForSupplier(t *testing.T) {
	tests := []struct {
		supplierStatus string
		want           string
	}{
		{"shipped", constants.ItemStatusShipped},
		{"delivered", constants.ItemStatusDelivered},
		{"rejected", constants.ItemStatusFailed},
		{"cancelled", constants.ItemStatusCancelled},
		{"accepted", ""},
		{"submitted", ""},
		{"created", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := itemStatusForSupplier(tt.supplierStatus); got != tt.want {
			t.Errorf("itemStatusForSupplier(%q) = %q, want %q", tt.supplierStatus, got, tt.want)
		}
	}
}

func TestIsItemTerminal(t *testing.T) {
	terminal := []string{"fulfilled", "delivered", "failed", "cancelled"}
	for _, status := range terminal {
		if !isItemTerminal(status) {
			t.Errorf("isItemTerminal(%q) = false, want true", status)
		}
	}
	open := []string{"queued", "submitting", "pending_supplier", "shipped", ""}
	for _, status := range open {
		if isItemTerminal(status) {
			t.Errorf("isItemTerminal(%q) = true, want false", status)
		}
	}

	if !isItemTerminalSuccess("fulfilled") || !isItemTerminalSuccess("delivered") {
		t.Error("fulfilled/delivered should count as terminal success")
	}
	if isItemTerminalSuccess("failed") || isItemTerminalSuccess("cancelled") {
		t.Error("failed/cancelled must not count as terminal success")
	}
}
