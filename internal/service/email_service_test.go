package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/kecheng-next/internal/config"
)

func TestEmailSendGuards(t *testing.T) {
	disabled := NewEmailService(&config.EmailConfig{Enabled: false})
	if err := disabled.Send("a@example.com", "s", "b"); !errors.Is(err, ErrEmailServiceDisabled) {
		t.Fatalf("disabled err = %v", err)
	}

	unconfigured := NewEmailService(&config.EmailConfig{Enabled: true})
	if err := unconfigured.Send("a@example.com", "s", "b"); !errors.Is(err, ErrEmailServiceNotConfigured) {
		t.Fatalf("unconfigured err = %v", err)
	}

	svc := NewEmailService(&config.EmailConfig{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    465,
		From:    "noreply@example.com",
	})
	if err := svc.Send("not-an-address", "s", "b"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("bad recipient err = %v", err)
	}
}

func TestBuildEmailMessage(t *testing.T) {
	msg := buildEmailMessage("noreply@example.com", "buyer@example.com", "订单已确认", "正文内容")
	if !strings.Contains(msg, "To: buyer@example.com\r\n") {
		t.Fatalf("missing recipient header: %q", msg)
	}
	if !strings.Contains(msg, "Content-Type: text/plain; charset=UTF-8") {
		t.Fatalf("missing content type: %q", msg)
	}
	if !strings.HasSuffix(msg, "正文内容") {
		t.Fatalf("body not at end: %q", msg)
	}
	// 非 ASCII 主题要做 Q 编码
	if strings.Contains(msg, "Subject: 订单已确认") {
		t.Fatalf("subject not encoded: %q", msg)
	}
}

func TestBuildFromAddress(t *testing.T) {
	if got := buildFromAddress("noreply@example.com", ""); got != "noreply@example.com" {
		t.Fatalf("bare from = %q", got)
	}
	named := buildFromAddress("noreply@example.com", "客成履约")
	if !strings.Contains(named, "<noreply@example.com>") {
		t.Fatalf("named from = %q", named)
	}
}

func TestIsEmailRecipientRejected(t *testing.T) {
	rejected := []string{
		"550 5.1.1 no such user here",
		"recipient address rejected: access denied",
		"550 mailbox unavailable",
	}
	for _, msg := range rejected {
		if !isEmailRecipientRejected(errors.New(msg)) {
			t.Errorf("%q should be recognized as recipient rejection", msg)
		}
	}
	if isEmailRecipientRejected(errors.New("connection timed out")) {
		t.Error("transient network error misclassified as rejection")
	}
	if isEmailRecipientRejected(nil) {
		t.Error("nil error misclassified")
	}
}
