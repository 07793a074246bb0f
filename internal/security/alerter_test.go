package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestAlerter(t *testing.T) *AuditAlerter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	alerter := NewAuditAlerter(client, "test:alerts")
	if alerter == nil {
		t.Fatalf("expected alerter")
	}
	return alerter
}

func TestAdminLoginFailuresTrigger(t *testing.T) {
	alerter := newTestAlerter(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		result, err := alerter.Observe(ctx, "library.admin.login", "fail", "10.0.0.1")
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		if result.Triggered != (i == 5) {
			t.Fatalf("attempt %d: triggered=%v count=%d", i, result.Triggered, result.Count)
		}
	}
	other, err := alerter.Observe(ctx, "library.admin.login", "fail", "10.0.0.2")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if other.Triggered || other.Count != 1 {
		t.Fatalf("counters must be per ip, got %+v", other)
	}
}

func TestWindowRollover(t *testing.T) {
	alerter := newTestAlerter(t)
	ctx := context.Background()
	base := time.UnixMilli(10 * 60_000)
	alerter.now = func() time.Time { return base }
	for i := 0; i < 4; i++ {
		if _, err := alerter.Observe(ctx, "library.admin.login", "fail", "10.0.0.1"); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	alerter.now = func() time.Time { return base.Add(5 * time.Minute) }
	result, err := alerter.Observe(ctx, "library.admin.login", "fail", "10.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 1 {
		t.Fatalf("expected a fresh window, got %+v", result)
	}
}

func TestObserveIgnoresUnknownRule(t *testing.T) {
	alerter := newTestAlerter(t)
	result, err := alerter.Observe(context.Background(), "library.admin.login", "success", "127.0.0.1")
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if result.Triggered || result.Count != 0 {
		t.Fatalf("unexpected result for success outcome %+v", result)
	}
}

func TestNilAlerter(t *testing.T) {
	var alerter *AuditAlerter
	if NewAuditAlerter(nil, "") != nil {
		t.Fatalf("expected nil alerter without client")
	}
	if _, err := alerter.Observe(context.Background(), "library.signin", "fail", "ip"); err != nil {
		t.Fatalf("nil alerter must be a no-op: %v", err)
	}
}

func TestSanitizeSegment(t *testing.T) {
	if got := sanitizeSegment(" ::1 "); got != "__1" {
		t.Fatalf("unexpected %q", got)
	}
	if got := sanitizeSegment(""); got != "unknown" {
		t.Fatalf("unexpected %q", got)
	}
}
