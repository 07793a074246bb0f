package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "library:alerts"

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// Rule is a threshold of matching events per client within a window.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts security events per client IP in Redis and reports
// when a rule's threshold is reached. It never blocks a request.
type AuditAlerter struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewAuditAlerter builds an alerter on client. A nil client yields a nil
// alerter, whose Observe is a no-op.
func NewAuditAlerter(client redis.Scripter, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe records one event and evaluates its rule.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	var result AlertResult
	if a == nil {
		return result, nil
	}
	rule, ok := RuleFor(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := rule.Window.Milliseconds()
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = rule.Threshold
	result.Window = rule.Window
	result.Triggered = count >= rule.Threshold
	return result, nil
}

// RuleFor returns the alert rule of an audit event. Admin password failures
// have the lowest threshold since admin login has no lockout.
func RuleFor(event, outcome string) (Rule, bool) {
	event = strings.TrimSpace(event)
	switch strings.TrimSpace(outcome) {
	case "rate_limited":
		return Rule{Threshold: 20, Window: time.Minute}, true
	case "fail":
	default:
		return Rule{}, false
	}
	switch event {
	case "library.admin.login":
		return Rule{Threshold: 5, Window: 5 * time.Minute}, true
	case "library.signin", "library.signup":
		return Rule{Threshold: 10, Window: 5 * time.Minute}, true
	case "library.user.authorize", "library.admin.authorize", "library.anon_key":
		return Rule{Threshold: 25, Window: 5 * time.Minute}, true
	default:
		return Rule{}, false
	}
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(":", "_", "|", "_", " ", "_")
	return replacer.Replace(in)
}
