package trigger

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// allowedHTTPMethods is the set a webhook trigger may accept.
var allowedHTTPMethods = map[string]struct{}{
	"GET":     {},
	"POST":    {},
	"PUT":     {},
	"PATCH":   {},
	"DELETE":  {},
	"HEAD":    {},
	"OPTIONS": {},
}

// webhookIDMaxLen bounds the public path segment.
const webhookIDMaxLen = 16

// Validate checks the record against the service's creation rules. Returned
// errors are *ValidationError and therefore terminal.
func (t Trigger) Validate() error {
	if t.Name == "" {
		return validationErrorf("name", "must not be empty")
	}
	if t.AgentID == "" {
		return validationErrorf("agent_id", "must not be empty")
	}
	if t.CreatedBy == "" {
		return validationErrorf("created_by", "must not be empty")
	}
	switch t.Type {
	case TypeCron:
		if t.Cron == nil {
			return validationErrorf("cron", "cron trigger requires a cron spec")
		}
		return t.Cron.validate()
	case TypeWebhook:
		if t.Webhook == nil {
			return validationErrorf("webhook", "webhook trigger requires a webhook spec")
		}
		return t.Webhook.validate()
	default:
		return validationErrorf("trigger_type", "unknown type %q", t.Type)
	}
}

func (c CronSpec) validate() error {
	if _, err := ParseCron(c.Expression); err != nil {
		return validationErrorf("cron_expression", "%v", err)
	}
	if c.Timezone == "" {
		return validationErrorf("timezone", "must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return validationErrorf("timezone", "unknown IANA zone %q", c.Timezone)
	}
	return nil
}

func (w WebhookSpec) validate() error {
	if w.WebhookID == "" {
		return validationErrorf("webhook_id", "must not be empty")
	}
	if len(w.WebhookID) > webhookIDMaxLen {
		return validationErrorf("webhook_id", "must be at most %d characters", webhookIDMaxLen)
	}
	for _, r := range w.WebhookID {
		if !isHexRune(r) {
			return validationErrorf("webhook_id", "must be lowercase hexadecimal")
		}
	}
	if len(w.AllowedMethods) == 0 {
		return validationErrorf("allowed_methods", "must not be empty")
	}
	for _, m := range w.AllowedMethods {
		if _, ok := allowedHTTPMethods[strings.ToUpper(m)]; !ok {
			return validationErrorf("allowed_methods", "unsupported HTTP method %q", m)
		}
	}
	switch w.Kind {
	case "", WebhookGeneric, WebhookTelegram, WebhookSlack, WebhookGitHub:
		return nil
	default:
		return validationErrorf("webhook_type", "unknown kind %q", w.Kind)
	}
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// ParseCron parses a 5-field cron expression, or a 6-field expression with a
// leading seconds column.
func ParseCron(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		return parser.Parse(expr)
	case 6:
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		return parser.Parse(expr)
	default:
		return nil, validationErrorf("cron_expression", "expected 5 or 6 fields, got %d", len(fields))
	}
}

// NextRun computes the next firing of the spec's expression after the given
// instant, in the spec's timezone.
func (c CronSpec) NextRun(after time.Time) (time.Time, error) {
	sched, err := ParseCron(c.Expression)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}
