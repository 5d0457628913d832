package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCronTrigger() Trigger {
	return Trigger{
		Name:      "hourly sync",
		AgentID:   "agent-1",
		CreatedBy: "user-1",
		Type:      TypeCron,
		Cron:      &CronSpec{Expression: "0 * * * *", Timezone: "Europe/Berlin"},
	}
}

func validWebhookTrigger() Trigger {
	return Trigger{
		Name:      "github push",
		AgentID:   "agent-1",
		CreatedBy: "user-1",
		Type:      TypeWebhook,
		Webhook: &WebhookSpec{
			WebhookID:      "ab12cd34",
			AllowedMethods: []string{"POST"},
			Kind:           WebhookGitHub,
		},
	}
}

func TestValidateCronTrigger(t *testing.T) {
	require.NoError(t, validCronTrigger().Validate())

	sixField := validCronTrigger()
	sixField.Cron.Expression = "30 0 * * * *"
	require.NoError(t, sixField.Validate())

	cases := map[string]func(*Trigger){
		"empty name":       func(tr *Trigger) { tr.Name = "" },
		"empty agent":      func(tr *Trigger) { tr.AgentID = "" },
		"empty creator":    func(tr *Trigger) { tr.CreatedBy = "" },
		"missing spec":     func(tr *Trigger) { tr.Cron = nil },
		"four fields":      func(tr *Trigger) { tr.Cron.Expression = "0 * * *" },
		"seven fields":     func(tr *Trigger) { tr.Cron.Expression = "0 0 0 * * * *" },
		"bad field":        func(tr *Trigger) { tr.Cron.Expression = "99 * * * *" },
		"empty timezone":   func(tr *Trigger) { tr.Cron.Timezone = "" },
		"unknown timezone": func(tr *Trigger) { tr.Cron.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tr := validCronTrigger()
			mutate(&tr)
			err := tr.Validate()
			require.Error(t, err)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestValidateWebhookTrigger(t *testing.T) {
	require.NoError(t, validWebhookTrigger().Validate())

	cases := map[string]func(*Trigger){
		"empty webhook id":  func(tr *Trigger) { tr.Webhook.WebhookID = "" },
		"too long":          func(tr *Trigger) { tr.Webhook.WebhookID = "0123456789abcdef0" },
		"non-hex":           func(tr *Trigger) { tr.Webhook.WebhookID = "not-hex!" },
		"uppercase hex":     func(tr *Trigger) { tr.Webhook.WebhookID = "AB12CD34" },
		"no methods":        func(tr *Trigger) { tr.Webhook.AllowedMethods = nil },
		"bogus method":      func(tr *Trigger) { tr.Webhook.AllowedMethods = []string{"YEET"} },
		"unknown kind":      func(tr *Trigger) { tr.Webhook.Kind = "carrier-pigeon" },
		"wrong variant":     func(tr *Trigger) { tr.Webhook = nil },
		"unknown type":      func(tr *Trigger) { tr.Type = "smoke-signal" },
		"missing both spec": func(tr *Trigger) { tr.Type = TypeCron; tr.Webhook = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tr := validWebhookTrigger()
			mutate(&tr)
			assert.Error(t, tr.Validate())
		})
	}
}

func TestCronSpecNextRun(t *testing.T) {
	spec := CronSpec{Expression: "0 * * * *", Timezone: "UTC"}
	after := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	next, err := spec.NextRun(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC), next.UTC())
}
