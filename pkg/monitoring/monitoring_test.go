package monitoring

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func boolPtr(b bool) *bool          { return &b }
func float64Ptr(f float64) *float64 { return &f }
func intPtr(i int) *int             { return &i }

func TestAlarmOverrideDefaults(t *testing.T) {
	var o AlarmOverride
	assert.True(t, o.IsEnabled())
	assert.Equal(t, 2.0, o.ThresholdOr(2.0))
	assert.Equal(t, 300, o.PeriodOr(300))
	assert.Equal(t, 2, o.EvaluationPeriodsOr(2))

	o = AlarmOverride{
		Enabled:           boolPtr(false),
		Threshold:         float64Ptr(10),
		Period:            intPtr(60),
		EvaluationPeriods: intPtr(5),
	}
	assert.False(t, o.IsEnabled())
	assert.Equal(t, 10.0, o.ThresholdOr(2.0))
	assert.Equal(t, 60, o.PeriodOr(300))
	assert.Equal(t, 5, o.EvaluationPeriodsOr(2))
}

func TestConfigUnmarshal(t *testing.T) {
	doc := `
alarms:
  myapp-stage-alb:
    alb_5xx:
      enabled: false
    target_response_time:
      threshold: 2.5
      evaluationPeriods: 3
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	mg := &MonitoringGroup{Config: cfg}
	assert.False(t, mg.Override("myapp-stage-alb", "alb_5xx").IsEnabled())

	rt := mg.Override("myapp-stage-alb", "target_response_time")
	assert.True(t, rt.IsEnabled())
	assert.Equal(t, 2.5, rt.ThresholdOr(1.0))
	assert.Equal(t, 3, rt.EvaluationPeriodsOr(2))

	// Unconfigured resources and alarms fall through to defaults.
	assert.True(t, mg.Override("myapp-stage-alb", "other_alarm").IsEnabled())
	assert.True(t, mg.Override("other-resource", "alb_5xx").IsEnabled())
}

func TestResourceName(t *testing.T) {
	urn := pulumi.URN("urn:pulumi:stage::myapp::aws:lb/loadBalancer:LoadBalancer::myapp-stage-alb")
	assert.Equal(t, "myapp-stage-alb", ResourceName(urn))
}
