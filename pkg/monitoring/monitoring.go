// Package monitoring holds the conventions shared by resource
// monitoring implementations: a dispatching group that walks a
// project's resources and builds alarms for the types it recognizes,
// and a per-alarm configuration override scheme.
package monitoring

import (
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// Config carries user-supplied overrides for alarms whose default
// settings are insufficient for a specific use case. The alarms map is
// keyed first by the name of the resource being monitored, then by the
// name of the alarm as defined in the documentation of the alarm group
// that builds it. In the stack config file this looks like:
//
//	monitoring:
//	  alarms:
//	    name-of-the-resource-being-monitored:
//	      name_of_the_alarm:
//	        enabled: false
type Config struct {
	Alarms map[string]map[string]AlarmOverride `yaml:"alarms"`
}

// AlarmOverride adjusts a single alarm. Every alarm responds to
// Enabled; the remaining fields apply where the alarm's documentation
// says they do.
type AlarmOverride struct {
	Enabled           *bool    `yaml:"enabled"`
	Threshold         *float64 `yaml:"threshold"`
	Period            *int     `yaml:"period"`
	EvaluationPeriods *int     `yaml:"evaluationPeriods"`
}

// IsEnabled reports whether the alarm should be built at all. Alarms
// are enabled unless explicitly switched off.
func (o AlarmOverride) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// ThresholdOr returns the override threshold, or the given default.
func (o AlarmOverride) ThresholdOr(def float64) float64 {
	if o.Threshold != nil {
		return *o.Threshold
	}
	return def
}

// PeriodOr returns the override period, or the given default.
func (o AlarmOverride) PeriodOr(def int) int {
	if o.Period != nil {
		return *o.Period
	}
	return def
}

// EvaluationPeriodsOr returns the override evaluation period count,
// or the given default.
func (o AlarmOverride) EvaluationPeriodsOr(def int) int {
	if o.EvaluationPeriods != nil {
		return *o.EvaluationPeriods
	}
	return def
}

// MonitoringGroup is the base for monitoring implementations. It
// carries the override config and resolves per-resource, per-alarm
// overrides for the alarm groups it builds.
//
// Implementations walk the project's flattened resources, dispatch on
// concrete resource type, and silently skip types they do not
// recognize. Where alarm applicability depends on a provider-resolved
// attribute, dispatch happens inside a continuation on that attribute
// and may decline to build anything. Build a monitoring group after
// every other resource group in the program so the project registry is
// complete when the resources are walked.
type MonitoringGroup struct {
	tbpulumi.ComponentResource

	Config Config
}

// Override returns the configured override for one alarm of one
// monitored resource, or a zero override when none is set.
func (mg *MonitoringGroup) Override(resourceName, alarmName string) AlarmOverride {
	if alarms, ok := mg.Config.Alarms[resourceName]; ok {
		return alarms[alarmName]
	}
	return AlarmOverride{}
}

// ResourceName extracts the logical resource name from a URN.
func ResourceName(urn pulumi.URN) string {
	parts := strings.Split(string(urn), "::")
	return parts[len(parts)-1]
}
