// Package cloudwatch implements resource monitoring with CloudWatch
// metric alarms delivered to an SNS alerting topic.
package cloudwatch

import (
	"fmt"
	"sync"

	awscloudfront "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudfront"
	awscloudwatch "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/sns"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/monitoring"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// CloudWatchMonitoringArgs configures a CloudWatchMonitoring group.
type CloudWatchMonitoringArgs struct {
	// Config carries per-resource, per-alarm overrides.
	Config monitoring.Config
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// CloudWatchMonitoring builds CloudWatch metric alarms for every
// supported resource in the project and an SNS topic the alarms
// notify. Application load balancers and CloudFront distributions are
// supported; network load balancers expose no metrics worth alarming
// on and are declined. Build this group after every other resource
// group in the program.
type CloudWatchMonitoring struct {
	monitoring.MonitoringGroup

	SnsTopic *sns.Topic

	mu sync.Mutex
	// AlarmGroups is keyed by monitored resource name.
	AlarmGroups map[string]pulumi.Resource
}

// NewCloudWatchMonitoring registers the alerting topic and the alarm
// groups with the given project. Dispatch for each supported resource
// runs inside a continuation on its resolved attributes, so the alarm
// groups appear after the preview resolves them.
func NewCloudWatchMonitoring(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *CloudWatchMonitoringArgs, opts ...pulumi.ResourceOption) (*CloudWatchMonitoring, error) {
	if args == nil {
		args = &CloudWatchMonitoringArgs{}
	}

	cwm := &CloudWatchMonitoring{AlarmGroups: map[string]pulumi.Resource{}}
	cwm.Config = args.Config
	err := tbpulumi.NewComponent(ctx, "tb:cloudwatch:CloudWatchMonitoring", name, project, cwm,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	cwm.SnsTopic, err = sns.NewTopic(ctx, fmt.Sprintf("%s-topic", name), &sns.TopicArgs{
		Name: pulumi.Sprintf("%s-alerting", project.NamePrefix),
		Tags: cwm.PulumiTags(),
	}, pulumi.Parent(cwm))
	if err != nil {
		return nil, err
	}

	// Each dispatch continuation yields one value; Finish waits on all
	// of them so the registry holds the full set of alarm groups.
	dispatches := []any{}
	for _, res := range project.Flatten() {
		switch r := res.(type) {
		case *lb.LoadBalancer:
			// Whether a load balancer has alarmable metrics depends on
			// its flavor, which is only known once resolved.
			d := pulumi.All(r.URN(), r.LoadBalancerType).ApplyT(func(vals []any) (bool, error) {
				resName := monitoring.ResourceName(vals[0].(pulumi.URN))
				if vals[1].(string) == "network" {
					return false, nil
				}
				group, err := newAlbAlarmGroup(ctx, resName, project, cwm, r)
				if err != nil {
					return false, err
				}
				cwm.recordAlarmGroup(resName, group)
				return true, nil
			})
			dispatches = append(dispatches, d)
		case *awscloudfront.Distribution:
			d := r.URN().ApplyT(func(urn pulumi.URN) (bool, error) {
				resName := monitoring.ResourceName(urn)
				group, err := newCloudFrontDistributionAlarmGroup(ctx, resName, project, cwm, r)
				if err != nil {
					return false, err
				}
				cwm.recordAlarmGroup(resName, group)
				return true, nil
			})
			dispatches = append(dispatches, d)
		}
	}

	if len(dispatches) == 0 {
		err = cwm.Finish(ctx, pulumi.Map{"sns_topic_arn": cwm.SnsTopic.Arn}, tbpulumi.ResourceMap{
			"sns_topic": cwm.SnsTopic,
		})
		if err != nil {
			return nil, err
		}
		return cwm, nil
	}

	pulumi.All(dispatches...).ApplyT(func([]any) (bool, error) {
		err := cwm.Finish(ctx, pulumi.Map{"sns_topic_arn": cwm.SnsTopic.Arn}, tbpulumi.ResourceMap{
			"sns_topic": cwm.SnsTopic,
			"alerts":    cwm.AlarmGroups,
		})
		if err != nil {
			return false, err
		}
		return true, nil
	})
	return cwm, nil
}

func (cwm *CloudWatchMonitoring) recordAlarmGroup(resourceName string, group pulumi.Resource) {
	cwm.mu.Lock()
	defer cwm.mu.Unlock()
	cwm.AlarmGroups[resourceName] = group
}

// AlbAlarmGroup holds the alarms for one application load balancer.
//
// Alarm names for override purposes: "alb_5xx" (threshold, period,
// evaluationPeriods) and "target_response_time" (same).
type AlbAlarmGroup struct {
	tbpulumi.ComponentResource

	FiveXX             *awscloudwatch.MetricAlarm
	TargetResponseTime *awscloudwatch.MetricAlarm
}

func newAlbAlarmGroup(ctx *pulumi.Context, resourceName string, project *tbpulumi.Project, cwm *CloudWatchMonitoring, balancer *lb.LoadBalancer) (*AlbAlarmGroup, error) {
	ag := &AlbAlarmGroup{}
	err := tbpulumi.NewComponent(ctx, "tb:cloudwatch:AlbAlarmGroup", resourceName, project, ag,
		&tbpulumi.ComponentArgs{Tags: alarmGroupTags(cwm, resourceName)}, pulumi.Parent(cwm))
	if err != nil {
		return nil, err
	}

	dimensions := pulumi.StringMap{"LoadBalancer": balancer.ArnSuffix}

	if override := cwm.Override(resourceName, "alb_5xx"); override.IsEnabled() {
		ag.FiveXX, err = awscloudwatch.NewMetricAlarm(ctx, fmt.Sprintf("%s-5xx", resourceName),
			&awscloudwatch.MetricAlarmArgs{
				Name:               pulumi.Sprintf("%s-%s-5xx", project.NamePrefix, resourceName),
				AlarmDescription:   pulumi.Sprintf("5xx errors on ALB %s", resourceName),
				ComparisonOperator: pulumi.String("GreaterThanOrEqualToThreshold"),
				EvaluationPeriods:  pulumi.Int(override.EvaluationPeriodsOr(2)),
				MetricName:         pulumi.String("HTTPCode_ELB_5XX_Count"),
				Namespace:          pulumi.String("AWS/ApplicationELB"),
				Period:             pulumi.Int(override.PeriodOr(300)),
				Statistic:          pulumi.String("Sum"),
				Threshold:          pulumi.Float64(override.ThresholdOr(1)),
				Dimensions:         dimensions,
				AlarmActions:       pulumi.Array{cwm.SnsTopic.Arn},
				Tags:               ag.PulumiTags(),
			}, pulumi.Parent(ag))
		if err != nil {
			return nil, err
		}
	}

	if override := cwm.Override(resourceName, "target_response_time"); override.IsEnabled() {
		ag.TargetResponseTime, err = awscloudwatch.NewMetricAlarm(ctx, fmt.Sprintf("%s-response-time", resourceName),
			&awscloudwatch.MetricAlarmArgs{
				Name:               pulumi.Sprintf("%s-%s-response-time", project.NamePrefix, resourceName),
				AlarmDescription:   pulumi.Sprintf("Average target response time on ALB %s", resourceName),
				ComparisonOperator: pulumi.String("GreaterThanOrEqualToThreshold"),
				EvaluationPeriods:  pulumi.Int(override.EvaluationPeriodsOr(2)),
				MetricName:         pulumi.String("TargetResponseTime"),
				Namespace:          pulumi.String("AWS/ApplicationELB"),
				Period:             pulumi.Int(override.PeriodOr(300)),
				Statistic:          pulumi.String("Average"),
				Threshold:          pulumi.Float64(override.ThresholdOr(1)),
				Dimensions:         dimensions,
				AlarmActions:       pulumi.Array{cwm.SnsTopic.Arn},
				Tags:               ag.PulumiTags(),
			}, pulumi.Parent(ag))
		if err != nil {
			return nil, err
		}
	}

	resources := tbpulumi.ResourceMap{}
	if ag.FiveXX != nil {
		resources["alb_5xx"] = ag.FiveXX
	}
	if ag.TargetResponseTime != nil {
		resources["target_response_time"] = ag.TargetResponseTime
	}
	if err := ag.Finish(ctx, nil, resources); err != nil {
		return nil, err
	}
	return ag, nil
}

// CloudFrontDistributionAlarmGroup holds the alarms for one CloudFront
// distribution.
//
// Alarm names for override purposes: "error_rate" (threshold, period,
// evaluationPeriods).
type CloudFrontDistributionAlarmGroup struct {
	tbpulumi.ComponentResource

	ErrorRate *awscloudwatch.MetricAlarm
}

func newCloudFrontDistributionAlarmGroup(ctx *pulumi.Context, resourceName string, project *tbpulumi.Project, cwm *CloudWatchMonitoring, distribution *awscloudfront.Distribution) (*CloudFrontDistributionAlarmGroup, error) {
	ag := &CloudFrontDistributionAlarmGroup{}
	err := tbpulumi.NewComponent(ctx, "tb:cloudwatch:CloudFrontDistributionAlarmGroup", resourceName, project, ag,
		&tbpulumi.ComponentArgs{Tags: alarmGroupTags(cwm, resourceName)}, pulumi.Parent(cwm))
	if err != nil {
		return nil, err
	}

	if override := cwm.Override(resourceName, "error_rate"); override.IsEnabled() {
		ag.ErrorRate, err = awscloudwatch.NewMetricAlarm(ctx, fmt.Sprintf("%s-error-rate", resourceName),
			&awscloudwatch.MetricAlarmArgs{
				Name:               pulumi.Sprintf("%s-%s-error-rate", project.NamePrefix, resourceName),
				AlarmDescription:   pulumi.Sprintf("Elevated error rate on distribution %s", resourceName),
				ComparisonOperator: pulumi.String("GreaterThanOrEqualToThreshold"),
				EvaluationPeriods:  pulumi.Int(override.EvaluationPeriodsOr(2)),
				MetricName:         pulumi.String("TotalErrorRate"),
				Namespace:          pulumi.String("AWS/CloudFront"),
				Period:             pulumi.Int(override.PeriodOr(300)),
				Statistic:          pulumi.String("Average"),
				Threshold:          pulumi.Float64(override.ThresholdOr(2)),
				Dimensions: pulumi.StringMap{
					"DistributionId": distribution.ID().ToStringOutput(),
					"Region":         pulumi.String("Global"),
				},
				AlarmActions: pulumi.Array{cwm.SnsTopic.Arn},
				Tags:         ag.PulumiTags(),
			}, pulumi.Parent(ag))
		if err != nil {
			return nil, err
		}
	}

	resources := tbpulumi.ResourceMap{}
	if ag.ErrorRate != nil {
		resources["error_rate"] = ag.ErrorRate
	}
	if err := ag.Finish(ctx, nil, resources); err != nil {
		return nil, err
	}
	return ag, nil
}

// alarmGroupTags tags alarm groups with the name of the resource they
// monitor for easy reference when tweaking later.
func alarmGroupTags(cwm *CloudWatchMonitoring, resourceName string) map[string]string {
	tags := map[string]string{}
	for k, v := range cwm.Tags {
		tags[k] = v
	}
	tags["tb_pulumi_resource_name"] = resourceName
	return tags
}
