// Package autoscale builds application autoscaling patterns.
package autoscale

import (
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/appautoscaling"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// EcsServiceAutoscalerArgs configures an EcsServiceAutoscaler.
type EcsServiceAutoscalerArgs struct {
	// Service is the ECS service to build this autoscaler for.
	Service *ecs.Service
	// CpuThreshold is the average CPU consumption across service
	// containers at which we scale. Defaults to 70.
	CpuThreshold *int
	// Cooldown is the number of seconds to wait between scaling
	// events, used to prevent rapid fluctuations in capacity.
	// Defaults to 300.
	Cooldown *int
	// DisableScaleIn prevents the service from scaling in while still
	// allowing scale-outs.
	DisableScaleIn bool
	// MaxCapacity is the maximum number of containers to run.
	// Defaults to 2.
	MaxCapacity *int
	// MinCapacity is the minimum number of containers to run.
	// Defaults to 1.
	MinCapacity *int
	// RamThreshold is the average memory usage across service
	// containers at which we scale. Defaults to 70.
	RamThreshold *int
	// Suspend stops all scaling operations.
	Suspend bool
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// EcsServiceAutoscaler scales an ECS service by its desired container
// count, tracking average CPU and memory usage. The scaling resources
// are built inside an output continuation once the service's cluster
// and name have resolved; until then the member fields are nil.
type EcsServiceAutoscaler struct {
	tbpulumi.ComponentResource

	Target    *appautoscaling.Target
	CpuPolicy *appautoscaling.Policy
	RamPolicy *appautoscaling.Policy
}

// NewEcsServiceAutoscaler registers the scaling target and its
// policies with the given project.
func NewEcsServiceAutoscaler(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *EcsServiceAutoscalerArgs, opts ...pulumi.ResourceOption) (*EcsServiceAutoscaler, error) {
	if args == nil || args.Service == nil {
		return nil, fmt.Errorf("an ECS service is required to build autoscaler %s", name)
	}
	cpuThreshold := intOrDefault(args.CpuThreshold, 70)
	cooldown := intOrDefault(args.Cooldown, 300)
	maxCapacity := intOrDefault(args.MaxCapacity, 2)
	minCapacity := intOrDefault(args.MinCapacity, 1)
	ramThreshold := intOrDefault(args.RamThreshold, 70)

	esa := &EcsServiceAutoscaler{}
	err := tbpulumi.NewComponent(ctx, "tb:autoscale:EcsServiceAutoscaler", name, project, esa,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	service := args.Service
	pulumi.All(service.Cluster, service.Name).ApplyT(func(vals []any) (bool, error) {
		// The service reports its cluster as an ARN; only the cluster
		// name belongs in the scaling resource ID.
		clusterParts := strings.Split(vals[0].(string), "/")
		clusterName := clusterParts[len(clusterParts)-1]
		serviceName := vals[1].(string)
		serviceResourceId := fmt.Sprintf("service/%s/%s", clusterName, serviceName)

		esa.Target, err = appautoscaling.NewTarget(ctx, fmt.Sprintf("%s-scltgt-%s", name, serviceName),
			&appautoscaling.TargetArgs{
				ResourceId:        pulumi.String(serviceResourceId),
				ScalableDimension: pulumi.String("ecs:service:DesiredCount"),
				ServiceNamespace:  pulumi.String("ecs"),
				MinCapacity:       pulumi.Int(minCapacity),
				MaxCapacity:       pulumi.Int(maxCapacity),
				SuspendedState: &appautoscaling.TargetSuspendedStateArgs{
					DynamicScalingInSuspended:  pulumi.Bool(args.Suspend || args.DisableScaleIn),
					DynamicScalingOutSuspended: pulumi.Bool(args.Suspend),
					ScheduledScalingSuspended:  pulumi.Bool(args.Suspend),
				},
				Tags: esa.PulumiTags(),
			}, pulumi.Parent(esa), pulumi.DependsOn([]pulumi.Resource{service}))
		if err != nil {
			return false, err
		}

		esa.CpuPolicy, err = esa.trackingPolicy(ctx, fmt.Sprintf("%s-sclpol-cpu", name),
			fmt.Sprintf("%s-cpu", serviceName), serviceResourceId,
			"ECSServiceAverageCPUUtilization", cpuThreshold, cooldown, args.DisableScaleIn, service)
		if err != nil {
			return false, err
		}

		esa.RamPolicy, err = esa.trackingPolicy(ctx, fmt.Sprintf("%s-sclpol-ram", name),
			fmt.Sprintf("%s-ram", serviceName), serviceResourceId,
			"ECSServiceAverageMemoryUtilization", ramThreshold, cooldown, args.DisableScaleIn, service)
		if err != nil {
			return false, err
		}

		err = esa.Finish(ctx, nil, tbpulumi.ResourceMap{
			"cpu_policy": esa.CpuPolicy,
			"ram_policy": esa.RamPolicy,
			"target":     esa.Target,
		})
		if err != nil {
			return false, err
		}
		return true, nil
	})

	return esa, nil
}

func (esa *EcsServiceAutoscaler) trackingPolicy(ctx *pulumi.Context, resourceName, policyName, serviceResourceId, metricType string, threshold, cooldown int, disableScaleIn bool, service *ecs.Service) (*appautoscaling.Policy, error) {
	return appautoscaling.NewPolicy(ctx, resourceName, &appautoscaling.PolicyArgs{
		Name:              pulumi.String(policyName),
		PolicyType:        pulumi.String("TargetTrackingScaling"),
		ResourceId:        pulumi.String(serviceResourceId),
		ScalableDimension: pulumi.String("ecs:service:DesiredCount"),
		ServiceNamespace:  pulumi.String("ecs"),
		TargetTrackingScalingPolicyConfiguration: &appautoscaling.PolicyTargetTrackingScalingPolicyConfigurationArgs{
			TargetValue:    pulumi.Float64(float64(threshold)),
			DisableScaleIn: pulumi.Bool(disableScaleIn),
			PredefinedMetricSpecification: &appautoscaling.PolicyTargetTrackingScalingPolicyConfigurationPredefinedMetricSpecificationArgs{
				PredefinedMetricType: pulumi.String(metricType),
			},
			ScaleInCooldown:  pulumi.Int(cooldown),
			ScaleOutCooldown: pulumi.Int(cooldown),
		},
	}, pulumi.Parent(esa), pulumi.DependsOn([]pulumi.Resource{service, esa.Target}))
}

func intOrDefault(value *int, fallback int) int {
	if value != nil {
		return *value
	}
	return fallback
}
