// Package fargate builds Fargate clusters whose tasks log to CloudWatch
// and, when requested, receive traffic through per-service ALBs.
package fargate

import (
	"fmt"
	"sort"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudwatch"
	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ecs"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/kms"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// FargateClusterWithLoggingArgs configures a FargateClusterWithLogging.
type FargateClusterWithLoggingArgs struct {
	// Subnets to run tasks in. At least one is required.
	Subnets []*awsec2.Subnet
	// AssignPublicIp gives containers public IPs, letting them talk out
	// to the net.
	AssignPublicIp bool
	// BuildLoadBalancer fronts the services with ALBs. Defaults to
	// true.
	BuildLoadBalancer *bool
	// ContainerSecurityGroups to apply to the tasks.
	ContainerSecurityGroups []pulumi.StringInput
	// DesiredCount is how many copies of the task to run. Defaults
	// to 1.
	DesiredCount int
	// EcrResources limits which ECR repositories tasks may pull from,
	// as ARNs as they would appear in an IAM policy. Defaults to all.
	EcrResources []string
	// EnableContainerInsights turns on CloudWatch Container Insights.
	EnableContainerInsights bool
	// HealthCheckGracePeriodSeconds delays health checks on fresh
	// tasks, preventing accidental failures during slow starts.
	HealthCheckGracePeriodSeconds int
	// Internal keeps the load balancers off the public Internet.
	// Defaults to true.
	Internal *bool
	// KeyDeletionWindowInDays is the waiting period before the log
	// encryption key is really deleted. Zero deletes immediately.
	// Defaults to 7.
	KeyDeletionWindowInDays *int
	// LoadBalancerSecurityGroups to apply to the ALBs.
	LoadBalancerSecurityGroups []pulumi.StringInput
	// Services maps service names to their load balancing details.
	Services map[string]ServiceSpec
	// TaskDefinition describes the tasks to run.
	TaskDefinition TaskDefinitionSpec
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// FargateClusterWithLogging builds a Fargate cluster running a variable
// number of tasks. Logs from these tasks are sent to CloudWatch,
// encrypted with a key built here.
type FargateClusterWithLogging struct {
	tbpulumi.ComponentResource

	Cluster           *ecs.Cluster
	LogGroup          *cloudwatch.LogGroup
	LogKey            *kms.Key
	FargateServiceAlb *FargateServiceAlb
	PolicyExec        *iam.Policy
	PolicyLogSending  *iam.Policy
	Service           *ecs.Service
	TaskRole          *iam.Role
	TaskDefinition    *ecs.TaskDefinition
}

// NewFargateClusterWithLogging registers the cluster and its members
// with the given project.
func NewFargateClusterWithLogging(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *FargateClusterWithLoggingArgs, opts ...pulumi.ResourceOption) (*FargateClusterWithLogging, error) {
	if args == nil {
		args = &FargateClusterWithLoggingArgs{}
	}
	if len(args.Subnets) < 1 {
		return nil, fmt.Errorf("a Fargate cluster for %s requires at least one subnet", name)
	}
	buildLoadBalancer := true
	if args.BuildLoadBalancer != nil {
		buildLoadBalancer = *args.BuildLoadBalancer
	}
	desiredCount := args.DesiredCount
	if desiredCount == 0 {
		desiredCount = 1
	}
	ecrResources := args.EcrResources
	if len(ecrResources) == 0 {
		ecrResources = []string{"*"}
	}
	internal := true
	if args.Internal != nil {
		internal = *args.Internal
	}
	keyDeletionWindow := 7
	if args.KeyDeletionWindowInDays != nil {
		keyDeletionWindow = *args.KeyDeletionWindowInDays
	}
	family := name

	fcwl := &FargateClusterWithLogging{}
	err := tbpulumi.NewComponent(ctx, "tb:fargate:FargateClusterWithLogging", name, project, fcwl,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	fcwl.LogKey, err = kms.NewKey(ctx, fmt.Sprintf("%s-logging", name), &kms.KeyArgs{
		Description:          pulumi.Sprintf("Key to encrypt logs for %s", name),
		DeletionWindowInDays: pulumi.Int(keyDeletionWindow),
		Tags:                 fcwl.TagsWith(map[string]string{"Name": fmt.Sprintf("%s-fargate-logs", name)}),
	}, pulumi.Parent(fcwl))
	if err != nil {
		return nil, err
	}

	fcwl.LogGroup, err = cloudwatch.NewLogGroup(ctx, fmt.Sprintf("%s-fargate-logs", name),
		&cloudwatch.LogGroupArgs{
			Name: pulumi.Sprintf("%s-fargate-logs", name),
			Tags: fcwl.PulumiTags(),
		}, pulumi.Parent(fcwl))
	if err != nil {
		return nil, err
	}

	logDoc := fcwl.LogGroup.Arn.ApplyT(func(arn string) (string, error) {
		doc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      "AllowECSLogSending",
			Effect:   "Allow",
			Action:   "logs:CreateLogGroup",
			Resource: arn,
		})
		return doc.JSON()
	}).(pulumi.StringOutput)
	fcwl.PolicyLogSending, err = iam.NewPolicy(ctx, fmt.Sprintf("%s-policy-logs", name), &iam.PolicyArgs{
		Name:        pulumi.Sprintf("%s-logging", name),
		Description: pulumi.String("Allows Fargate tasks to log to their log group"),
		Policy:      logDoc,
		Tags:        fcwl.PulumiTags(),
	}, pulumi.Parent(fcwl), pulumi.DependsOn([]pulumi.Resource{fcwl.LogGroup}))
	if err != nil {
		return nil, err
	}

	containerDoc, err := constants.IamPolicyDocument(
		constants.PolicyStatement{
			Sid:    "AllowSecretsAccess",
			Effect: "Allow",
			Action: "secretsmanager:GetSecretValue",
			Resource: fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s/%s/*",
				project.AwsRegion, project.AwsAccountID, project.Name, project.Stack),
		},
		constants.PolicyStatement{
			Sid:    "AllowECRAccess",
			Effect: "Allow",
			Action: []string{
				"ecr:BatchCheckLayerAvailability",
				"ecr:BatchGetImage",
				"ecr:DescribeImages",
				"ecr:GetDownloadUrlForLayer",
				"ecr:ListImages",
				"ecr:ListTagsForResource",
			},
			Resource: ecrResources,
		},
		constants.PolicyStatement{
			Sid:    "AllowParametersAccess",
			Effect: "Allow",
			Action: "ssm:GetParameters",
			Resource: fmt.Sprintf("arn:aws:ssm:%s:%s:parameter/%s/%s/*",
				project.AwsRegion, project.AwsAccountID, project.Name, project.Stack),
		},
	).JSON()
	if err != nil {
		return nil, err
	}
	fcwl.PolicyExec, err = iam.NewPolicy(ctx, fmt.Sprintf("%s-policy-exec", name), &iam.PolicyArgs{
		Name:        pulumi.Sprintf("%s-exec", name),
		Description: pulumi.Sprintf("Allows %s tasks access to resources they need to run", project.Name),
		Policy:      pulumi.String(containerDoc),
		Tags:        fcwl.PulumiTags(),
	}, pulumi.Parent(fcwl))
	if err != nil {
		return nil, err
	}

	arp, err := constants.AssumeRolePolicy("ecs-tasks.amazonaws.com").JSON()
	if err != nil {
		return nil, err
	}
	fcwl.TaskRole, err = iam.NewRole(ctx, fmt.Sprintf("%s-taskrole", name), &iam.RoleArgs{
		Name:             pulumi.String(name),
		Description:      pulumi.Sprintf("Task execution role for %s", project.NamePrefix),
		AssumeRolePolicy: pulumi.String(arp),
		ManagedPolicyArns: pulumi.StringArray{
			pulumi.String("arn:aws:iam::aws:policy/service-role/AmazonECSTaskExecutionRolePolicy"),
			fcwl.PolicyLogSending.Arn,
			fcwl.PolicyExec.Arn,
		},
		Tags: fcwl.PulumiTags(),
	}, pulumi.Parent(fcwl), pulumi.DependsOn([]pulumi.Resource{fcwl.PolicyExec, fcwl.PolicyLogSending}))
	if err != nil {
		return nil, err
	}

	insights := "disabled"
	if args.EnableContainerInsights {
		insights = "enabled"
	}
	fcwl.Cluster, err = ecs.NewCluster(ctx, fmt.Sprintf("%s-cluster", name), &ecs.ClusterArgs{
		Name: pulumi.String(name),
		Configuration: &ecs.ClusterConfigurationArgs{
			ExecuteCommandConfiguration: &ecs.ClusterConfigurationExecuteCommandConfigurationArgs{
				KmsKeyId: fcwl.LogKey.Arn,
				Logging:  pulumi.String("OVERRIDE"),
				LogConfiguration: &ecs.ClusterConfigurationExecuteCommandConfigurationLogConfigurationArgs{
					CloudWatchEncryptionEnabled: pulumi.Bool(true),
					CloudWatchLogGroupName:      fcwl.LogGroup.Name,
				},
			},
		},
		Settings: ecs.ClusterSettingArray{
			&ecs.ClusterSettingArgs{
				Name:  pulumi.String("containerInsights"),
				Value: pulumi.String(insights),
			},
		},
		Tags: fcwl.PulumiTags(),
	}, pulumi.Parent(fcwl), pulumi.DependsOn([]pulumi.Resource{fcwl.LogKey, fcwl.LogGroup}))
	if err != nil {
		return nil, fmt.Errorf("failed to build the cluster for %s: %w", name, err)
	}

	// The container definitions reference the log group by name, which
	// is only known once the group exists.
	containerDefs := pulumi.All(fcwl.LogGroup.Name).ApplyT(func(outs []any) (string, error) {
		return RenderContainerDefinitions(args.TaskDefinition.ContainerDefinitions,
			outs[0].(string), project.AwsRegion)
	}).(pulumi.StringOutput)

	taskDefArgs := &ecs.TaskDefinitionArgs{
		ContainerDefinitions: containerDefs,
		ExecutionRoleArn:     fcwl.TaskRole.Arn,
		Family:               pulumi.String(family),
		Tags:                 fcwl.PulumiTags(),
	}
	if args.TaskDefinition.Cpu != "" {
		taskDefArgs.Cpu = pulumi.String(args.TaskDefinition.Cpu)
	}
	if args.TaskDefinition.Memory != "" {
		taskDefArgs.Memory = pulumi.String(args.TaskDefinition.Memory)
	}
	if args.TaskDefinition.NetworkMode != "" {
		taskDefArgs.NetworkMode = pulumi.String(args.TaskDefinition.NetworkMode)
	}
	if len(args.TaskDefinition.RequiresCompatibilities) > 0 {
		taskDefArgs.RequiresCompatibilities = pulumi.ToStringArray(args.TaskDefinition.RequiresCompatibilities)
	}
	fcwl.TaskDefinition, err = ecs.NewTaskDefinition(ctx, fmt.Sprintf("%s-taskdef", family), taskDefArgs,
		pulumi.Parent(fcwl), pulumi.DependsOn([]pulumi.Resource{fcwl.LogGroup, fcwl.TaskRole}))
	if err != nil {
		return nil, err
	}

	serviceDeps := []pulumi.Resource{fcwl.Cluster, fcwl.TaskDefinition}
	var lbConfigs ecs.ServiceLoadBalancerArray
	if buildLoadBalancer {
		fcwl.FargateServiceAlb, err = NewFargateServiceAlb(ctx, fmt.Sprintf("%s-fargateservicealb", name),
			project, &FargateServiceAlbArgs{
				Subnets:            args.Subnets,
				Internal:           internal,
				SecurityGroups:     args.LoadBalancerSecurityGroups,
				Services:           args.Services,
				Tags:               fcwl.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(fcwl))
		if err != nil {
			return nil, err
		}
		serviceDeps = append(serviceDeps, fcwl.FargateServiceAlb)

		svcNames := make([]string, 0, len(args.Services))
		for svcName := range args.Services {
			svcNames = append(svcNames, svcName)
		}
		sort.Strings(svcNames)
		for _, svcName := range svcNames {
			svc := args.Services[svcName]
			lbConfigs = append(lbConfigs, &ecs.ServiceLoadBalancerArgs{
				TargetGroupArn: fcwl.FargateServiceAlb.TargetGroups[svcName].Arn,
				ContainerName:  pulumi.String(svc.ContainerName),
				ContainerPort:  pulumi.Int(svc.ContainerPort),
			})
		}
	}

	subnetIds := pulumi.StringArray{}
	for _, subnet := range args.Subnets {
		subnetIds = append(subnetIds, subnet.ID())
	}
	containerSgs := pulumi.StringArray{}
	for _, sg := range args.ContainerSecurityGroups {
		containerSgs = append(containerSgs, sg)
	}
	serviceArgs := &ecs.ServiceArgs{
		Name:         pulumi.String(name),
		Cluster:      fcwl.Cluster.Arn,
		DesiredCount: pulumi.Int(desiredCount),
		LaunchType:   pulumi.String("FARGATE"),
		NetworkConfiguration: &ecs.ServiceNetworkConfigurationArgs{
			Subnets:        subnetIds,
			AssignPublicIp: pulumi.Bool(args.AssignPublicIp),
			SecurityGroups: containerSgs,
		},
		TaskDefinition: fcwl.TaskDefinition.Arn,
		Tags:           fcwl.PulumiTags(),
	}
	if lbConfigs != nil {
		serviceArgs.LoadBalancers = lbConfigs
		if args.HealthCheckGracePeriodSeconds > 0 {
			serviceArgs.HealthCheckGracePeriodSeconds = pulumi.Int(args.HealthCheckGracePeriodSeconds)
		}
	}
	fcwl.Service, err = ecs.NewService(ctx, fmt.Sprintf("%s-service", name), serviceArgs,
		pulumi.Parent(fcwl), pulumi.DependsOn(serviceDeps))
	if err != nil {
		return nil, err
	}

	err = fcwl.Finish(ctx, nil, tbpulumi.ResourceMap{
		"cluster":             fcwl.Cluster,
		"log_group":           fcwl.LogGroup,
		"log_key":             fcwl.LogKey,
		"fargate_service_alb": fcwl.FargateServiceAlb,
		"policy_exec":         fcwl.PolicyExec,
		"policy_log_sending":  fcwl.PolicyLogSending,
		"service":             fcwl.Service,
		"task_role":           fcwl.TaskRole,
		"task_definition":     fcwl.TaskDefinition,
	})
	if err != nil {
		return nil, err
	}
	return fcwl, nil
}
