package fargate

import (
	"fmt"
	"sort"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// ServiceSpec describes one load balanced service. The key it is stored
// under must match the name of the service as described in a container
// definition; ContainerName names the container receiving the traffic.
type ServiceSpec struct {
	// ContainerPort is the port the container listens on.
	ContainerPort int
	// ContainerName names the container receiving this traffic.
	ContainerName string
	// ListenerCertArn is the ACM certificate for an HTTPS listener.
	ListenerCertArn string
	// ListenerPort defaults to ContainerPort.
	ListenerPort int
	// ListenerProto defaults to HTTP.
	ListenerProto string
	// SslPolicy overrides the SSL negotiation policy of an HTTPS
	// listener.
	SslPolicy string
	// Name is an arbitrary name for the ALB. It must be unique and no
	// longer than 32 characters.
	Name string
	// HealthCheck overrides the target group's health check.
	HealthCheck *lb.TargetGroupHealthCheckArgs
}

// FargateServiceAlbArgs configures a FargateServiceAlb.
type FargateServiceAlbArgs struct {
	// Subnets to build the ALBs in.
	Subnets []*awsec2.Subnet
	// Internal keeps the ALBs off the public Internet.
	Internal bool
	// SecurityGroups to attach to the ALBs.
	SecurityGroups []pulumi.StringInput
	// Services maps service names to their load balancing details.
	Services map[string]ServiceSpec
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// FargateServiceAlb builds an ALB with all of its constituent components
// to serve traffic for a set of ECS services. ECS does not allow reuse
// of a single ALB with multiple listeners, so multiple services get
// multiple ALBs. Fargate services manage their own targets, so no target
// group attachments are tracked here.
type FargateServiceAlb struct {
	tbpulumi.ComponentResource

	Albs         map[string]*lb.LoadBalancer
	Listeners    map[string]*lb.Listener
	TargetGroups map[string]*lb.TargetGroup
}

// NewFargateServiceAlb registers the per-service ALBs, listeners, and
// target groups with the given project.
func NewFargateServiceAlb(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *FargateServiceAlbArgs, opts ...pulumi.ResourceOption) (*FargateServiceAlb, error) {
	if args == nil {
		args = &FargateServiceAlbArgs{}
	}

	fsalb := &FargateServiceAlb{
		Albs:         map[string]*lb.LoadBalancer{},
		Listeners:    map[string]*lb.Listener{},
		TargetGroups: map[string]*lb.TargetGroup{},
	}
	err := tbpulumi.NewComponent(ctx, "tb:fargate:FargateServiceAlb", name, project, fsalb,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	subnetIds := pulumi.StringArray{}
	subnetDeps := make([]pulumi.Resource, 0, len(args.Subnets))
	for _, subnet := range args.Subnets {
		subnetIds = append(subnetIds, subnet.ID())
		subnetDeps = append(subnetDeps, subnet)
	}
	securityGroups := pulumi.StringArray{}
	for _, sg := range args.SecurityGroups {
		securityGroups = append(securityGroups, sg)
	}

	svcNames := make([]string, 0, len(args.Services))
	for svcName := range args.Services {
		svcNames = append(svcNames, svcName)
	}
	sort.Strings(svcNames)

	for _, svcName := range svcNames {
		svc := args.Services[svcName]
		listenerProto := svc.ListenerProto
		if listenerProto == "" {
			listenerProto = "HTTP"
		}
		listenerPort := svc.ListenerPort
		if listenerPort == 0 {
			listenerPort = svc.ContainerPort
		}
		sslPolicy := svc.SslPolicy
		if sslPolicy == "" && listenerProto == "HTTPS" {
			sslPolicy = constants.DefaultAwsSslPolicy
		}
		svcTags := fsalb.TagsWith(map[string]string{"service": svcName})

		alb, err := lb.NewLoadBalancer(ctx, fmt.Sprintf("%s-alb-%s", name, svcName), &lb.LoadBalancerArgs{
			Name:             pulumi.String(svc.Name),
			Internal:         pulumi.Bool(args.Internal),
			LoadBalancerType: pulumi.String("application"),
			SecurityGroups:   securityGroups,
			Subnets:          subnetIds,
			Tags:             fsalb.PulumiTags(),
		}, pulumi.Parent(fsalb), pulumi.DependsOn(subnetDeps))
		if err != nil {
			return nil, fmt.Errorf("failed to build an ALB for service %s: %w", svcName, err)
		}
		fsalb.Albs[svcName] = alb

		tgArgs := &lb.TargetGroupArgs{
			Name:          pulumi.String(svc.Name),
			Port:          pulumi.Int(svc.ContainerPort),
			Protocol:      pulumi.String("HTTP"),
			VpcId:         args.Subnets[0].VpcId,
			TargetType:    pulumi.String("ip"),
			IpAddressType: pulumi.String("ipv4"),
			Tags:          svcTags,
		}
		if svc.HealthCheck != nil {
			tgArgs.HealthCheck = svc.HealthCheck
		}
		tg, err := lb.NewTargetGroup(ctx, fmt.Sprintf("%s-targetgroup-%s", name, svcName), tgArgs,
			pulumi.Parent(fsalb), pulumi.DependsOn([]pulumi.Resource{args.Subnets[0]}))
		if err != nil {
			return nil, err
		}
		fsalb.TargetGroups[svcName] = tg

		listenerArgs := &lb.ListenerArgs{
			DefaultActions: lb.ListenerDefaultActionArray{
				&lb.ListenerDefaultActionArgs{
					Type:           pulumi.String("forward"),
					TargetGroupArn: tg.Arn,
				},
			},
			LoadBalancerArn: alb.Arn,
			Port:            pulumi.Int(listenerPort),
			Protocol:        pulumi.String(listenerProto),
			Tags:            svcTags,
		}
		if svc.ListenerCertArn != "" {
			listenerArgs.CertificateArn = pulumi.String(svc.ListenerCertArn)
		}
		if sslPolicy != "" {
			listenerArgs.SslPolicy = pulumi.String(sslPolicy)
		}
		listener, err := lb.NewListener(ctx, fmt.Sprintf("%s-listener-%s", name, svcName), listenerArgs,
			pulumi.Parent(fsalb), pulumi.DependsOn([]pulumi.Resource{alb}))
		if err != nil {
			return nil, err
		}
		fsalb.Listeners[svcName] = listener
	}

	err = fsalb.Finish(ctx, nil, tbpulumi.ResourceMap{
		"albs":          fsalb.Albs,
		"listeners":     fsalb.Listeners,
		"target_groups": fsalb.TargetGroups,
	})
	if err != nil {
		return nil, err
	}
	return fsalb, nil
}
