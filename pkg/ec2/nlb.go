package ec2

import (
	"fmt"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/network"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// NetworkLoadBalancerArgs configures a NetworkLoadBalancer.
type NetworkLoadBalancerArgs struct {
	// ListenerPort is the frontend port the NLB listens on.
	ListenerPort int
	// Subnets to build the NLB in. The target group lands in the VPC of
	// the first subnet listed. All subnets must reside in the same VPC.
	Subnets []*awsec2.Subnet
	// TargetPort is the backend port on the load balanced targets.
	TargetPort int
	// IngressCidrs limits where traffic to the listener port may come
	// from. Defaults to everywhere.
	IngressCidrs []string
	// Internal keeps the NLB off the public Internet. When false, the
	// NLB gets a public IP to listen on.
	Internal bool
	// Ips are the IP addresses to balance traffic across.
	Ips []pulumi.StringInput
	// SecurityGroupDescription describes the NLB's security group.
	SecurityGroupDescription string
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// NetworkLoadBalancer builds an NLB balancing traffic across a set of IP
// addresses, connecting a frontend listening port to a backend port on
// the round-robin load balanced targets.
type NetworkLoadBalancer struct {
	tbpulumi.ComponentResource

	SecurityGroup          *network.SecurityGroupWithRules
	Nlb                    *lb.LoadBalancer
	TargetGroup            *lb.TargetGroup
	TargetGroupAttachments []*lb.TargetGroupAttachment
	Listener               *lb.Listener
}

// NewNetworkLoadBalancer registers the NLB and its members with the
// given project.
func NewNetworkLoadBalancer(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *NetworkLoadBalancerArgs, opts ...pulumi.ResourceOption) (*NetworkLoadBalancer, error) {
	if args == nil {
		args = &NetworkLoadBalancerArgs{}
	}
	if len(args.Subnets) == 0 {
		return nil, fmt.Errorf("an NLB for %s requires at least one subnet", name)
	}
	ingressCidrs := args.IngressCidrs
	if len(ingressCidrs) == 0 {
		ingressCidrs = []string{"0.0.0.0/0"}
	}

	nlb := &NetworkLoadBalancer{}
	err := tbpulumi.NewComponent(ctx, "tb:ec2:NetworkLoadBalancer", name, project, nlb,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	nlb.SecurityGroup, err = network.NewSecurityGroupWithRules(ctx, fmt.Sprintf("%s-sg", name), project,
		&network.SecurityGroupWithRulesArgs{
			Description: args.SecurityGroupDescription,
			VpcId:       args.Subnets[0].VpcId,
			Rules: network.SecurityGroupRules{
				Ingress: []network.SecurityGroupRule{{
					CidrBlocks:  ingressCidrs,
					Description: "Allow ingress",
					Protocol:    "tcp",
					FromPort:    args.ListenerPort,
					ToPort:      args.ListenerPort,
				}},
				Egress: []network.SecurityGroupRule{{
					CidrBlocks:  []string{"0.0.0.0/0"},
					Description: "Allow egress",
					Protocol:    "tcp",
					FromPort:    args.TargetPort,
					ToPort:      args.TargetPort,
				}},
			},
			Tags:               nlb.Tags,
			ExcludeFromProject: true,
		}, pulumi.Parent(nlb))
	if err != nil {
		return nil, err
	}

	subnetIds := pulumi.StringArray{}
	for _, subnet := range args.Subnets {
		subnetIds = append(subnetIds, subnet.ID())
	}

	nlb.Nlb, err = lb.NewLoadBalancer(ctx, fmt.Sprintf("%s-nlb", name), &lb.LoadBalancerArgs{
		EnableCrossZoneLoadBalancing: pulumi.Bool(true),
		Internal:                     pulumi.Bool(args.Internal),
		LoadBalancerType:             pulumi.String("network"),
		Name:                         pulumi.String(name),
		SecurityGroups:               pulumi.StringArray{nlb.SecurityGroup.Sg.ID()},
		Subnets:                      subnetIds,
		Tags:                         nlb.PulumiTags(),
	}, pulumi.Parent(nlb), pulumi.DependsOn([]pulumi.Resource{nlb.SecurityGroup.Sg}))
	if err != nil {
		return nil, fmt.Errorf("failed to build NLB %s: %w", name, err)
	}

	nlb.TargetGroup, err = lb.NewTargetGroup(ctx, fmt.Sprintf("%s-targetgroup", name), &lb.TargetGroupArgs{
		HealthCheck: &lb.TargetGroupHealthCheckArgs{
			Enabled:            pulumi.Bool(true),
			HealthyThreshold:   pulumi.Int(3),
			Interval:           pulumi.Int(20),
			Port:               pulumi.Sprintf("%d", args.TargetPort),
			Protocol:           pulumi.String("TCP"),
			Timeout:            pulumi.Int(10),
			UnhealthyThreshold: pulumi.Int(3),
		},
		LoadBalancingCrossZoneEnabled: pulumi.String("true"),
		Name:                          pulumi.String(name),
		Port:                          pulumi.Int(args.TargetPort),
		Protocol:                      pulumi.String("TCP"),
		TargetType:                    pulumi.String("ip"),
		VpcId:                         args.Subnets[0].VpcId,
		Tags:                          nlb.PulumiTags(),
	}, pulumi.Parent(nlb), pulumi.DependsOn([]pulumi.Resource{nlb.Nlb}))
	if err != nil {
		return nil, err
	}

	for idx, ip := range args.Ips {
		tga, err := lb.NewTargetGroupAttachment(ctx, fmt.Sprintf("%s-tga-%d", name, idx),
			&lb.TargetGroupAttachmentArgs{
				TargetGroupArn: nlb.TargetGroup.Arn,
				TargetId:       ip,
				Port:           pulumi.Int(args.TargetPort),
			}, pulumi.Parent(nlb), pulumi.DependsOn([]pulumi.Resource{nlb.TargetGroup}))
		if err != nil {
			return nil, err
		}
		nlb.TargetGroupAttachments = append(nlb.TargetGroupAttachments, tga)
	}

	nlb.Listener, err = lb.NewListener(ctx, fmt.Sprintf("%s-listener", name), &lb.ListenerArgs{
		DefaultActions: lb.ListenerDefaultActionArray{
			&lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: nlb.TargetGroup.Arn,
			},
		},
		LoadBalancerArn: nlb.Nlb.Arn,
		Port:            pulumi.Int(args.ListenerPort),
		Protocol:        pulumi.String("TCP"),
		Tags:            nlb.PulumiTags(),
	}, pulumi.Parent(nlb), pulumi.DependsOn([]pulumi.Resource{nlb.Nlb, nlb.TargetGroup}))
	if err != nil {
		return nil, err
	}

	err = nlb.Finish(ctx, nil, tbpulumi.ResourceMap{
		"security_group_with_rules": nlb.SecurityGroup,
		"nlb":                       nlb.Nlb,
		"target_group":              nlb.TargetGroup,
		"target_group_attachments":  nlb.TargetGroupAttachments,
		"listener":                  nlb.Listener,
	})
	if err != nil {
		return nil, err
	}
	return nlb, nil
}
