package network

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// SecurityGroupRule describes one ingress or egress rule.
type SecurityGroupRule struct {
	CidrBlocks  []string
	Description string
	Protocol    string
	FromPort    int
	ToPort      int
	// SourceSecurityGroupId grants access to another security group
	// instead of a CIDR range.
	SourceSecurityGroupId pulumi.StringPtrInput
	// TargetSelf grants the security group access to itself.
	TargetSelf bool
}

// SecurityGroupRules groups rules by direction of traffic.
type SecurityGroupRules struct {
	Ingress []SecurityGroupRule
	Egress  []SecurityGroupRule
}

// SecurityGroupWithRulesArgs configures a SecurityGroupWithRules.
type SecurityGroupWithRulesArgs struct {
	// Description of the security group.
	Description string
	// Rules to apply to the group.
	Rules SecurityGroupRules
	// VpcId of the VPC this security group belongs to. When not set,
	// the region's default VPC is used.
	VpcId pulumi.StringPtrInput
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// SecurityGroupWithRules builds a security group and sets rules for it.
// Rules are deleted before replacement so updates never leave a rule
// half-applied.
type SecurityGroupWithRules struct {
	tbpulumi.ComponentResource

	Sg           *ec2.SecurityGroup
	IngressRules []*ec2.SecurityGroupRule
	EgressRules  []*ec2.SecurityGroupRule
}

// NewSecurityGroupWithRules registers a security group and its rules
// with the given project.
func NewSecurityGroupWithRules(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *SecurityGroupWithRulesArgs, opts ...pulumi.ResourceOption) (*SecurityGroupWithRules, error) {
	if args == nil {
		args = &SecurityGroupWithRulesArgs{}
	}

	sgr := &SecurityGroupWithRules{}
	err := tbpulumi.NewComponent(ctx, "tb:network:SecurityGroupWithRules", name, project, sgr,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	sgArgs := &ec2.SecurityGroupArgs{
		Name:  pulumi.String(name),
		VpcId: args.VpcId,
		Tags:  sgr.PulumiTags(),
	}
	if args.Description != "" {
		sgArgs.Description = pulumi.String(args.Description)
	}
	sgr.Sg, err = ec2.NewSecurityGroup(ctx, fmt.Sprintf("%s-sg", name), sgArgs, pulumi.Parent(sgr))
	if err != nil {
		return nil, fmt.Errorf("failed to build security group %s: %w", name, err)
	}

	buildRules := func(direction string, rules []SecurityGroupRule) ([]*ec2.SecurityGroupRule, error) {
		var built []*ec2.SecurityGroupRule
		for idx, rule := range rules {
			ruleArgs := &ec2.SecurityGroupRuleArgs{
				Type:            pulumi.String(direction),
				SecurityGroupId: sgr.Sg.ID(),
				Protocol:        pulumi.String(rule.Protocol),
				FromPort:        pulumi.Int(rule.FromPort),
				ToPort:          pulumi.Int(rule.ToPort),
			}
			if len(rule.CidrBlocks) > 0 {
				ruleArgs.CidrBlocks = pulumi.ToStringArray(rule.CidrBlocks)
			}
			if rule.Description != "" {
				ruleArgs.Description = pulumi.String(rule.Description)
			}
			if rule.SourceSecurityGroupId != nil {
				ruleArgs.SourceSecurityGroupId = rule.SourceSecurityGroupId
			}
			if rule.TargetSelf {
				ruleArgs.Self = pulumi.Bool(true)
			}
			r, err := ec2.NewSecurityGroupRule(ctx, fmt.Sprintf("%s-%s-%d", name, direction, idx), ruleArgs,
				pulumi.Parent(sgr), pulumi.DependsOn([]pulumi.Resource{sgr.Sg}), pulumi.DeleteBeforeReplace(true))
			if err != nil {
				return nil, err
			}
			built = append(built, r)
		}
		return built, nil
	}

	if sgr.IngressRules, err = buildRules("ingress", args.Rules.Ingress); err != nil {
		return nil, err
	}
	if sgr.EgressRules, err = buildRules("egress", args.Rules.Egress); err != nil {
		return nil, err
	}

	err = sgr.Finish(ctx, nil, tbpulumi.ResourceMap{
		"egress_rules":  sgr.EgressRules,
		"ingress_rules": sgr.IngressRules,
		"sg":            sgr.Sg,
	})
	if err != nil {
		return nil, err
	}
	return sgr, nil
}
