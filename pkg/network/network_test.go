package network

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestMultiCidrVpc(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		mcv, err := NewMultiCidrVpc(ctx, "myapp-stage-vpc", project, &MultiCidrVpcArgs{
			CidrBlock: "10.0.0.0/16",
			Subnets: map[string][]string{
				"us-east-1a": {"10.0.100.0/24", "10.0.101.0/24"},
				"us-east-1b": {"10.0.102.0/24"},
			},
			EnableInternetGateway:    true,
			EgressViaInternetGateway: true,
		})
		require.NoError(t, err)

		assert.Len(t, mcv.Subnets, 3)
		assert.Len(t, mcv.RouteTableSubnetAssociations, 3)
		assert.NotNil(t, mcv.InternetGateway)
		assert.NotNil(t, mcv.SubnetIgRoute)
		assert.Nil(t, mcv.NatGateway)
		assert.Nil(t, mcv.EndpointSg)

		rm, ok := project.Resources("myapp-stage-vpc")
		require.True(t, ok)
		assert.Contains(t, rm, "vpc")
		assert.Contains(t, rm, "subnets")
		return nil
	})
}

func TestMultiCidrVpcNatRequiresSubnet(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		_, err := NewMultiCidrVpc(ctx, "myapp-stage-vpc", project, &MultiCidrVpcArgs{
			EnableNatGateway: true,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least one subnet")
		return nil
	})
}

func TestMultiCidrVpcEndpoints(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		mcv, err := NewMultiCidrVpc(ctx, "myapp-stage-vpc", project, &MultiCidrVpcArgs{
			Subnets: map[string][]string{
				"us-east-1a": {"10.0.100.0/24"},
			},
			EndpointInterfaces: []string{"secretsmanager", "ecr.api"},
			EndpointGateways:   []string{"s3"},
		})
		require.NoError(t, err)

		assert.Len(t, mcv.Interfaces, 2)
		assert.Len(t, mcv.Gateways, 1)
		require.NotNil(t, mcv.EndpointSg)
		assert.Len(t, mcv.EndpointSg.IngressRules, 1)
		assert.Len(t, mcv.EndpointSg.EgressRules, 1)

		// The endpoint security group belongs to the VPC group, not the
		// project registry.
		_, ok := project.Resources("myapp-stage-vpc-endpoint-sg")
		assert.False(t, ok)
		return nil
	})
}

func TestSecurityGroupWithRules(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		sgr, err := NewSecurityGroupWithRules(ctx, "myapp-stage-sg", project, &SecurityGroupWithRulesArgs{
			Description: "Web traffic",
			Rules: SecurityGroupRules{
				Ingress: []SecurityGroupRule{
					{CidrBlocks: []string{"0.0.0.0/0"}, Protocol: "TCP", FromPort: 443, ToPort: 443},
					{TargetSelf: true, Protocol: "TCP", FromPort: 0, ToPort: 65535},
				},
				Egress: []SecurityGroupRule{
					{CidrBlocks: []string{"0.0.0.0/0"}, Protocol: "TCP", FromPort: 0, ToPort: 65535},
				},
			},
		})
		require.NoError(t, err)

		assert.Len(t, sgr.IngressRules, 2)
		assert.Len(t, sgr.EgressRules, 1)
		assert.NotNil(t, sgr.Sg)

		rm, ok := project.Resources("myapp-stage-sg")
		require.True(t, ok)
		assert.Contains(t, rm, "sg")
		assert.Contains(t, rm, "ingress_rules")
		assert.Contains(t, rm, "egress_rules")
		return nil
	})
}

func TestSecurityGroupTagsCallerWins(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		sgr, err := NewSecurityGroupWithRules(ctx, "myapp-stage-sg", project, &SecurityGroupWithRulesArgs{
			Tags: map[string]string{
				"environment": "override",
				"team":        "services",
			},
		})
		require.NoError(t, err)

		// Group tags are the project tags with caller values winning.
		assert.Equal(t, "override", sgr.Tags["environment"])
		assert.Equal(t, "services", sgr.Tags["team"])
		assert.Equal(t, project.Name, sgr.Tags["project"])
		return nil
	})
}
