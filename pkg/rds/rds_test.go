package rds

import (
	"fmt"
	"testing"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func testSubnets(t *testing.T, ctx *pulumi.Context, vpc *awsec2.Vpc, count int) []*awsec2.Subnet {
	t.Helper()
	subnets := make([]*awsec2.Subnet, count)
	for i := range subnets {
		subnet, err := awsec2.NewSubnet(ctx, fmt.Sprintf("test-subnet-%d", i), &awsec2.SubnetArgs{
			VpcId:     vpc.ID(),
			CidrBlock: pulumi.Sprintf("10.0.%d.0/24", 100+i),
		})
		require.NoError(t, err)
		subnets[i] = subnet
	}
	return subnets
}

func TestRdsDatabaseGroup(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		vpc, err := awsec2.NewVpc(ctx, "test-vpc", &awsec2.VpcArgs{
			CidrBlock: pulumi.String("10.0.0.0/16"),
		})
		require.NoError(t, err)

		rdg, err := NewRdsDatabaseGroup(ctx, "myapp-stage-db", project, &DatabaseGroupArgs{
			DbName:       "webdb",
			Subnets:      testSubnets(t, ctx, vpc, 2),
			VpcCidr:      "10.0.0.0/16",
			VpcId:        vpc.ID(),
			NumInstances: 3,
		})
		require.NoError(t, err)

		// One primary plus two read replicas.
		assert.Len(t, rdg.Instances, 3)
		assert.Nil(t, rdg.Jumphost)

		rm, ok := project.Resources("myapp-stage-db")
		require.True(t, ok)
		assert.Contains(t, rm, "instances")
		return nil
	})
}

func TestRdsDatabaseGroupUnknownEngine(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		vpc, err := awsec2.NewVpc(ctx, "test-vpc", &awsec2.VpcArgs{
			CidrBlock: pulumi.String("10.0.0.0/16"),
		})
		require.NoError(t, err)

		_, err = NewRdsDatabaseGroup(ctx, "myapp-stage-db", project, &DatabaseGroupArgs{
			Subnets: testSubnets(t, ctx, vpc, 1),
			VpcCidr: "10.0.0.0/16",
			VpcId:   vpc.ID(),
			Engine:  "oracle",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot determine the correct port")
		return nil
	})
}

func TestRdsDatabaseGroupRequiresSubnet(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		_, err := NewRdsDatabaseGroup(ctx, "myapp-stage-db", project, &DatabaseGroupArgs{
			BuildJumphost: true,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least one subnet")
		return nil
	})
}
