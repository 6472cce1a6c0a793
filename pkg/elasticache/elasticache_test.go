package elasticache

import (
	"testing"

	awsec2 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestElastiCacheReplicationGroup(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		vpc, err := awsec2.NewVpc(ctx, "test-vpc", &awsec2.VpcArgs{
			CidrBlock: pulumi.String("10.0.0.0/16"),
		})
		require.NoError(t, err)
		subnet, err := awsec2.NewSubnet(ctx, "test-subnet", &awsec2.SubnetArgs{
			VpcId:     vpc.ID(),
			CidrBlock: pulumi.String("10.0.100.0/24"),
		})
		require.NoError(t, err)

		ecrg, err := NewElastiCacheReplicationGroup(ctx, "myapp-stage-cache", project, &ReplicationGroupArgs{
			Subnets:     []*awsec2.Subnet{subnet},
			SourceCidrs: []string{"10.0.0.0/16"},
		})
		require.NoError(t, err)

		require.NotNil(t, ecrg.ReplicationGroup)
		require.NotNil(t, ecrg.ParameterGroup)
		require.NotNil(t, ecrg.SecurityGroup)
		require.NotNil(t, ecrg.SubnetGroup)

		rm, ok := project.Resources("myapp-stage-cache")
		require.True(t, ok)
		assert.Contains(t, rm, "replication_group")
		return nil
	})
}

func TestElastiCacheReplicationGroupRequiresSubnet(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		_, err := NewElastiCacheReplicationGroup(ctx, "myapp-stage-cache", project, &ReplicationGroupArgs{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least one subnet")
		return nil
	})
}
