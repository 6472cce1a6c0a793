package cloudwatch

import (
	"testing"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

type balancerGroup struct {
	tbpulumi.ComponentResource
}

// Dispatch for load balancers waits on the resolved balancer type, so
// the assertions run after the mocked engine settles every output.
func TestCloudWatchMonitoringDispatch(t *testing.T) {
	var cwm *CloudWatchMonitoring
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		group := &balancerGroup{}
		err := tbpulumi.NewComponent(ctx, "tb:test:BalancerGroup", "balancers", project, group, nil)
		if err != nil {
			return err
		}
		alb, err := lb.NewLoadBalancer(ctx, "myapp-stage-alb", &lb.LoadBalancerArgs{
			LoadBalancerType: pulumi.String("application"),
		}, pulumi.Parent(group))
		if err != nil {
			return err
		}
		nlb, err := lb.NewLoadBalancer(ctx, "myapp-stage-nlb", &lb.LoadBalancerArgs{
			LoadBalancerType: pulumi.String("network"),
		}, pulumi.Parent(group))
		if err != nil {
			return err
		}
		err = group.Finish(ctx, nil, tbpulumi.ResourceMap{"alb": alb, "nlb": nlb})
		if err != nil {
			return err
		}

		cwm, err = NewCloudWatchMonitoring(ctx, "monitoring", project, nil)
		return err
	}, pulumi.WithMocks("myapp", "stage", tbtesting.Mocks{}))
	require.NoError(t, err)

	require.NotNil(t, cwm.SnsTopic)
	group, ok := cwm.AlarmGroups["myapp-stage-alb"]
	require.True(t, ok, "application balancers get an alarm group")
	albGroup, ok := group.(*AlbAlarmGroup)
	require.True(t, ok)
	assert.NotNil(t, albGroup.FiveXX)
	assert.NotNil(t, albGroup.TargetResponseTime)
	_, ok = cwm.AlarmGroups["myapp-stage-nlb"]
	assert.False(t, ok, "network balancers have no alarmable metrics")
}
