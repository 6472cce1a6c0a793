package fargate

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestFargateClusterWithLoggingRequiresSubnet(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		_, err := NewFargateClusterWithLogging(ctx, "app", project, &FargateClusterWithLoggingArgs{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires at least one subnet")
		return nil
	})
}
