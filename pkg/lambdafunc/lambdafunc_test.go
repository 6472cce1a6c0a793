package lambdafunc

import (
	"testing"

	awslambda "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestRateInvokedLambdaFunction(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		rlf, err := NewRateInvokedLambdaFunction(ctx, "cleanup", project, &RateInvokedLambdaFunctionArgs{
			Rate: "5 minutes",
			Function: &LambdaFunctionArgs{
				Function: &awslambda.FunctionArgs{
					Handler: pulumi.String("main.handler"),
					Runtime: pulumi.String("python3.12"),
				},
			},
		})
		require.NoError(t, err)

		require.NotNil(t, rlf.Lambda)
		assert.NotNil(t, rlf.Lambda.Function)
		assert.NotNil(t, rlf.Lambda.Role)
		assert.NotNil(t, rlf.Policy)
		assert.NotNil(t, rlf.Role)
		assert.NotNil(t, rlf.Schedule)

		rm, ok := project.Resources("cleanup")
		require.True(t, ok)
		assert.Contains(t, rm, "schedule")
		// The nested function registers only through its parent group.
		_, ok = project.Resources("cleanup-function")
		assert.False(t, ok)
		return nil
	})
}

func TestRateInvokedLambdaFunctionRequiresRate(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		_, err := NewRateInvokedLambdaFunction(ctx, "cleanup", project, &RateInvokedLambdaFunctionArgs{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invocation rate is required")
		return nil
	})
}
