package ci

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestAwsAutomationUser(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		au, err := NewAwsAutomationUser(ctx, "ci", project, &AwsAutomationUserArgs{
			EnableEcrImagePush: true,
			EcrRepositories:    []string{"myapp"},
		})
		require.NoError(t, err)

		require.NotNil(t, au.User)
		require.NotNil(t, au.AccessKey)
		require.NotNil(t, au.Secret)
		assert.NotNil(t, au.EcrImagePushPolicy)
		assert.Nil(t, au.S3UploadPolicy)
		assert.Nil(t, au.S3FullAccessPolicy)
		assert.Nil(t, au.FargateDeploymentPolicy)

		resources, ok := project.Resources("ci")
		require.True(t, ok)
		assert.Contains(t, resources, "user")
		assert.Contains(t, resources, "ecr_image_push_policy")
		assert.NotContains(t, resources, "s3_upload_policy")
		return nil
	})
}

func TestAwsAutomationUserInactiveStack(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		// The mocked stack is "stage"; pinning the resources to prod
		// means this run builds nothing.
		au, err := NewAwsAutomationUser(ctx, "ci", project, &AwsAutomationUserArgs{
			ActiveStack: "prod",
		})
		require.NoError(t, err)

		assert.Nil(t, au.User)
		assert.Nil(t, au.AccessKey)
		assert.Nil(t, au.Secret)
		resources, ok := project.Resources("ci")
		require.True(t, ok)
		assert.Empty(t, resources)
		return nil
	})
}
