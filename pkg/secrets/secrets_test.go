package secrets

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestSecretsManagerSecret(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		sms, err := NewSecretsManagerSecret(ctx, "myapp-stage-dbpass", project, &SecretsManagerSecretArgs{
			SecretName:  project.SecretPath("db", "password"),
			SecretValue: pulumi.String("hunter2"),
		})
		require.NoError(t, err)

		require.NotNil(t, sms.Secret)
		require.NotNil(t, sms.Version)

		sms.Secret.Name.ApplyT(func(name string) error {
			assert.Equal(t, "myapp/stage/db/password", name)
			return nil
		})

		rm, ok := project.Resources("myapp-stage-dbpass")
		require.True(t, ok)
		assert.Contains(t, rm, "secret")
		assert.Contains(t, rm, "version")
		return nil
	})
}

func TestSecretsManagerSecretExcluded(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		_, err := NewSecretsManagerSecret(ctx, "myapp-stage-nested", project, &SecretsManagerSecretArgs{
			SecretName:         project.SecretPath("nested"),
			SecretValue:        pulumi.String("value"),
			ExcludeFromProject: true,
		})
		require.NoError(t, err)

		_, ok := project.Resources("myapp-stage-nested")
		assert.False(t, ok)
		return nil
	})
}
