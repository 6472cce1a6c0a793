package tbpulumi_test

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

type testGroup struct {
	tbpulumi.ComponentResource
}

func TestNewComponentRegistersEmbeddedState(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		group := &testGroup{}
		err := tbpulumi.NewComponent(ctx, "tb:test:TestGroup", "grp", project, group,
			&tbpulumi.ComponentArgs{Tags: map[string]string{"team": "services"}})
		require.NoError(t, err)
		assert.Equal(t, "services", group.Tags["team"])
		assert.Equal(t, project.Name, group.Tags["project"])

		// Parenting a nested group exercises the promoted URN.
		child := &testGroup{}
		err = tbpulumi.NewComponent(ctx, "tb:test:TestGroup", "grp-child", project, child,
			&tbpulumi.ComponentArgs{ExcludeFromProject: true}, pulumi.Parent(group))
		require.NoError(t, err)

		require.NoError(t, child.Finish(ctx, nil, tbpulumi.ResourceMap{}))
		require.NoError(t, group.Finish(ctx, nil, tbpulumi.ResourceMap{"child": child}))

		resources, ok := project.Resources("grp")
		require.True(t, ok)
		assert.Contains(t, resources, "child")
		_, ok = project.Resources("grp-child")
		assert.False(t, ok)
		return nil
	})
}
