package security

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestGuardDutyAccount(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		gda, err := NewGuardDutyAccount(ctx, "guardduty", project, &GuardDutyAccountArgs{
			Features: []DetectorFeatureSpec{
				{Name: "RUNTIME_MONITORING", Status: "ENABLED"},
			},
		})
		require.NoError(t, err)

		require.NotNil(t, gda.Detector)
		assert.Contains(t, gda.Features, "RUNTIME_MONITORING")

		rm, ok := project.Resources("guardduty")
		require.True(t, ok)
		assert.Contains(t, rm, "guardduty_detector")
		assert.Contains(t, rm, "enabled_features")
		return nil
	})
}

func TestConfigAccount(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		ca, err := NewConfigAccount(ctx, "config", project, nil)
		require.NoError(t, err)

		assert.NotNil(t, ca.DeliveryBucket)
		assert.NotNil(t, ca.DeliveryBucketPolicy)
		assert.NotNil(t, ca.Recorder)
		assert.NotNil(t, ca.RecorderStatus)
		assert.NotNil(t, ca.DeliveryChannel)

		rm, ok := project.Resources("config")
		require.True(t, ok)
		assert.Contains(t, rm, "recorder")
		return nil
	})
}
