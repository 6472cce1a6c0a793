package cloudfront

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestCloudFrontS3Service(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		cfs, err := NewCloudFrontS3Service(ctx, "site", project, &CloudFrontS3ServiceArgs{
			CertificateArn:    "arn:aws:acm:us-east-1:123456789012:certificate/test",
			ServiceBucketName: "myapp-site",
			Aliases:           []string{"site.example.com"},
		})
		require.NoError(t, err)

		assert.NotNil(t, cfs.ServiceBucket)
		assert.NotNil(t, cfs.LoggingBucket)
		assert.NotNil(t, cfs.LoggingBucketAcl)
		assert.NotNil(t, cfs.OriginAccessControl)
		assert.NotNil(t, cfs.Distribution)
		assert.NotNil(t, cfs.ServiceBucketPolicy)
		assert.NotNil(t, cfs.InvalidationPolicy)

		rm, ok := project.Resources("site")
		require.True(t, ok)
		assert.Contains(t, rm, "cloudfront_distribution")
		assert.Contains(t, rm, "invalidation_policy")
		return nil
	})
}
