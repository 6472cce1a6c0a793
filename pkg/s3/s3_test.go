package s3

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi/tbtesting"
)

func TestS3Bucket(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)

		b, err := NewS3Bucket(ctx, "content", project, &S3BucketArgs{
			BucketName:       "myapp-content",
			EnableVersioning: true,
		})
		require.NoError(t, err)

		assert.NotNil(t, b.Bucket)
		assert.NotNil(t, b.EncryptionConfig)
		assert.NotNil(t, b.VersioningConfig)
		assert.Empty(t, b.Objects)

		rm, ok := project.Resources("content")
		require.True(t, ok)
		assert.Contains(t, rm, "bucket")
		return nil
	})
}

// Object uploads read through the project filesystem, so a bucket
// built against an in-memory backing picks up its files.
func TestS3BucketObjectDir(t *testing.T) {
	tbtesting.Run(t, func(ctx *pulumi.Context) error {
		project := tbtesting.NewProject(t, ctx)
		fs := project.Fs()
		require.NoError(t, fs.MkdirAll("site/css", 0o755))
		require.NoError(t, afero.WriteFile(fs, "site/index.html", []byte("<html></html>"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "site/css/main.css", []byte("body {}"), 0o644))

		b, err := NewS3Bucket(ctx, "content", project, &S3BucketArgs{
			BucketName: "myapp-content",
			ObjectDir:  "site",
		})
		require.NoError(t, err)

		assert.Len(t, b.Objects, 2)
		assert.Contains(t, b.Objects, "site/index.html")
		assert.Contains(t, b.Objects, "site/css/main.css")
		return nil
	})
}
