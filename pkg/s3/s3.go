// Package s3 builds S3 buckets with optional encryption, versioning,
// bulk object uploads, and public static websites.
package s3

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	awss3 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/spf13/afero"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// S3BucketArgs configures an S3Bucket.
type S3BucketArgs struct {
	// BucketName is the name of the bucket in AWS.
	BucketName string
	// EnableServerSideEncryption encrypts objects at rest. Defaults to
	// true.
	EnableServerSideEncryption *bool
	// EnableVersioning retains old versions of overwritten objects.
	EnableVersioning bool
	// ObjectDir uploads every file under a local directory into the
	// bucket. Never point this at files containing sensitive data when
	// the bucket is publicly accessible.
	ObjectDir string
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// S3Bucket builds an S3 bucket with various optional configurations.
type S3Bucket struct {
	tbpulumi.ComponentResource

	Bucket           *awss3.BucketV2
	EncryptionConfig *awss3.BucketServerSideEncryptionConfigurationV2
	VersioningConfig *awss3.BucketVersioningV2
	Objects          map[string]*awss3.BucketObjectv2
}

// NewS3Bucket registers the bucket and its members with the given
// project.
func NewS3Bucket(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *S3BucketArgs, opts ...pulumi.ResourceOption) (*S3Bucket, error) {
	if args == nil {
		args = &S3BucketArgs{}
	}
	encrypt := true
	if args.EnableServerSideEncryption != nil {
		encrypt = *args.EnableServerSideEncryption
	}

	b := &S3Bucket{Objects: map[string]*awss3.BucketObjectv2{}}
	err := tbpulumi.NewComponent(ctx, "tb:s3:S3Bucket", name, project, b,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	b.Bucket, err = awss3.NewBucketV2(ctx, fmt.Sprintf("%s-s3", name), &awss3.BucketV2Args{
		Bucket: pulumi.String(args.BucketName),
		Tags:   b.PulumiTags(),
	}, pulumi.Parent(b))
	if err != nil {
		return nil, fmt.Errorf("failed to build bucket %s: %w", args.BucketName, err)
	}

	if encrypt {
		b.EncryptionConfig, err = awss3.NewBucketServerSideEncryptionConfigurationV2(ctx,
			fmt.Sprintf("%s-s3encryption", name),
			&awss3.BucketServerSideEncryptionConfigurationV2Args{
				Bucket: b.Bucket.ID(),
				Rules: awss3.BucketServerSideEncryptionConfigurationV2RuleArray{
					&awss3.BucketServerSideEncryptionConfigurationV2RuleArgs{
						ApplyServerSideEncryptionByDefault: &awss3.BucketServerSideEncryptionConfigurationV2RuleApplyServerSideEncryptionByDefaultArgs{
							SseAlgorithm: pulumi.String("AES256"),
						},
					},
				},
			}, pulumi.Parent(b), pulumi.DependsOn([]pulumi.Resource{b.Bucket}))
		if err != nil {
			return nil, err
		}
	}

	if args.EnableVersioning {
		b.VersioningConfig, err = awss3.NewBucketVersioningV2(ctx, fmt.Sprintf("%s-s3versioning", name),
			&awss3.BucketVersioningV2Args{
				Bucket: b.Bucket.ID(),
				VersioningConfiguration: &awss3.BucketVersioningV2VersioningConfigurationArgs{
					Status: pulumi.String("Enabled"),
				},
			}, pulumi.Parent(b), pulumi.DependsOn([]pulumi.Resource{b.Bucket}))
		if err != nil {
			return nil, err
		}
	}

	if args.ObjectDir != "" {
		err = afero.Walk(project.Fs(), args.ObjectDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			contentType := mime.TypeByExtension(filepath.Ext(path))
			if contentType == "" {
				contentType = "text/plain"
			}
			// Content goes through the project filesystem so uploads
			// work against any backing it carries.
			content, err := afero.ReadFile(project.Fs(), path)
			if err != nil {
				return err
			}
			resName := strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(path)
			object, err := awss3.NewBucketObjectv2(ctx, fmt.Sprintf("%s-object-%s", name, resName),
				&awss3.BucketObjectv2Args{
					Bucket:      pulumi.String(args.BucketName),
					ContentType: pulumi.String(contentType),
					Key:         pulumi.String(strings.TrimPrefix(path, args.ObjectDir)),
					Source:      pulumi.NewStringAsset(string(content)),
					Tags:        b.PulumiTags(),
				}, pulumi.Parent(b), pulumi.DependsOn([]pulumi.Resource{b.Bucket}))
			if err != nil {
				return err
			}
			b.Objects[path] = object
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload objects from %s: %w", args.ObjectDir, err)
		}
	}

	err = b.Finish(ctx, nil, tbpulumi.ResourceMap{
		"bucket":            b.Bucket,
		"encryption_config": b.EncryptionConfig,
		"s3_objects":        b.Objects,
		"versioning_config": b.VersioningConfig,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// WebsiteConfig defines the operating parameters of a static website.
type WebsiteConfig struct {
	// IndexDocumentSuffix is served when a directory is requested,
	// conventionally index.html.
	IndexDocumentSuffix string
	// ErrorDocumentKey is served when a request fails.
	ErrorDocumentKey string
}

// S3BucketWebsiteArgs configures an S3BucketWebsite.
type S3BucketWebsiteArgs struct {
	// BucketName is the name of the bucket in AWS.
	BucketName string
	// ContentDir uploads every file under a local directory into the
	// bucket as the website's content.
	ContentDir string
	// WebsiteConfig defines the website's operating parameters.
	WebsiteConfig WebsiteConfig
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// S3BucketWebsite builds an S3 bucket and sets up a public access
// static website from its contents.
type S3BucketWebsite struct {
	tbpulumi.ComponentResource

	Bucket    *S3Bucket
	BucketAcl *awss3.BucketAclV2
	BucketOc  *awss3.BucketOwnershipControls
	BucketPab *awss3.BucketPublicAccessBlock
	Policy    *awss3.BucketPolicy
	Website   *awss3.BucketWebsiteConfigurationV2
}

// NewS3BucketWebsite registers the website bucket and its public access
// configuration with the given project.
func NewS3BucketWebsite(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *S3BucketWebsiteArgs, opts ...pulumi.ResourceOption) (*S3BucketWebsite, error) {
	if args == nil {
		args = &S3BucketWebsiteArgs{}
	}

	w := &S3BucketWebsite{}
	err := tbpulumi.NewComponent(ctx, "tb:s3:S3BucketWebsite", name, project,
		w, &tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	encrypt := false
	w.Bucket, err = NewS3Bucket(ctx, fmt.Sprintf("%s-bucket", name), project, &S3BucketArgs{
		BucketName:                 args.BucketName,
		EnableServerSideEncryption: &encrypt,
		ObjectDir:                  args.ContentDir,
		Tags:                       w.Tags,
		ExcludeFromProject:         true,
	}, pulumi.Parent(w))
	if err != nil {
		return nil, err
	}

	w.BucketOc, err = awss3.NewBucketOwnershipControls(ctx, fmt.Sprintf("%s-bucket-oc", name),
		&awss3.BucketOwnershipControlsArgs{
			Bucket: pulumi.String(args.BucketName),
			Rule: &awss3.BucketOwnershipControlsRuleArgs{
				ObjectOwnership: pulumi.String("ObjectWriter"),
			},
		}, pulumi.Parent(w), pulumi.DependsOn([]pulumi.Resource{w.Bucket}))
	if err != nil {
		return nil, err
	}

	w.BucketPab, err = awss3.NewBucketPublicAccessBlock(ctx, fmt.Sprintf("%s-bucket-pab", name),
		&awss3.BucketPublicAccessBlockArgs{
			Bucket:            pulumi.String(args.BucketName),
			BlockPublicAcls:   pulumi.Bool(false),
			BlockPublicPolicy: pulumi.Bool(false),
		}, pulumi.Parent(w), pulumi.DependsOn([]pulumi.Resource{w.Bucket}))
	if err != nil {
		return nil, err
	}

	w.BucketAcl, err = awss3.NewBucketAclV2(ctx, fmt.Sprintf("%s-bucket-acl", name), &awss3.BucketAclV2Args{
		Bucket: pulumi.String(args.BucketName),
		Acl:    pulumi.String("public-read"),
	}, pulumi.Parent(w), pulumi.DependsOn([]pulumi.Resource{w.Bucket, w.BucketOc, w.BucketPab}))
	if err != nil {
		return nil, err
	}

	policyJson, err := constants.IamPolicyDocument(constants.PolicyStatement{
		Sid:       "PublicReadGetObject",
		Effect:    "Allow",
		Principal: "*",
		Action:    []string{"s3:GetObject"},
		Resource:  []string{fmt.Sprintf("arn:aws:s3:::%s/*", args.BucketName)},
	}).JSON()
	if err != nil {
		return nil, err
	}
	w.Policy, err = awss3.NewBucketPolicy(ctx, fmt.Sprintf("%s-policy", name), &awss3.BucketPolicyArgs{
		Bucket: pulumi.String(args.BucketName),
		Policy: pulumi.String(policyJson),
	}, pulumi.Parent(w), pulumi.DependsOn([]pulumi.Resource{w.Bucket, w.BucketOc, w.BucketPab}))
	if err != nil {
		return nil, err
	}

	websiteArgs := &awss3.BucketWebsiteConfigurationV2Args{
		Bucket: pulumi.String(args.BucketName),
	}
	if args.WebsiteConfig.IndexDocumentSuffix != "" {
		websiteArgs.IndexDocument = &awss3.BucketWebsiteConfigurationV2IndexDocumentArgs{
			Suffix: pulumi.String(args.WebsiteConfig.IndexDocumentSuffix),
		}
	}
	if args.WebsiteConfig.ErrorDocumentKey != "" {
		websiteArgs.ErrorDocument = &awss3.BucketWebsiteConfigurationV2ErrorDocumentArgs{
			Key: pulumi.String(args.WebsiteConfig.ErrorDocumentKey),
		}
	}
	w.Website, err = awss3.NewBucketWebsiteConfigurationV2(ctx, fmt.Sprintf("%s-website", name), websiteArgs,
		pulumi.Parent(w), pulumi.DependsOn([]pulumi.Resource{w.Bucket}))
	if err != nil {
		return nil, err
	}

	err = w.Finish(ctx, nil, tbpulumi.ResourceMap{
		"bucket":     w.Bucket,
		"bucket_acl": w.BucketAcl,
		"bucket_oc":  w.BucketOc,
		"bucket_pab": w.BucketPab,
		"policy":     w.Policy,
		"website":    w.Website,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}
