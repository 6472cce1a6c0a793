// Package cloudfront serves the static contents of an S3 bucket over a
// CloudFront distribution with access logging.
package cloudfront

import (
	"fmt"

	awscloudfront "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cloudfront"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	awss3 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// CloudFrontS3ServiceArgs configures a CloudFrontS3Service.
type CloudFrontS3ServiceArgs struct {
	// CertificateArn is the ACM certificate the distribution serves
	// HTTPS with.
	CertificateArn string
	// ServiceBucketName names the bucket holding the static content. It
	// must be unique within the entire S3 ecosystem.
	ServiceBucketName string
	// Aliases lists extra CNAMEs the distribution answers to.
	Aliases []string
	// Behaviors adds cache behaviors for specific path patterns.
	Behaviors awscloudfront.DistributionOrderedCacheBehaviorArrayInput
	// DefaultFunctionAssociations attaches CloudFront functions to the
	// default cache behavior.
	DefaultFunctionAssociations awscloudfront.DistributionDefaultCacheBehaviorFunctionAssociationArrayInput
	// ForciblyDestroyBuckets destroys the buckets, and all their
	// contents beyond recovery, when the bucket resources are
	// destroyed. Only enable this for volatile environments.
	ForciblyDestroyBuckets bool
	// LoggingPrefix prepends a prefix to access log object keys.
	LoggingPrefix string
	// Origins adds additional origins. This list should not include any
	// references to the service bucket, which is managed here.
	Origins awscloudfront.DistributionOriginArray
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// CloudFrontS3Service serves the static contents of an S3 bucket over a
// CloudFront distribution. Access logs land in a second bucket, and an
// unattached IAM policy allows CI flows to invalidate the CDN cache
// when the content changes.
type CloudFrontS3Service struct {
	tbpulumi.ComponentResource

	ServiceBucket          *awss3.Bucket
	LoggingBucket          *awss3.Bucket
	LoggingBucketOwnership *awss3.BucketOwnershipControls
	LoggingBucketAcl       *awss3.BucketAclV2
	OriginAccessControl    *awscloudfront.OriginAccessControl
	Distribution           *awscloudfront.Distribution
	ServiceBucketPolicy    *awss3.BucketPolicy
	InvalidationPolicy     *iam.Policy
}

// NewCloudFrontS3Service registers the distribution and its buckets
// with the given project.
func NewCloudFrontS3Service(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *CloudFrontS3ServiceArgs, opts ...pulumi.ResourceOption) (*CloudFrontS3Service, error) {
	if args == nil {
		args = &CloudFrontS3ServiceArgs{}
	}

	cfs := &CloudFrontS3Service{}
	err := tbpulumi.NewComponent(ctx, "tb:cloudfront:CloudFrontS3Service", name, project, cfs,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	encryption := &awss3.BucketServerSideEncryptionConfigurationArgs{
		Rule: &awss3.BucketServerSideEncryptionConfigurationRuleArgs{
			ApplyServerSideEncryptionByDefault: &awss3.BucketServerSideEncryptionConfigurationRuleApplyServerSideEncryptionByDefaultArgs{
				SseAlgorithm: pulumi.String("AES256"),
			},
			BucketKeyEnabled: pulumi.Bool(true),
		},
	}

	cfs.ServiceBucket, err = awss3.NewBucket(ctx, fmt.Sprintf("%s-servicebucket", name), &awss3.BucketArgs{
		Bucket:                            pulumi.String(args.ServiceBucketName),
		ForceDestroy:                      pulumi.Bool(args.ForciblyDestroyBuckets),
		ServerSideEncryptionConfiguration: encryption,
		Tags:                              cfs.PulumiTags(),
	}, pulumi.Parent(cfs))
	if err != nil {
		return nil, fmt.Errorf("failed to build the service bucket for %s: %w", name, err)
	}

	cfs.LoggingBucket, err = awss3.NewBucket(ctx, fmt.Sprintf("%s-loggingbucket", name), &awss3.BucketArgs{
		Bucket:                            pulumi.Sprintf("%s-logs", args.ServiceBucketName),
		ForceDestroy:                      pulumi.Bool(args.ForciblyDestroyBuckets),
		ServerSideEncryptionConfiguration: encryption,
		Tags:                              cfs.PulumiTags(),
	}, pulumi.Parent(cfs))
	if err != nil {
		return nil, err
	}

	cfs.LoggingBucketOwnership, err = awss3.NewBucketOwnershipControls(ctx, fmt.Sprintf("%s-bucketownership", name),
		&awss3.BucketOwnershipControlsArgs{
			Bucket: cfs.LoggingBucket.ID(),
			Rule: &awss3.BucketOwnershipControlsRuleArgs{
				ObjectOwnership: pulumi.String("BucketOwnerPreferred"),
			},
		}, pulumi.Parent(cfs), pulumi.DependsOn([]pulumi.Resource{cfs.LoggingBucket}))
	if err != nil {
		return nil, err
	}

	canonicalUser, err := awss3.GetCanonicalUserId(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover the canonical user: %w", err)
	}
	cfs.LoggingBucketAcl, err = awss3.NewBucketAclV2(ctx, fmt.Sprintf("%s-bucketacl", name), &awss3.BucketAclV2Args{
		Bucket: cfs.LoggingBucket.ID(),
		AccessControlPolicy: &awss3.BucketAclV2AccessControlPolicyArgs{
			Grants: awss3.BucketAclV2AccessControlPolicyGrantArray{
				&awss3.BucketAclV2AccessControlPolicyGrantArgs{
					Grantee: &awss3.BucketAclV2AccessControlPolicyGrantGranteeArgs{
						Type: pulumi.String("CanonicalUser"),
						Id:   pulumi.String(canonicalUser.Id),
					},
					Permission: pulumi.String("FULL_CONTROL"),
				},
			},
			Owner: &awss3.BucketAclV2AccessControlPolicyOwnerArgs{
				Id: pulumi.String(canonicalUser.Id),
			},
		},
	}, pulumi.Parent(cfs), pulumi.DependsOn([]pulumi.Resource{cfs.LoggingBucket, cfs.LoggingBucketOwnership}))
	if err != nil {
		return nil, err
	}

	cfs.OriginAccessControl, err = awscloudfront.NewOriginAccessControl(ctx, fmt.Sprintf("%s-oac", name),
		&awscloudfront.OriginAccessControlArgs{
			OriginAccessControlOriginType: pulumi.String("s3"),
			SigningBehavior:               pulumi.String("always"),
			SigningProtocol:               pulumi.String("sigv4"),
			Description:                   pulumi.Sprintf("Serve %s contents via CDN", args.ServiceBucketName),
			Name:                          pulumi.String(args.ServiceBucketName),
		}, pulumi.Parent(cfs))
	if err != nil {
		return nil, err
	}

	bucketRegionalDomainName := fmt.Sprintf("%s.s3.%s.amazonaws.com", args.ServiceBucketName, project.AwsRegion)
	origins := awscloudfront.DistributionOriginArray{
		&awscloudfront.DistributionOriginArgs{
			DomainName:            pulumi.String(bucketRegionalDomainName),
			OriginId:              pulumi.String(bucketRegionalDomainName),
			OriginAccessControlId: cfs.OriginAccessControl.ID(),
		},
	}
	origins = append(origins, args.Origins...)

	loggingConfig := &awscloudfront.DistributionLoggingConfigArgs{
		Bucket: cfs.LoggingBucket.BucketDomainName,
	}
	if args.LoggingPrefix != "" {
		loggingConfig.Prefix = pulumi.String(args.LoggingPrefix)
	}

	distroArgs := &awscloudfront.DistributionArgs{
		DefaultCacheBehavior: &awscloudfront.DistributionDefaultCacheBehaviorArgs{
			AllowedMethods:       pulumi.ToStringArray([]string{"HEAD", "DELETE", "POST", "GET", "OPTIONS", "PUT", "PATCH"}),
			CachedMethods:        pulumi.ToStringArray([]string{"HEAD", "GET"}),
			CachePolicyId:        pulumi.String(constants.CachePolicyIDOptimized),
			Compress:             pulumi.Bool(true),
			FunctionAssociations: args.DefaultFunctionAssociations,
			TargetOriginId:       pulumi.String(bucketRegionalDomainName),
			ViewerProtocolPolicy: pulumi.String("redirect-to-https"),
		},
		Enabled:               pulumi.Bool(true),
		LoggingConfig:         loggingConfig,
		OrderedCacheBehaviors: args.Behaviors,
		Origins:               origins,
		Restrictions: &awscloudfront.DistributionRestrictionsArgs{
			GeoRestriction: &awscloudfront.DistributionRestrictionsGeoRestrictionArgs{
				RestrictionType: pulumi.String("none"),
			},
		},
		ViewerCertificate: &awscloudfront.DistributionViewerCertificateArgs{
			AcmCertificateArn:      pulumi.String(args.CertificateArn),
			MinimumProtocolVersion: pulumi.String("TLSv1.2_2021"),
			SslSupportMethod:       pulumi.String("sni-only"),
		},
		Tags: cfs.PulumiTags(),
	}
	if len(args.Aliases) > 0 {
		distroArgs.Aliases = pulumi.ToStringArray(args.Aliases)
	}
	cfs.Distribution, err = awscloudfront.NewDistribution(ctx, fmt.Sprintf("%s-cfdistro", name), distroArgs,
		pulumi.Parent(cfs), pulumi.DependsOn([]pulumi.Resource{cfs.LoggingBucket, cfs.OriginAccessControl}))
	if err != nil {
		return nil, fmt.Errorf("failed to build the distribution for %s: %w", name, err)
	}

	bucketPolicyJson := cfs.Distribution.Arn.ApplyT(func(distroArn string) (string, error) {
		doc := constants.PolicyDocument{
			Version: "2012-10-17",
			Id:      "PolicyForCloudFrontPrivateContent",
			Statement: []constants.PolicyStatement{{
				Sid:       "AllowCloudFrontServicePrincipal",
				Effect:    "Allow",
				Principal: map[string]any{"Service": "cloudfront.amazonaws.com"},
				Action:    "s3:GetObject",
				Resource:  fmt.Sprintf("arn:aws:s3:::%s/*", args.ServiceBucketName),
				Condition: map[string]any{"StringEquals": map[string]any{"AWS:SourceArn": distroArn}},
			}},
		}
		return doc.JSON()
	}).(pulumi.StringOutput)
	cfs.ServiceBucketPolicy, err = awss3.NewBucketPolicy(ctx, fmt.Sprintf("%s-bucketpolicy-service", name),
		&awss3.BucketPolicyArgs{
			Bucket: cfs.ServiceBucket.ID(),
			Policy: bucketPolicyJson,
		}, pulumi.Parent(cfs), pulumi.DependsOn([]pulumi.Resource{cfs.ServiceBucket, cfs.Distribution}))
	if err != nil {
		return nil, err
	}

	invalidationPolicyJson := cfs.Distribution.Arn.ApplyT(func(distroArn string) (string, error) {
		doc := constants.PolicyDocument{
			Version: "2012-10-17",
			Id:      "CacheInvalidation",
			Statement: []constants.PolicyStatement{{
				Sid:      "InvalidateDistroCache",
				Effect:   "Allow",
				Action:   []string{"cloudfront:CreateInvalidation"},
				Resource: []string{distroArn},
			}},
		}
		return doc.JSON()
	}).(pulumi.StringOutput)
	cfs.InvalidationPolicy, err = iam.NewPolicy(ctx, fmt.Sprintf("%s-policy-invalidation", name), &iam.PolicyArgs{
		Name:        pulumi.Sprintf("%s-cache-invalidation", name),
		Description: pulumi.Sprintf("Allows for the invalidation of CDN cache for CloudFront distribution %s", name),
		Policy:      invalidationPolicyJson,
		Tags:        cfs.PulumiTags(),
	}, pulumi.Parent(cfs), pulumi.DependsOn([]pulumi.Resource{cfs.Distribution}))
	if err != nil {
		return nil, err
	}

	err = cfs.Finish(ctx, nil, tbpulumi.ResourceMap{
		"service_bucket":           cfs.ServiceBucket,
		"logging_bucket":           cfs.LoggingBucket,
		"logging_bucket_ownership": cfs.LoggingBucketOwnership,
		"logging_bucket_acl":       cfs.LoggingBucketAcl,
		"origin_access_control":    cfs.OriginAccessControl,
		"cloudfront_distribution":  cfs.Distribution,
		"service_bucket_policy":    cfs.ServiceBucketPolicy,
		"invalidation_policy":      cfs.InvalidationPolicy,
	})
	if err != nil {
		return nil, err
	}
	return cfs, nil
}
