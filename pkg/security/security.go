// Package security builds account-level compliance and threat
// detection enablement: AWS Config, Security Hub, and GuardDuty.
package security

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/cfg"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/guardduty"
	awss3 "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/s3"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/securityhub"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/s3"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// ConfigAccountArgs configures a ConfigAccount.
type ConfigAccountArgs struct {
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// ConfigAccount enables AWS Config for an account and region: a
// delivery bucket the service can write to, a recorder running on the
// service-linked role, and a delivery channel.
type ConfigAccount struct {
	tbpulumi.ComponentResource

	DeliveryBucket       *s3.S3Bucket
	DeliveryBucketPolicy *awss3.BucketPolicy
	Recorder             *cfg.Recorder
	RecorderStatus       *cfg.RecorderStatus
	DeliveryChannel      *cfg.DeliveryChannel
}

// NewConfigAccount registers the Config recorder and its delivery
// channel with the given project.
func NewConfigAccount(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *ConfigAccountArgs, opts ...pulumi.ResourceOption) (*ConfigAccount, error) {
	if args == nil {
		args = &ConfigAccountArgs{}
	}

	ca := &ConfigAccount{}
	err := tbpulumi.NewComponent(ctx, "tb:security:ConfigAccount", name, project, ca,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	bucketName := fmt.Sprintf("%s-config", project.NamePrefix)
	ca.DeliveryBucket, err = s3.NewS3Bucket(ctx, fmt.Sprintf("%s-bucket", name), project, &s3.S3BucketArgs{
		BucketName: bucketName,
		Tags:       ca.Tags,
	}, pulumi.Parent(ca))
	if err != nil {
		return nil, err
	}

	// The delivery bucket policy allows Config to write snapshots into
	// the account's log path and verify the bucket ACL.
	policyDoc := constants.IamPolicyDocument(
		constants.PolicyStatement{
			Effect:    "Allow",
			Principal: map[string]any{"Service": "config.amazonaws.com"},
			Action:    []string{"s3:PutObject", "s3:PutObjectAcl"},
			Resource:  fmt.Sprintf("arn:aws:s3:::%s/AWSLogs/%s/*", bucketName, project.AwsAccountID),
			Condition: map[string]any{"StringEquals": map[string]any{"s3:x-amz-acl": "bucket-owner-full-control"}},
		},
		constants.PolicyStatement{
			Effect:    "Allow",
			Principal: map[string]any{"Service": "config.amazonaws.com"},
			Action:    "s3:GetBucketAcl",
			Resource:  fmt.Sprintf("arn:aws:s3:::%s", bucketName),
		},
	)
	policyJson, err := policyDoc.JSON()
	if err != nil {
		return nil, err
	}
	ca.DeliveryBucketPolicy, err = awss3.NewBucketPolicy(ctx, fmt.Sprintf("%s-bucket-policy", name),
		&awss3.BucketPolicyArgs{
			Bucket: ca.DeliveryBucket.Bucket.ID(),
			Policy: pulumi.String(policyJson),
		}, pulumi.Parent(ca.DeliveryBucket))
	if err != nil {
		return nil, err
	}

	serviceLinkedRoleArn := fmt.Sprintf(
		"arn:aws:iam::%s:role/aws-service-role/config.amazonaws.com/AWSServiceRoleForConfig",
		project.AwsAccountID)
	ca.Recorder, err = cfg.NewRecorder(ctx, fmt.Sprintf("%s-recorder", name), &cfg.RecorderArgs{
		RoleArn: pulumi.String(serviceLinkedRoleArn),
		RecordingGroup: &cfg.RecorderRecordingGroupArgs{
			AllSupported:               pulumi.Bool(true),
			IncludeGlobalResourceTypes: pulumi.Bool(true),
		},
		RecordingMode: &cfg.RecorderRecordingModeArgs{
			RecordingFrequency: pulumi.String("CONTINUOUS"),
		},
	}, pulumi.Parent(ca))
	if err != nil {
		return nil, err
	}

	ca.RecorderStatus, err = cfg.NewRecorderStatus(ctx, fmt.Sprintf("%s-recorder-status", name),
		&cfg.RecorderStatusArgs{
			Name:      ca.Recorder.Name,
			IsEnabled: pulumi.Bool(true),
		}, pulumi.Parent(ca.Recorder))
	if err != nil {
		return nil, err
	}

	ca.DeliveryChannel, err = cfg.NewDeliveryChannel(ctx, fmt.Sprintf("%s-delivery-channel", name),
		&cfg.DeliveryChannelArgs{
			S3BucketName: pulumi.String(bucketName),
		}, pulumi.Parent(ca.Recorder),
		pulumi.DependsOn([]pulumi.Resource{ca.DeliveryBucket, ca.DeliveryBucketPolicy, ca.Recorder}))
	if err != nil {
		return nil, err
	}

	err = ca.Finish(ctx, nil, tbpulumi.ResourceMap{
		"delivery_bucket":        ca.DeliveryBucket,
		"delivery_bucket_policy": ca.DeliveryBucketPolicy,
		"recorder":               ca.Recorder,
		"recorder_status":        ca.RecorderStatus,
		"delivery_channel":       ca.DeliveryChannel,
	})
	if err != nil {
		return nil, err
	}
	return ca, nil
}

// SecurityHubAccountArgs configures a SecurityHubAccount.
type SecurityHubAccountArgs struct {
	// EnableDefaultStandards subscribes the account to the standards
	// Security Hub enables by default. Defaults to true.
	EnableDefaultStandards *bool
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// SecurityHubAccount enables AWS Security Hub for an account and
// region.
type SecurityHubAccount struct {
	tbpulumi.ComponentResource

	Account *securityhub.Account
}

// NewSecurityHubAccount registers the Security Hub subscription with
// the given project.
func NewSecurityHubAccount(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *SecurityHubAccountArgs, opts ...pulumi.ResourceOption) (*SecurityHubAccount, error) {
	if args == nil {
		args = &SecurityHubAccountArgs{}
	}
	enableDefaultStandards := true
	if args.EnableDefaultStandards != nil {
		enableDefaultStandards = *args.EnableDefaultStandards
	}

	sha := &SecurityHubAccount{}
	err := tbpulumi.NewComponent(ctx, "tb:security:SecurityHubAccount", name, project,
		sha, &tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	sha.Account, err = securityhub.NewAccount(ctx, name, &securityhub.AccountArgs{
		EnableDefaultStandards: pulumi.Bool(enableDefaultStandards),
	}, pulumi.Parent(sha))
	if err != nil {
		return nil, err
	}

	err = sha.Finish(ctx, nil, tbpulumi.ResourceMap{
		"security_hub_account": sha.Account,
	})
	if err != nil {
		return nil, err
	}
	return sha, nil
}

// DetectorFeatureSpec describes a GuardDuty detector feature to
// enable or disable.
type DetectorFeatureSpec struct {
	// Name of the feature, for example "RUNTIME_MONITORING".
	Name string
	// Status is "ENABLED" or "DISABLED".
	Status string
	// AdditionalConfigurations tunes sub-features of the feature.
	AdditionalConfigurations guardduty.DetectorFeatureAdditionalConfigurationArrayInput
}

// GuardDutyAccountArgs configures a GuardDutyAccount.
type GuardDutyAccountArgs struct {
	// Features lists detector features to manage beyond the
	// detector's defaults.
	Features []DetectorFeatureSpec
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// GuardDutyAccount enables AWS GuardDuty for an account and region.
type GuardDutyAccount struct {
	tbpulumi.ComponentResource

	Detector *guardduty.Detector
	// Features is keyed by feature name.
	Features map[string]*guardduty.DetectorFeature
}

// NewGuardDutyAccount registers the GuardDuty detector and its
// features with the given project.
func NewGuardDutyAccount(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *GuardDutyAccountArgs, opts ...pulumi.ResourceOption) (*GuardDutyAccount, error) {
	if args == nil {
		args = &GuardDutyAccountArgs{}
	}

	gda := &GuardDutyAccount{Features: map[string]*guardduty.DetectorFeature{}}
	err := tbpulumi.NewComponent(ctx, "tb:security:GuardDutyAccount", name, project, gda,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	gda.Detector, err = guardduty.NewDetector(ctx, fmt.Sprintf("%s-guardduty", name), &guardduty.DetectorArgs{
		Enable: pulumi.Bool(true),
		Tags:   gda.PulumiTags(),
	}, pulumi.Parent(gda))
	if err != nil {
		return nil, err
	}

	for _, feature := range args.Features {
		gda.Features[feature.Name], err = guardduty.NewDetectorFeature(ctx,
			fmt.Sprintf("%s-%s", name, feature.Name), &guardduty.DetectorFeatureArgs{
				DetectorId:               gda.Detector.ID(),
				Name:                     pulumi.String(feature.Name),
				Status:                   pulumi.String(feature.Status),
				AdditionalConfigurations: feature.AdditionalConfigurations,
			}, pulumi.Parent(gda.Detector))
		if err != nil {
			return nil, err
		}
	}

	err = gda.Finish(ctx, nil, tbpulumi.ResourceMap{
		"guardduty_detector": gda.Detector,
		"enabled_features":   gda.Features,
	})
	if err != nil {
		return nil, err
	}
	return gda, nil
}
