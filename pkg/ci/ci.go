// Package ci builds resources consumed by continuous integration
// pipelines.
package ci

import (
	"encoding/json"
	"fmt"

	awsiam "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/secrets"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// AwsAutomationUserArgs configures an AwsAutomationUser.
type AwsAutomationUserArgs struct {
	// ActiveStack names the stack these single-stack resources are
	// managed in. Set this to a stack you expect to be a permanent
	// fixture in your infrastructure. Defaults to "stage".
	ActiveStack string
	// AdditionalPolicies lists ARNs of IAM policies to additionally
	// attach to the user.
	AdditionalPolicies []string

	// EnableEcrImagePush attaches a policy allowing the user to push
	// container images to the EcrRepositories.
	EnableEcrImagePush bool
	EcrRepositories    []string

	// EnableFargateDeployments attaches a policy allowing new task
	// definitions to be deployed to Fargate services in the
	// FargateClusters, authenticating as the FargateTaskRoleArns.
	EnableFargateDeployments bool
	FargateClusters          []string
	FargateTaskRoleArns      []string

	// EnableFullS3Access attaches a policy allowing unrestricted
	// access to the S3FullAccessBuckets and all objects within them.
	// Use this when your CI runs Pulumi executions, which need access
	// to the Pulumi state bucket.
	EnableFullS3Access  bool
	S3FullAccessBuckets []string

	// EnableS3BucketUpload attaches a policy allowing the user to
	// upload files into the S3UploadBuckets.
	EnableS3BucketUpload bool
	S3UploadBuckets      []string

	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// AwsAutomationUser creates an IAM user for CI automation along with
// an access key, stored in Secrets Manager, and a selection of common
// permission sets for build and deployment patterns.
//
// Because CI processes affect resources built across multiple
// environments, these items are only created when the current stack
// matches the configured active stack; other stacks log a notice and
// build nothing.
type AwsAutomationUser struct {
	tbpulumi.ComponentResource

	User      *awsiam.User
	AccessKey *awsiam.AccessKey
	Secret    *secrets.SecretsManagerSecret

	EcrImagePushPolicy      *awsiam.Policy
	S3UploadPolicy          *awsiam.Policy
	S3FullAccessPolicy      *awsiam.Policy
	FargateDeploymentPolicy *awsiam.Policy
}

type ciAccessKeyCredentials struct {
	AwsAccessKeyID     string `json:"aws_access_key_id"`
	AwsSecretAccessKey string `json:"aws_secret_access_key"`
}

// NewAwsAutomationUser registers the CI user and its permission sets
// with the given project.
func NewAwsAutomationUser(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *AwsAutomationUserArgs, opts ...pulumi.ResourceOption) (*AwsAutomationUser, error) {
	if args == nil {
		args = &AwsAutomationUserArgs{}
	}
	activeStack := args.ActiveStack
	if activeStack == "" {
		activeStack = "stage"
	}

	au := &AwsAutomationUser{}
	err := tbpulumi.NewComponent(ctx, "tb:ci:AwsAutomationUser", name, project, au,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	if project.Stack != activeStack {
		ctx.Log.Info(fmt.Sprintf(
			"The current stack is %q, but CI components are associated with the %q stack. "+
				"These resources will be skipped on this run.", project.Stack, activeStack), nil)
		if err := au.Finish(ctx, nil, tbpulumi.ResourceMap{}); err != nil {
			return nil, err
		}
		return au, nil
	}

	au.User, err = awsiam.NewUser(ctx, fmt.Sprintf("%s-user", name), &awsiam.UserArgs{
		Name: pulumi.Sprintf("%s-ci", project.Name),
		Tags: au.PulumiTags(),
	}, pulumi.Parent(au))
	if err != nil {
		return nil, err
	}

	au.AccessKey, err = awsiam.NewAccessKey(ctx, fmt.Sprintf("%s-accesskey", name), &awsiam.AccessKeyArgs{
		User: au.User.Name,
	}, pulumi.Parent(au), pulumi.DependsOn([]pulumi.Resource{au.User}))
	if err != nil {
		return nil, err
	}

	secretValue := pulumi.All(au.AccessKey.ID().ToStringOutput(), au.AccessKey.Secret).ApplyT(func(vals []any) (string, error) {
		data, err := json.Marshal(ciAccessKeyCredentials{
			AwsAccessKeyID:     vals[0].(string),
			AwsSecretAccessKey: vals[1].(string),
		})
		return string(data), err
	}).(pulumi.StringOutput)
	au.Secret, err = secrets.NewSecretsManagerSecret(ctx, fmt.Sprintf("%s-secret-accesskey", name), project,
		&secrets.SecretsManagerSecretArgs{
			SecretName:         project.SecretPath("ci-access-keys"),
			SecretValue:        pulumi.ToSecret(secretValue).(pulumi.StringOutput),
			Tags:               au.Tags,
			ExcludeFromProject: true,
		}, pulumi.Parent(au), pulumi.DependsOn([]pulumi.Resource{au.AccessKey}))
	if err != nil {
		return nil, err
	}

	if args.EnableEcrImagePush {
		repoArns := make([]string, len(args.EcrRepositories))
		for i, repo := range args.EcrRepositories {
			repoArns[i] = fmt.Sprintf("arn:aws:ecr:%s:%s:repository/%s", project.AwsRegion, project.AwsAccountID, repo)
		}
		doc := constants.IamPolicyDocument(
			constants.PolicyStatement{
				Sid:    "ImageActions",
				Effect: "Allow",
				Action: []string{
					"ecr:BatchCheckLayerAvailability",
					"ecr:BatchGetImage",
					"ecr:CompleteLayerUpload",
					"ecr:DescribeImages",
					"ecr:InitiateLayerUpload",
					"ecr:ListImages",
					"ecr:UploadLayerPart",
					"ecr:PutImage",
				},
				Resource: repoArns,
			},
			constants.PolicyStatement{
				Sid:      "AuthActions",
				Effect:   "Allow",
				Action:   []string{"ecr:GetAuthorizationToken"},
				Resource: []string{"*"},
			},
		)
		au.EcrImagePushPolicy, err = au.attachedPolicy(ctx, name, "ecrpush",
			fmt.Sprintf("%s-ci-ecr-push", name),
			fmt.Sprintf("Allows CI automation for %s to push container images to ECR.", project.Name), doc)
		if err != nil {
			return nil, err
		}
	}

	if args.EnableS3BucketUpload {
		bucketArns := make([]string, len(args.S3UploadBuckets))
		for i, bucket := range args.S3UploadBuckets {
			bucketArns[i] = fmt.Sprintf("arn:aws:s3:::%s/*", bucket)
		}
		doc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      "PutObjects",
			Effect:   "Allow",
			Action:   []string{"s3:PutObject"},
			Resource: bucketArns,
		})
		au.S3UploadPolicy, err = au.attachedPolicy(ctx, name, "s3upload",
			fmt.Sprintf("%s-ci-s3-upload", name),
			fmt.Sprintf("Allows CI automation for %s to upload files to certain S3 buckets.", project.Name), doc)
		if err != nil {
			return nil, err
		}
	}

	if args.EnableFullS3Access {
		bucketArns := make([]string, 0, len(args.S3FullAccessBuckets)*2)
		for _, bucket := range args.S3FullAccessBuckets {
			bucketArns = append(bucketArns,
				fmt.Sprintf("arn:aws:s3:::%s", bucket),
				fmt.Sprintf("arn:aws:s3:::%s/*", bucket))
		}
		doc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      "S3FullAccess",
			Effect:   "Allow",
			Action:   []string{"s3:*"},
			Resource: bucketArns,
		})
		au.S3FullAccessPolicy, err = au.attachedPolicy(ctx, name, "s3fullaccess",
			fmt.Sprintf("%s-ci-s3-fullaccess", name),
			fmt.Sprintf("Allows CI automation for %s to do anything with certain S3 buckets.", project.Name), doc)
		if err != nil {
			return nil, err
		}
	}

	if args.EnableFargateDeployments {
		ecsWriteArns := make([]string, 0, len(args.FargateClusters)*2)
		taskDefArns := make([]string, 0, len(args.FargateClusters))
		for _, cluster := range args.FargateClusters {
			ecsWriteArns = append(ecsWriteArns,
				fmt.Sprintf("arn:aws:ecs:%s:%s:*/%s", project.AwsRegion, project.AwsAccountID, cluster),
				fmt.Sprintf("arn:aws:ecs:%s:%s:*/%s/*", project.AwsRegion, project.AwsAccountID, cluster))
			taskDefArns = append(taskDefArns,
				fmt.Sprintf("arn:aws:ecs:%s:%s:task-definition/%s:*", project.AwsRegion, project.AwsAccountID, cluster))
		}
		doc := constants.IamPolicyDocument(
			constants.PolicyStatement{
				Sid:      "EcsWriteAccess",
				Effect:   "Allow",
				Action:   []string{"ecs:*"},
				Resource: ecsWriteArns,
			},
			constants.PolicyStatement{
				Sid:      "DescribeTaskDefs",
				Effect:   "Allow",
				Action:   []string{"ecs:DescribeTaskDefinition"},
				Resource: []string{"*"},
			},
			constants.PolicyStatement{
				Sid:      "RegisterTaskDef",
				Effect:   "Allow",
				Action:   []string{"ecs:RegisterTaskDefinition"},
				Resource: taskDefArns,
			},
			constants.PolicyStatement{
				Sid:    "GlobalObjectReadAccess",
				Effect: "Allow",
				Action: []string{
					"ec2:List*",
					"ec2:Get*",
					"ec2:Describe*",
					"ecs:DeregisterTaskDefinition",
					"s3:ListAllMyBuckets",
				},
				Resource: []string{"*"},
			},
			constants.PolicyStatement{
				Sid:      "IamFargateAuth",
				Effect:   "Allow",
				Action:   []string{"iam:PassRole"},
				Resource: args.FargateTaskRoleArns,
			},
		)
		au.FargateDeploymentPolicy, err = au.attachedPolicy(ctx, name, "fargatedeploy",
			fmt.Sprintf("%s-ci-fargatedeploy", name),
			fmt.Sprintf("Allows CI automation for %s to deploy images to Fargate clusters.", project.Name), doc)
		if err != nil {
			return nil, err
		}
	}

	for idx, policyArn := range args.AdditionalPolicies {
		_, err = awsiam.NewPolicyAttachment(ctx, fmt.Sprintf("%s-polatt-additional-%d", name, idx),
			&awsiam.PolicyAttachmentArgs{
				Users:     pulumi.Array{au.User.Name},
				PolicyArn: pulumi.String(policyArn),
			}, pulumi.Parent(au), pulumi.DependsOn([]pulumi.Resource{au.User}))
		if err != nil {
			return nil, err
		}
	}

	resources := tbpulumi.ResourceMap{
		"user":       au.User,
		"access_key": au.AccessKey,
		"secret":     au.Secret,
	}
	if au.EcrImagePushPolicy != nil {
		resources["ecr_image_push_policy"] = au.EcrImagePushPolicy
	}
	if au.S3UploadPolicy != nil {
		resources["s3_upload_policy"] = au.S3UploadPolicy
	}
	if au.S3FullAccessPolicy != nil {
		resources["s3_full_access_policy"] = au.S3FullAccessPolicy
	}
	if au.FargateDeploymentPolicy != nil {
		resources["fargate_deployment_policy"] = au.FargateDeploymentPolicy
	}
	err = au.Finish(ctx, pulumi.Map{"user_name": au.User.Name}, resources)
	if err != nil {
		return nil, err
	}
	return au, nil
}

// attachedPolicy builds a policy from the given document and attaches
// it to the automation user.
func (au *AwsAutomationUser) attachedPolicy(ctx *pulumi.Context, name, suffix, policyName, description string, doc constants.PolicyDocument) (*awsiam.Policy, error) {
	policyJson, err := doc.JSON()
	if err != nil {
		return nil, err
	}
	policy, err := awsiam.NewPolicy(ctx, fmt.Sprintf("%s-policy-%s", name, suffix), &awsiam.PolicyArgs{
		Name:        pulumi.String(policyName),
		Description: pulumi.String(description),
		Policy:      pulumi.String(policyJson),
		Tags:        au.PulumiTags(),
	}, pulumi.Parent(au))
	if err != nil {
		return nil, err
	}
	_, err = awsiam.NewPolicyAttachment(ctx, fmt.Sprintf("%s-polatt-%s", name, suffix),
		&awsiam.PolicyAttachmentArgs{
			Users:     pulumi.Array{au.User.Name},
			PolicyArn: policy.Arn,
		}, pulumi.Parent(au), pulumi.DependsOn([]pulumi.Resource{policy, au.User}))
	if err != nil {
		return nil, err
	}
	return policy, nil
}
