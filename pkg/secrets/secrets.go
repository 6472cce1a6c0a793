// Package secrets builds patterns around AWS Secrets Manager: individual
// secrets and bulk mirrors of Pulumi config secrets.
package secrets

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/secretsmanager"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// SecretsManagerSecretArgs configures a SecretsManagerSecret.
type SecretsManagerSecretArgs struct {
	// SecretName is the slash-delimited name for the secret in AWS.
	SecretName string
	// SecretValue is the secret data to store.
	SecretValue pulumi.StringInput
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// SecretsManagerSecret stores a value as a Secrets Manager secret, which
// is composed of a Secret and a SecretVersion.
type SecretsManagerSecret struct {
	tbpulumi.ComponentResource

	Secret  *secretsmanager.Secret
	Version *secretsmanager.SecretVersion
}

// NewSecretsManagerSecret registers a secret and its version with the
// given project.
func NewSecretsManagerSecret(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *SecretsManagerSecretArgs, opts ...pulumi.ResourceOption) (*SecretsManagerSecret, error) {
	if args == nil {
		args = &SecretsManagerSecretArgs{}
	}

	sms := &SecretsManagerSecret{}
	err := tbpulumi.NewComponent(ctx, "tb:secrets:SecretsManagerSecret", name, project, sms,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	sms.Secret, err = secretsmanager.NewSecret(ctx, fmt.Sprintf("%s-secret", name), &secretsmanager.SecretArgs{
		Name: pulumi.String(args.SecretName),
		Tags: sms.PulumiTags(),
	}, pulumi.Parent(sms))
	if err != nil {
		return nil, fmt.Errorf("failed to build secret %s: %w", name, err)
	}

	sms.Version, err = secretsmanager.NewSecretVersion(ctx, fmt.Sprintf("%s-secretversion", name),
		&secretsmanager.SecretVersionArgs{
			SecretId:     sms.Secret.ID(),
			SecretString: args.SecretValue,
		}, pulumi.Parent(sms), pulumi.DependsOn([]pulumi.Resource{sms.Secret}))
	if err != nil {
		return nil, err
	}

	err = sms.Finish(ctx, nil, tbpulumi.ResourceMap{
		"secret":  sms.Secret,
		"version": sms.Version,
	})
	if err != nil {
		return nil, err
	}
	return sms, nil
}

// PulumiSecretsManagerArgs configures a PulumiSecretsManager.
type PulumiSecretsManagerArgs struct {
	// SecretNames lists secrets as they are known to Pulumi config.
	SecretNames []string
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// PulumiSecretsManager mirrors selected Pulumi config secrets into AWS
// Secrets Manager and produces an IAM policy granting read access to
// them. The policy is not attached to anything; it exists for use in CI
// flows and ECS task execution roles.
type PulumiSecretsManager struct {
	tbpulumi.ComponentResource

	Secrets []*SecretsManagerSecret
	Policy  *iam.Policy
}

// NewPulumiSecretsManager registers the mirrored secrets and their
// access policy with the given project.
func NewPulumiSecretsManager(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *PulumiSecretsManagerArgs, opts ...pulumi.ResourceOption) (*PulumiSecretsManager, error) {
	if args == nil {
		args = &PulumiSecretsManagerArgs{}
	}

	psm := &PulumiSecretsManager{}
	err := tbpulumi.NewComponent(ctx, "tb:secrets:PulumiSecretsManager", name, project, psm,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	secretArns := make([]any, 0, len(args.SecretNames))
	secretDeps := make([]pulumi.Resource, 0, len(args.SecretNames))
	for _, secretName := range args.SecretNames {
		secret, err := NewSecretsManagerSecret(ctx, fmt.Sprintf("%s-%s", name, secretName), project,
			&SecretsManagerSecretArgs{
				SecretName:         project.SecretPath(secretName),
				SecretValue:        project.PulumiConfig().RequireSecret(secretName),
				Tags:               psm.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(psm))
		if err != nil {
			return nil, err
		}
		psm.Secrets = append(psm.Secrets, secret)
		secretArns = append(secretArns, secret.Secret.Arn)
		secretDeps = append(secretDeps, secret)
	}

	policyJson := pulumi.All(secretArns...).ApplyT(func(arns []any) (string, error) {
		resources := make([]string, len(arns))
		for i, arn := range arns {
			resources[i] = arn.(string)
		}
		doc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      "AllowSecretsAccess",
			Effect:   "Allow",
			Action:   "secretsmanager:GetSecretValue",
			Resource: resources,
		})
		return doc.JSON()
	}).(pulumi.StringOutput)

	psm.Policy, err = iam.NewPolicy(ctx, fmt.Sprintf("%s-policy", name), &iam.PolicyArgs{
		Name:        pulumi.String(name),
		Description: pulumi.Sprintf("Allows access to secrets related to %s", name),
		Policy:      policyJson,
		Tags:        psm.PulumiTags(),
	}, pulumi.Parent(psm), pulumi.DependsOn(secretDeps))
	if err != nil {
		return nil, err
	}

	err = psm.Finish(ctx, nil, tbpulumi.ResourceMap{
		"secrets": psm.Secrets,
		"policy":  psm.Policy,
	})
	if err != nil {
		return nil, err
	}
	return psm, nil
}
