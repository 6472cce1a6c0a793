// Package iam builds access management patterns: stack-wide access
// policies derived from the resources a project actually contains, and
// IAM users with rotatable access keys stored in Secrets Manager.
package iam

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"

	awsiam "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/secrets"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// StackAccessPoliciesArgs configures a StackAccessPolicies group.
type StackAccessPoliciesArgs struct {
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
}

// StackAccessPolicies creates, for every AWS service the project uses,
// one IAM policy granting read-only access and one granting admin
// access to the project's resources, then collects them into a
// read-only user group and an admin user group.
//
// Policy documents may be no longer than 6,144 characters, and users
// and groups can only hold 10 attached policies, so listing every
// resource ARN in full does not scale. Resources named with the
// project's name prefix collapse into a single wildcard pattern per
// service; resources whose ARNs carry generated IDs instead of names
// are listed out explicitly.
//
// Build this group after every other resource group in the program so
// the project registry is complete when the ARNs are gathered.
type StackAccessPolicies struct {
	tbpulumi.ComponentResource

	AdminGroup    *awsiam.Group
	ReadonlyGroup *awsiam.Group
	// AdminPolicies and ReadonlyPolicies are keyed by AWS service name.
	AdminPolicies    map[string]*awsiam.Policy
	ReadonlyPolicies map[string]*awsiam.Policy
}

// NewStackAccessPolicies registers the per-service policies and user
// groups with the given project. The policies are built inside an
// output continuation once every resource ARN in the project has
// resolved.
func NewStackAccessPolicies(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *StackAccessPoliciesArgs, opts ...pulumi.ResourceOption) (*StackAccessPolicies, error) {
	if args == nil {
		args = &StackAccessPoliciesArgs{}
	}

	sap := &StackAccessPolicies{
		AdminPolicies:    map[string]*awsiam.Policy{},
		ReadonlyPolicies: map[string]*awsiam.Policy{},
	}
	err := tbpulumi.NewComponent(ctx, "tb:iam:StackAccessPolicies", name, project, sap,
		&tbpulumi.ComponentArgs{Tags: args.Tags}, opts...)
	if err != nil {
		return nil, err
	}

	arnOutputs := resourceArns(project.Flatten())
	allArns := make([]any, len(arnOutputs))
	for i, arn := range arnOutputs {
		allArns[i] = arn
	}

	pulumi.All(allArns...).ApplyT(func(vals []any) (bool, error) {
		arns := make([]string, 0, len(vals))
		for _, val := range vals {
			if arn, ok := val.(string); ok && arn != "" {
				arns = append(arns, arn)
			}
		}
		if err := sap.buildPolicies(ctx, name, project, arns); err != nil {
			return false, err
		}
		return true, nil
	})

	return sap, nil
}

func (sap *StackAccessPolicies) buildPolicies(ctx *pulumi.Context, name string, project *tbpulumi.Project, arns []string) error {
	// The services in use by this project, extracted from the ARNs.
	serviceSet := map[string]struct{}{}
	for _, arn := range arns {
		if parts := strings.Split(arn, ":"); len(parts) > 2 {
			serviceSet[parts[2]] = struct{}{}
		}
	}
	services := make([]string, 0, len(serviceSet))
	for service := range serviceSet {
		services = append(services, service)
	}
	sort.Strings(services)

	for _, service := range services {
		// ARNs containing the project's name prefix collapse into one
		// pattern. The Go regex used to sort ARNs into common and
		// uncommon differs from the wildcard pattern that means the
		// same thing in an IAM policy, so both forms are built here.
		var commonArnRegex, commonArnPolicyPattern string
		switch service {
		case "iam":
			// IAM ARNs have a path component after the account ID which
			// cannot be wildcarded; a resource per known path is listed
			// below.
			commonArnRegex = fmt.Sprintf(`^arn:aws:%s:(%s)*:%s:.*%s.*`,
				service, project.AwsRegion, project.AwsAccountID, project.NamePrefix)
			commonArnPolicyPattern = fmt.Sprintf("arn:aws:%s::%s:<path>/*%s*",
				service, project.AwsAccountID, project.NamePrefix)
		case "s3":
			// S3 ARNs have no account ID in them.
			commonArnRegex = fmt.Sprintf(`^arn:aws:%s:(%s)*:%s:.*%s.*`,
				service, project.AwsRegion, project.AwsAccountID, project.NamePrefix)
			commonArnPolicyPattern = fmt.Sprintf("arn:aws:%s:::*%s*", service, project.NamePrefix)
		case "secretsmanager":
			// Secrets Manager tends to use slashes instead of dashes.
			slashed := strings.ReplaceAll(project.NamePrefix, "-", "/")
			commonArnRegex = fmt.Sprintf(`^arn:aws:%s:.*:%s:.*%s.*`,
				service, project.AwsAccountID, slashed)
			commonArnPolicyPattern = fmt.Sprintf("arn:aws:%s:*:%s:*%s*",
				service, project.AwsAccountID, slashed)
		default:
			commonArnRegex = fmt.Sprintf(`^arn:aws:%s:(%s)*:%s:.*%s.*`,
				service, project.AwsRegion, project.AwsAccountID, project.NamePrefix)
			commonArnPolicyPattern = fmt.Sprintf("arn:aws:%s:*:%s:*%s*",
				service, project.AwsAccountID, project.NamePrefix)
		}

		commonRe, err := regexp.Compile(commonArnRegex)
		if err != nil {
			return fmt.Errorf("failed to compile the common ARN pattern for %s: %w", service, err)
		}

		// ARNs for many resources (security groups, VPCs and so on) do
		// not carry names and must be listed out by ID.
		uncommonArns := []string{}
		for _, arn := range arns {
			if parts := strings.Split(arn, ":"); len(parts) > 2 && parts[2] == service {
				if !commonRe.MatchString(arn) {
					uncommonArns = append(uncommonArns, arn)
				}
			}
		}

		// "Describe" and "List" actions are typically safe for
		// read-only access. "Get" actions usually are too, but Secrets
		// Manager's GetSecretValue often exposes credentials granting
		// administrative access to other systems, which would
		// constitute a privilege escalation for a read-only user.
		readonlyActions := []string{
			fmt.Sprintf("%s:Describe*", service),
			fmt.Sprintf("%s:List*", service),
		}
		if service != "secretsmanager" {
			readonlyActions = append(readonlyActions, fmt.Sprintf("%s:Get*", service))
		}

		var resources []string
		if service == "iam" {
			for _, path := range constants.IamResourcePaths {
				resources = append(resources, strings.ReplaceAll(commonArnPolicyPattern, "<path>", path))
			}
		} else {
			resources = []string{commonArnPolicyPattern}
		}
		resources = append(resources, uncommonArns...)

		// Statement IDs must be alphanumeric, so the inputs get
		// normalized against that constraint.
		sidPrefix := titleAlnum(project.Name, project.Stack, service)

		readonlyDoc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      fmt.Sprintf("%sReadOnly", sidPrefix),
			Effect:   "Allow",
			Action:   readonlyActions,
			Resource: resources,
		})
		readonlyJson, err := readonlyDoc.JSON()
		if err != nil {
			return err
		}
		policyName := fmt.Sprintf("%s-policy-%s-readonly", name, service)
		sap.ReadonlyPolicies[service], err = awsiam.NewPolicy(ctx, policyName, &awsiam.PolicyArgs{
			Name:        pulumi.String(policyName),
			Description: pulumi.Sprintf("Allow read-only access to %s resources in the %s stack", service, project.NamePrefix),
			Path:        pulumi.String("/"),
			Policy:      pulumi.String(readonlyJson),
			Tags:        sap.PulumiTags(),
		}, pulumi.Parent(sap))
		if err != nil {
			return err
		}

		adminDoc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      fmt.Sprintf("%sAdmin", sidPrefix),
			Effect:   "Allow",
			Action:   []string{"*"},
			Resource: resources,
		})
		adminJson, err := adminDoc.JSON()
		if err != nil {
			return err
		}
		policyName = fmt.Sprintf("%s-policy-%s-admin", name, service)
		sap.AdminPolicies[service], err = awsiam.NewPolicy(ctx, policyName, &awsiam.PolicyArgs{
			Name:        pulumi.String(policyName),
			Description: pulumi.Sprintf("Allow admin access to %s resources in the %s stack", service, project.NamePrefix),
			Path:        pulumi.String("/"),
			Policy:      pulumi.String(adminJson),
			Tags:        sap.PulumiTags(),
		}, pulumi.Parent(sap))
		if err != nil {
			return err
		}
	}

	var err error
	sap.AdminGroup, err = awsiam.NewGroup(ctx, fmt.Sprintf("%s-usergroup-admin", name), &awsiam.GroupArgs{
		Name: pulumi.Sprintf("%s-admin", name),
	}, pulumi.Parent(sap))
	if err != nil {
		return err
	}
	adminAttachments := map[string]*awsiam.GroupPolicyAttachment{}
	for _, service := range services {
		adminAttachments[service], err = awsiam.NewGroupPolicyAttachment(ctx,
			fmt.Sprintf("%s-gpa-admin-%s", name, service), &awsiam.GroupPolicyAttachmentArgs{
				Group:     sap.AdminGroup.Name,
				PolicyArn: sap.AdminPolicies[service].Arn,
			}, pulumi.Parent(sap))
		if err != nil {
			return err
		}
	}

	sap.ReadonlyGroup, err = awsiam.NewGroup(ctx, fmt.Sprintf("%s-usergroup-readonly", name), &awsiam.GroupArgs{
		Name: pulumi.Sprintf("%s-readonly", name),
	}, pulumi.Parent(sap))
	if err != nil {
		return err
	}
	readonlyAttachments := map[string]*awsiam.GroupPolicyAttachment{}
	for idx, service := range services {
		readonlyAttachments[service], err = awsiam.NewGroupPolicyAttachment(ctx,
			fmt.Sprintf("%s-gpa-readonly-%d", name, idx), &awsiam.GroupPolicyAttachmentArgs{
				Group:     sap.ReadonlyGroup.Name,
				PolicyArn: sap.ReadonlyPolicies[service].Arn,
			}, pulumi.Parent(sap))
		if err != nil {
			return err
		}
	}

	return sap.Finish(ctx, nil, tbpulumi.ResourceMap{
		"admin_group":                 sap.AdminGroup,
		"admin_policies":              sap.AdminPolicies,
		"admin_policy_attachments":    adminAttachments,
		"readonly_group":              sap.ReadonlyGroup,
		"readonly_policies":           sap.ReadonlyPolicies,
		"readonly_policy_attachments": readonlyAttachments,
	})
}

// UserWithAccessKeyArgs configures a UserWithAccessKey.
type UserWithAccessKeyArgs struct {
	// UserName names the IAM user.
	UserName string
	// AccessKeys maps arbitrary key names to an active flag. To rotate
	// an access key, first add a new active key. Update the
	// credentials wherever your implementation requires, then set the
	// old key's entry to false to deactivate it. If something
	// unexpected breaks it can still be reactivated. When the rotation
	// has settled, delete the old key by removing its entry.
	AccessKeys map[string]bool
	// Groups lists IAM groups to make the user a member of.
	Groups []*awsiam.Group
	// Policies lists extra IAM policies to attach to the user.
	Policies []*awsiam.Policy
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// UserWithAccessKey builds an IAM user with a set of access key
// credentials, stores each credential pair in a Secrets Manager
// secret, and creates an IAM policy granting access to those secrets.
// The user gets that policy attached as well as any additional
// policies provided.
type UserWithAccessKey struct {
	tbpulumi.ComponentResource

	User *awsiam.User
	// AccessKeys and AccessKeySecrets are keyed by the names given in
	// UserWithAccessKeyArgs.AccessKeys.
	AccessKeys        map[string]*awsiam.AccessKey
	AccessKeySecrets  map[string]*secrets.SecretsManagerSecret
	GroupMembership   *awsiam.UserGroupMembership
	Policy            *awsiam.Policy
	PolicyAttachments []*awsiam.PolicyAttachment
}

type accessKeyCredentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// NewUserWithAccessKey registers the user, its keys, and their secrets
// with the given project.
func NewUserWithAccessKey(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *UserWithAccessKeyArgs, opts ...pulumi.ResourceOption) (*UserWithAccessKey, error) {
	if args == nil {
		args = &UserWithAccessKeyArgs{}
	}

	uak := &UserWithAccessKey{
		AccessKeys:       map[string]*awsiam.AccessKey{},
		AccessKeySecrets: map[string]*secrets.SecretsManagerSecret{},
	}
	err := tbpulumi.NewComponent(ctx, "tb:iam:UserWithAccessKey", name, project, uak,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	uak.User, err = awsiam.NewUser(ctx, fmt.Sprintf("%s-user", name), &awsiam.UserArgs{
		Name: pulumi.String(args.UserName),
		Path: pulumi.String("/"),
		Tags: uak.PulumiTags(),
	}, pulumi.Parent(uak))
	if err != nil {
		return nil, fmt.Errorf("failed to build user %s: %w", args.UserName, err)
	}

	keyNames := make([]string, 0, len(args.AccessKeys))
	for keyName := range args.AccessKeys {
		keyNames = append(keyNames, keyName)
	}
	sort.Strings(keyNames)

	secretBaseName := project.SecretPath(fmt.Sprintf("iam.user.%s.access_key", args.UserName))
	secretDeps := make([]pulumi.Resource, 0, len(keyNames))
	for _, keyName := range keyNames {
		status := "Inactive"
		if args.AccessKeys[keyName] {
			status = "Active"
		}
		key, err := awsiam.NewAccessKey(ctx, fmt.Sprintf("%s-key-%s", name, keyName), &awsiam.AccessKeyArgs{
			User:   uak.User.Name,
			Status: pulumi.String(status),
		}, pulumi.Parent(uak), pulumi.DependsOn([]pulumi.Resource{uak.User}))
		if err != nil {
			return nil, err
		}
		uak.AccessKeys[keyName] = key

		credentials := pulumi.All(key.ID().ToStringOutput(), key.Secret).ApplyT(func(vals []any) (string, error) {
			data, err := json.Marshal(accessKeyCredentials{
				AccessKeyID:     vals[0].(string),
				SecretAccessKey: vals[1].(string),
			})
			return string(data), err
		}).(pulumi.StringOutput)

		secret, err := secrets.NewSecretsManagerSecret(ctx, fmt.Sprintf("%s-keysecret-%s", name, keyName), project,
			&secrets.SecretsManagerSecretArgs{
				SecretName:         fmt.Sprintf("%s.%s", secretBaseName, keyName),
				SecretValue:        pulumi.ToSecret(credentials).(pulumi.StringOutput),
				Tags:               uak.Tags,
				ExcludeFromProject: true,
			}, pulumi.Parent(uak), pulumi.DependsOn([]pulumi.Resource{key}))
		if err != nil {
			return nil, err
		}
		uak.AccessKeySecrets[keyName] = secret
		secretDeps = append(secretDeps, secret)
	}

	secretArns := make([]any, 0, len(keyNames))
	for _, keyName := range keyNames {
		secretArns = append(secretArns, uak.AccessKeySecrets[keyName].Secret.Arn)
	}
	policyJson := pulumi.All(secretArns...).ApplyT(func(arns []any) (string, error) {
		// An extra pattern per ARN allows for all secret versions.
		allArns := make([]string, 0, len(arns)*2)
		for _, arn := range arns {
			allArns = append(allArns, arn.(string), fmt.Sprintf("%s*", arn.(string)))
		}
		doc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:    "AllowSecretAccess",
			Effect: "Allow",
			Action: []string{
				"secretsmanager:DescribeSecret",
				"secretsmanager:GetResourcePolicy",
				"secretsmanager:GetSecretValue",
				"secretsmanager:ListSecretVersionIds",
			},
			Resource: allArns,
		})
		return doc.JSON()
	}).(pulumi.StringOutput)

	uak.Policy, err = awsiam.NewPolicy(ctx, fmt.Sprintf("%s-keypolicy", name), &awsiam.PolicyArgs{
		Name:        pulumi.Sprintf("%s-key-access", args.UserName),
		Description: pulumi.Sprintf("Allows access to the secrets which store access key data for user %s", args.UserName),
		Path:        pulumi.String("/"),
		Policy:      policyJson,
		Tags:        uak.PulumiTags(),
	}, pulumi.Parent(uak), pulumi.DependsOn(secretDeps))
	if err != nil {
		return nil, err
	}

	groupNames := make(pulumi.StringArray, len(args.Groups))
	for i, group := range args.Groups {
		groupNames[i] = group.Name
	}
	uak.GroupMembership, err = awsiam.NewUserGroupMembership(ctx, fmt.Sprintf("%s-gpmbr", name),
		&awsiam.UserGroupMembershipArgs{
			Groups: groupNames,
			User:   uak.User.Name,
		}, pulumi.Parent(uak))
	if err != nil {
		return nil, err
	}

	attachmentDeps := []pulumi.Resource{uak.User, uak.Policy}
	userPolicyArns := []pulumi.StringOutput{uak.Policy.Arn}
	for _, policy := range args.Policies {
		userPolicyArns = append(userPolicyArns, policy.Arn)
		attachmentDeps = append(attachmentDeps, policy)
	}
	for idx, arn := range userPolicyArns {
		attachment, err := awsiam.NewPolicyAttachment(ctx, fmt.Sprintf("%s-polatt-%d", name, idx),
			&awsiam.PolicyAttachmentArgs{
				PolicyArn: arn,
				Users:     pulumi.Array{uak.User.Name},
			}, pulumi.Parent(uak), pulumi.DependsOn(attachmentDeps))
		if err != nil {
			return nil, err
		}
		uak.PolicyAttachments = append(uak.PolicyAttachments, attachment)
	}

	err = uak.Finish(ctx, nil, tbpulumi.ResourceMap{
		"access_keys":        uak.AccessKeys,
		"access_key_secrets": uak.AccessKeySecrets,
		"group_membership":   uak.GroupMembership,
		"policy":             uak.Policy,
		"policy_attachments": uak.PolicyAttachments,
		"user":               uak.User,
	})
	if err != nil {
		return nil, err
	}
	return uak, nil
}

// resourceArns collects the ARN output of every resource that exposes
// one. Resources whose ARN is optional in the provider schema are
// skipped.
func resourceArns(resources []pulumi.Resource) []pulumi.StringOutput {
	arns := []pulumi.StringOutput{}
	for _, res := range resources {
		rv := reflect.ValueOf(res)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			continue
		}
		field := rv.Elem().FieldByName("Arn")
		if !field.IsValid() {
			continue
		}
		if arn, ok := field.Interface().(pulumi.StringOutput); ok {
			arns = append(arns, arn)
		}
	}
	return arns
}

// titleAlnum joins the given parts into an alphanumeric identifier
// with each word's leading letter capitalized.
func titleAlnum(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		prevLetter := false
		for _, r := range part {
			switch {
			case unicode.IsLetter(r):
				if prevLetter {
					b.WriteRune(unicode.ToLower(r))
				} else {
					b.WriteRune(unicode.ToUpper(r))
				}
				prevLetter = true
			case unicode.IsDigit(r):
				b.WriteRune(r)
				prevLetter = false
			default:
				prevLetter = false
			}
		}
	}
	return b.String()
}
