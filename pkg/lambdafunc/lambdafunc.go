// Package lambdafunc builds Lambda function patterns. The package is
// not called "lambda" to avoid colliding with the provider package of
// that name.
package lambdafunc

import (
	"fmt"

	awsiam "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/iam"
	awslambda "github.com/pulumi/pulumi-aws/sdk/v6/go/aws/lambda"
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/scheduler"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/thunderbird/pulumi-go/pkg/constants"
	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// LambdaFunctionArgs configures a LambdaFunction.
type LambdaFunctionArgs struct {
	// Policies lists IAM policies to attach to the execution role.
	Policies []*awsiam.Policy
	// Function configures the Lambda function itself: runtime,
	// handler, code, environment and so on. The role is managed here
	// and must be left unset.
	Function *awslambda.FunctionArgs
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// LambdaFunction builds a Lambda function with its own IAM execution
// role.
type LambdaFunction struct {
	tbpulumi.ComponentResource

	Role     *awsiam.Role
	Function *awslambda.Function
}

// NewLambdaFunction registers the function and its execution role
// with the given project.
func NewLambdaFunction(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *LambdaFunctionArgs, opts ...pulumi.ResourceOption) (*LambdaFunction, error) {
	if args == nil {
		args = &LambdaFunctionArgs{}
	}

	lf := &LambdaFunction{}
	err := tbpulumi.NewComponent(ctx, "tb:lambda:LambdaFunction", name, project, lf,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	arpJson, err := constants.AssumeRolePolicy("lambda.amazonaws.com").JSON()
	if err != nil {
		return nil, err
	}
	policyArns := make(pulumi.StringArray, len(args.Policies))
	for i, policy := range args.Policies {
		policyArns[i] = policy.Arn
	}
	lf.Role, err = awsiam.NewRole(ctx, fmt.Sprintf("%s-lambda-role", name), &awsiam.RoleArgs{
		AssumeRolePolicy:  pulumi.String(arpJson),
		Description:       pulumi.Sprintf("Execution role for lambda %s", name),
		ManagedPolicyArns: policyArns,
		Name:              pulumi.String(name),
		Tags:              lf.PulumiTags(),
	}, pulumi.Parent(lf))
	if err != nil {
		return nil, err
	}

	functionArgs := args.Function
	if functionArgs == nil {
		functionArgs = &awslambda.FunctionArgs{}
	}
	functionArgs.Role = lf.Role.Arn
	lf.Function, err = awslambda.NewFunction(ctx, fmt.Sprintf("%s-lambda-function", name), functionArgs,
		pulumi.Parent(lf), pulumi.DependsOn([]pulumi.Resource{lf.Role}))
	if err != nil {
		return nil, err
	}

	err = lf.Finish(ctx, nil, tbpulumi.ResourceMap{
		"lambda": lf.Function,
		"role":   lf.Role,
	})
	if err != nil {
		return nil, err
	}
	return lf, nil
}

// RateInvokedLambdaFunctionArgs configures a RateInvokedLambdaFunction.
type RateInvokedLambdaFunctionArgs struct {
	// Rate is the interval the function executes on, expressed as an
	// EventBridge Scheduler rate such as "5 minutes".
	Rate string
	// Function configures the underlying LambdaFunction.
	Function *LambdaFunctionArgs
	// Tags are applied to every taggable resource in the group.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	ExcludeFromProject bool
}

// RateInvokedLambdaFunction builds a Lambda function that executes on
// a recurring basis through an EventBridge Scheduler schedule. The
// scheduler gets its own role and invocation policy.
type RateInvokedLambdaFunction struct {
	tbpulumi.ComponentResource

	Lambda   *LambdaFunction
	Policy   *awsiam.Policy
	Role     *awsiam.Role
	Schedule *scheduler.Schedule
}

// NewRateInvokedLambdaFunction registers the function and its
// schedule with the given project.
func NewRateInvokedLambdaFunction(ctx *pulumi.Context, name string, project *tbpulumi.Project, args *RateInvokedLambdaFunctionArgs, opts ...pulumi.ResourceOption) (*RateInvokedLambdaFunction, error) {
	if args == nil {
		args = &RateInvokedLambdaFunctionArgs{}
	}
	if args.Rate == "" {
		return nil, fmt.Errorf("an invocation rate is required to build %s", name)
	}

	rlf := &RateInvokedLambdaFunction{}
	err := tbpulumi.NewComponent(ctx, "tb:lambda:RateInvokedLambdaFunction", name, project, rlf,
		&tbpulumi.ComponentArgs{Tags: args.Tags, ExcludeFromProject: args.ExcludeFromProject}, opts...)
	if err != nil {
		return nil, err
	}

	functionArgs := args.Function
	if functionArgs == nil {
		functionArgs = &LambdaFunctionArgs{}
	}
	functionArgs.Tags = rlf.Tags
	functionArgs.ExcludeFromProject = true
	rlf.Lambda, err = NewLambdaFunction(ctx, fmt.Sprintf("%s-function", name), project, functionArgs,
		pulumi.Parent(rlf))
	if err != nil {
		return nil, err
	}

	// The scheduler needs its own role and policy to invoke the
	// function.
	policyJson := rlf.Lambda.Function.Arn.ApplyT(func(lambdaArn string) (string, error) {
		doc := constants.IamPolicyDocument(constants.PolicyStatement{
			Sid:      "AllowLambdaInvocation",
			Effect:   "Allow",
			Action:   []string{"lambda:InvokeFunction"},
			Resource: []string{lambdaArn},
		})
		return doc.JSON()
	}).(pulumi.StringOutput)
	rlf.Policy, err = awsiam.NewPolicy(ctx, fmt.Sprintf("%s-scheduler-policy", name), &awsiam.PolicyArgs{
		Name:        pulumi.String(name),
		Policy:      policyJson,
		Description: pulumi.Sprintf("Policy for lambda scheduler %s", name),
		Tags:        rlf.PulumiTags(),
	}, pulumi.Parent(rlf))
	if err != nil {
		return nil, err
	}

	arpJson, err := constants.AssumeRolePolicy("scheduler.amazonaws.com").JSON()
	if err != nil {
		return nil, err
	}
	rlf.Role, err = awsiam.NewRole(ctx, fmt.Sprintf("%s-scheduler-role", name), &awsiam.RoleArgs{
		AssumeRolePolicy:  pulumi.String(arpJson),
		Description:       pulumi.Sprintf("Assume role policy for scheduler %s", name),
		ManagedPolicyArns: pulumi.StringArray{rlf.Policy.Arn},
		Name:              pulumi.String(name),
		Tags:              rlf.PulumiTags(),
	}, pulumi.Parent(rlf))
	if err != nil {
		return nil, err
	}

	rlf.Schedule, err = scheduler.NewSchedule(ctx, fmt.Sprintf("%s-schedule", name), &scheduler.ScheduleArgs{
		FlexibleTimeWindow: &scheduler.ScheduleFlexibleTimeWindowArgs{
			Mode: pulumi.String("OFF"),
		},
		ScheduleExpression: pulumi.Sprintf("rate(%s)", args.Rate),
		Target: &scheduler.ScheduleTargetArgs{
			Arn:     rlf.Lambda.Function.Arn,
			RoleArn: rlf.Role.Arn,
		},
		Description: pulumi.Sprintf("Schedule for lambda %s", name),
	}, pulumi.Parent(rlf), pulumi.DependsOn([]pulumi.Resource{rlf.Lambda, rlf.Role}))
	if err != nil {
		return nil, err
	}

	err = rlf.Finish(ctx, nil, tbpulumi.ResourceMap{
		"lambda":   rlf.Lambda,
		"policy":   rlf.Policy,
		"role":     rlf.Role,
		"schedule": rlf.Schedule,
	})
	if err != nil {
		return nil, err
	}
	return rlf, nil
}
