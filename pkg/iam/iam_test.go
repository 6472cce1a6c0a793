package iam

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
)

func TestTitleAlnum(t *testing.T) {
	tests := []struct {
		name     string
		parts    []string
		expected string
	}{
		{name: "single word", parts: []string{"myapp"}, expected: "Myapp"},
		{name: "dashed words", parts: []string{"my-app"}, expected: "MyApp"},
		{name: "multiple parts", parts: []string{"my-app", "stage", "s3"}, expected: "MyAppStageS3"},
		{name: "digits end a word", parts: []string{"ec2instance"}, expected: "Ec2Instance"},
		{name: "punctuation stripped", parts: []string{"my_app.web"}, expected: "MyAppWeb"},
		{name: "empty input", parts: nil, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, titleAlnum(tt.parts...))
		})
	}
}

type arnCarrier struct {
	pulumi.ResourceState
	Arn pulumi.StringOutput
}

type arnlessResource struct {
	pulumi.ResourceState
}

type pointerArnResource struct {
	pulumi.ResourceState
	Arn pulumi.StringPtrOutput
}

func TestResourceArns(t *testing.T) {
	resources := []pulumi.Resource{
		&arnCarrier{},
		&arnlessResource{},
		&pointerArnResource{},
		(*arnCarrier)(nil),
		&arnCarrier{},
	}
	arns := resourceArns(resources)
	assert.Len(t, arns, 2)
}
