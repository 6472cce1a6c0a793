// Package tbtesting provides the mocked Pulumi engine used by resource
// group tests.
package tbtesting

import (
	"fmt"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/thunderbird/pulumi-go/pkg/tbpulumi"
)

// Mocks answers engine requests during tests. Every resource resolves
// immediately with its inputs echoed back as outputs, plus a synthetic
// ARN. CallF, when set, handles provider function invokes the defaults
// below do not cover.
type Mocks struct {
	CallF func(args pulumi.MockCallArgs) (resource.PropertyMap, error)
}

func (m Mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	outputs := args.Inputs.Copy()
	outputs["arn"] = resource.NewStringProperty(
		fmt.Sprintf("arn:aws:mock:us-east-1:123456789012:%s", args.Name))
	return args.Name + "_id", outputs, nil
}

func (m Mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	switch args.Token {
	case "aws:index/getCallerIdentity:getCallerIdentity":
		return resource.PropertyMap{
			"accountId": resource.NewStringProperty("123456789012"),
		}, nil
	case "aws:index/getRegion:getRegion":
		return resource.PropertyMap{
			"name": resource.NewStringProperty("us-east-1"),
		}, nil
	case "aws:s3/getCanonicalUserId:getCanonicalUserId":
		return resource.PropertyMap{
			"id": resource.NewStringProperty("mock-canonical-user-id"),
		}, nil
	}
	if m.CallF != nil {
		return m.CallF(args)
	}
	return resource.PropertyMap{}, nil
}

// Run executes a Pulumi program against the mocked engine under the
// project "myapp" and stack "stage", failing the test on error.
func Run(t *testing.T, program func(ctx *pulumi.Context) error) {
	t.Helper()
	err := pulumi.RunErr(program, pulumi.WithMocks("myapp", "stage", Mocks{}))
	require.NoError(t, err)
}

// NewProject builds a Project backed by an in-memory filesystem.
func NewProject(t *testing.T, ctx *pulumi.Context) *tbpulumi.Project {
	t.Helper()
	project, err := tbpulumi.NewProject(ctx, tbpulumi.WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	return project
}
