package stack

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExporter struct {
	rawState apitype.UntypedDeployment
	err      error
}

func (m *mockExporter) Export(ctx context.Context) (apitype.UntypedDeployment, error) {
	return m.rawState, m.err
}

func TestGetState(t *testing.T) {
	tests := []struct {
		name          string
		rawState      apitype.UntypedDeployment
		expectedError string
		expectedState State
	}{
		{
			name: "empty stack",
			rawState: apitype.UntypedDeployment{
				Version:    3,
				Deployment: json.RawMessage(`{"resources": [{"type": "pulumi:pulumi:Stack", "urn": "urn:pulumi:stage::myapp::pulumi:pulumi:Stack::myapp-stage", "outputs": {}}]}`),
			},
			expectedState: State{
				Version: 3,
				Outputs: map[string]any{},
			},
		},
		{
			name: "missing stack resource",
			rawState: apitype.UntypedDeployment{
				Version:    3,
				Deployment: json.RawMessage(`{"resources": [{"type": "aws:s3/bucket:Bucket", "urn": "urn:pulumi:stage::myapp::aws:s3/bucket:Bucket::mybucket", "outputs": {}}]}`),
			},
			expectedError: "could not find pulumi:pulumi:Stack resource in state",
		},
		{
			name: "outputs and resources indexed by urn",
			rawState: apitype.UntypedDeployment{
				Version: 3,
				Deployment: json.RawMessage(`{
					"resources": [
						{
							"type": "pulumi:pulumi:Stack",
							"urn": "urn:pulumi:stage::myapp::pulumi:pulumi:Stack::myapp-stage",
							"outputs": {"sns_topic_arn": "arn:aws:sns:us-east-1:111111111111:myapp-stage-alerting"}
						},
						{
							"type": "aws:s3/bucket:Bucket",
							"urn": "urn:pulumi:stage::myapp::aws:s3/bucket:Bucket::mybucket",
							"outputs": {}
						}
					]
				}`),
			},
			expectedState: State{
				Version: 3,
				Outputs: map[string]any{
					"sns_topic_arn": "arn:aws:sns:us-east-1:111111111111:myapp-stage-alerting",
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := GetState(context.Background(), &mockExporter{rawState: tt.rawState})
			if tt.expectedError != "" {
				require.EqualError(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedState.Version, state.Version)
			assert.Equal(t, tt.expectedState.Outputs, state.Outputs)
			for urn := range state.Resources {
				assert.Equal(t, urn, string(state.Resources[urn].URN))
			}
			assert.Len(t, state.Resources, len(state.Deployment.Resources))
		})
	}
}

func TestReferenceProtected(t *testing.T) {
	ref := Reference{
		StackName:       "prod",
		ProtectedStacks: []string{"prod", "staging"},
	}
	assert.True(t, ref.Protected())

	ref.StackName = "dev"
	assert.False(t, ref.Protected())

	ref.ProtectedStacks = nil
	assert.False(t, ref.Protected())
}
