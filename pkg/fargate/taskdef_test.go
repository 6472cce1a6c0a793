package fargate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderContainerDefinitions(t *testing.T) {
	defs := map[string]ContainerDefinition{
		"web": {
			"image": "myapp:latest",
			"portMappings": []map[string]any{
				{"containerPort": 8080},
			},
		},
		"sidecar": {
			"image": "envoy:latest",
			"logConfiguration": map[string]any{
				"logDriver": "splunk",
			},
		},
	}

	rendered, err := RenderContainerDefinitions(defs, "myapp-stage-fargate-logs", "us-east-1")
	require.NoError(t, err)

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &parsed))
	require.Len(t, parsed, 2)

	// Containers render in name order.
	assert.Equal(t, "sidecar", parsed[0]["name"])
	assert.Equal(t, "web", parsed[1]["name"])

	// An explicit log configuration is left alone.
	sidecarLogs := parsed[0]["logConfiguration"].(map[string]any)
	assert.Equal(t, "splunk", sidecarLogs["logDriver"])

	// Containers without one get pointed at the cluster's log group.
	webLogs := parsed[1]["logConfiguration"].(map[string]any)
	assert.Equal(t, "awslogs", webLogs["logDriver"])
	options := webLogs["options"].(map[string]any)
	assert.Equal(t, "myapp-stage-fargate-logs", options["awslogs-group"])
	assert.Equal(t, "us-east-1", options["awslogs-region"])
}

func TestRenderContainerDefinitionsDoesNotModifyInput(t *testing.T) {
	defs := map[string]ContainerDefinition{
		"web": {"image": "myapp:latest"},
	}
	_, err := RenderContainerDefinitions(defs, "logs", "us-east-1")
	require.NoError(t, err)

	assert.NotContains(t, defs["web"], "name")
	assert.NotContains(t, defs["web"], "logConfiguration")
}

func TestRenderContainerDefinitionsEmpty(t *testing.T) {
	rendered, err := RenderContainerDefinitions(nil, "logs", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "[]", rendered)
}
