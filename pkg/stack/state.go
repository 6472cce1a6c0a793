package stack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/common/apitype"

	"github.com/thunderbird/pulumi-go/pkg/logging"
)

// State is a deserialized view of an exported stack deployment.
type State struct {
	Version    int
	Deployment apitype.DeploymentV3
	Outputs    map[string]any
	// Resources is keyed by resource URN.
	Resources map[string]apitype.ResourceV3
}

// Exporter is the part of an automation API stack needed to read
// stack state.
type Exporter interface {
	Export(ctx context.Context) (apitype.UntypedDeployment, error)
}

// GetState exports the stack and extracts its outputs and resources.
func GetState(ctx context.Context, stack Exporter) (State, error) {
	log := logging.GetLogger(ctx).Named("pulumi.state").Sugar()

	rawState, err := stack.Export(ctx)
	if err != nil {
		return State{}, err
	}

	deployment := apitype.DeploymentV3{}
	err = json.Unmarshal(rawState.Deployment, &deployment)
	if err != nil {
		return State{}, err
	}

	var stackResource apitype.ResourceV3
	foundStackResource := false
	for _, res := range deployment.Resources {
		if res.Type == "pulumi:pulumi:Stack" {
			stackResource = res
			foundStackResource = true
			break
		}
	}
	if !foundStackResource {
		return State{}, fmt.Errorf("could not find pulumi:pulumi:Stack resource in state")
	}

	outputs := make(map[string]any, len(stackResource.Outputs))
	for key, value := range stackResource.Outputs {
		outputs[key] = value
	}

	resources := make(map[string]apitype.ResourceV3, len(deployment.Resources))
	for _, res := range deployment.Resources {
		resources[string(res.URN)] = res
	}
	log.Debugf("Exported %d resources from stack state", len(resources))

	return State{
		Version:    rawState.Version,
		Deployment: deployment,
		Outputs:    outputs,
		Resources:  resources,
	}, nil
}
