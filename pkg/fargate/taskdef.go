package fargate

import (
	"encoding/json"
	"sort"
)

// ContainerDefinition is a single container entry in an ECS task
// definition, expressed as the raw keys ECS expects.
type ContainerDefinition map[string]any

// TaskDefinitionSpec describes the tasks a Fargate cluster runs. The
// container definitions are keyed by container name.
type TaskDefinitionSpec struct {
	Cpu                     string
	Memory                  string
	NetworkMode             string
	RequiresCompatibilities []string
	ContainerDefinitions    map[string]ContainerDefinition
}

// RenderContainerDefinitions produces the JSON document ECS expects for
// a task's containers. Each container is named after its key, and any
// container without an explicit log configuration is pointed at the
// cluster's log group using the awslogs driver. Containers render in
// name order so the document is stable.
func RenderContainerDefinitions(defs map[string]ContainerDefinition, logGroupName, awsRegion string) (string, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	rendered := make([]map[string]any, 0, len(names))
	for _, name := range names {
		def := map[string]any{}
		for k, v := range defs[name] {
			def[k] = v
		}
		if _, ok := def["logConfiguration"]; !ok {
			def["logConfiguration"] = map[string]any{
				"logDriver": "awslogs",
				"options": map[string]any{
					"awslogs-group":         logGroupName,
					"awslogs-create-group":  "true",
					"awslogs-region":        awsRegion,
					"awslogs-stream-prefix": "ecs",
				},
			}
		}
		def["name"] = name
		rendered = append(rendered, def)
	}

	data, err := json.Marshal(rendered)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
