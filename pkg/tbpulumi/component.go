package tbpulumi

import (
	"fmt"
	"maps"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// ComponentResource is the embeddable base of every resource group. It
// ties the group to its Project, applies merged tagging, and provides
// the Finish step that publishes the group's outputs and registers its
// members with the project.
type ComponentResource struct {
	pulumi.ResourceState

	// Name is the logical name of the resource group.
	Name string
	// Project is the project this group belongs to.
	Project *Project
	// Tags are the project's common tags merged with the group's own,
	// with the group's values winning.
	Tags map[string]string

	resources          ResourceMap
	excludeFromProject bool
}

// ComposedResource is any resource group built on ComponentResource.
type ComposedResource interface {
	pulumi.Resource
	base() *ComponentResource
}

func (c *ComponentResource) base() *ComponentResource { return c }

// ComponentArgs carries the options common to every resource group
// constructor.
type ComponentArgs struct {
	// Tags are merged over the project's common tags.
	Tags map[string]string
	// ExcludeFromProject keeps the group out of the project registry.
	// Groups nested inside other groups set this so their members are
	// not counted twice by bulk operations.
	ExcludeFromProject bool
}

// NewComponent registers comp with the Pulumi engine as a component of
// the given type and fills in its embedded base. When the project's
// stack is protected, the component and the resources parented to it
// default to protected; callers may still override per resource.
func NewComponent(ctx *pulumi.Context, pulumiType, name string, project *Project, comp ComposedResource, args *ComponentArgs, opts ...pulumi.ResourceOption) error {
	if args == nil {
		args = &ComponentArgs{}
	}
	protect := project.ProtectResources()
	if protect {
		ctx.Log.Info(fmt.Sprintf(
			"Resource protection has been enabled on %s. To disable, set %s=false",
			name, ProtectionEnvVar), nil)
	}

	base := comp.base()
	base.Name = name
	base.Project = project
	base.Tags = MergeTags(project.CommonTags, args.Tags)
	base.excludeFromProject = args.ExcludeFromProject

	// The engine populates resource state through a direct ResourceState
	// field only; it does not see one promoted through the embedded
	// base. Register the base itself, which the group shares.
	allOpts := append([]pulumi.ResourceOption{pulumi.Protect(protect)}, opts...)
	return ctx.RegisterComponentResource(pulumiType, name, base, allOpts...)
}

// Finish completes the construction of a resource group. It publishes
// the group's outputs to the engine and records the resource map in the
// project registry. Groups that assemble resources inside output
// continuations call Finish from within the continuation, after the last
// resource exists.
func (c *ComponentResource) Finish(ctx *pulumi.Context, outputs pulumi.Map, resources ResourceMap) error {
	if outputs == nil {
		outputs = pulumi.Map{}
	}
	if resources == nil {
		resources = ResourceMap{}
	}
	c.resources = resources
	if !c.excludeFromProject {
		c.Project.register(c.Name, resources)
	}
	return ctx.RegisterResourceOutputs(c, outputs)
}

// Resources returns the group's registered resource map.
func (c *ComponentResource) Resources() ResourceMap {
	return c.resources
}

// TagsWith returns the group's tags merged with extra pairs, converted
// for use in resource arguments. Extra pairs win on conflict.
func (c *ComponentResource) TagsWith(extra map[string]string) pulumi.StringMap {
	return pulumi.ToStringMap(MergeTags(c.Tags, extra))
}

// PulumiTags returns the group's tags converted for use in resource
// arguments.
func (c *ComponentResource) PulumiTags() pulumi.StringMap {
	return pulumi.ToStringMap(c.Tags)
}

// MergeTags combines tag maps left to right, with later maps winning on
// conflict. The inputs are not modified.
func MergeTags(tagMaps ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, tags := range tagMaps {
		maps.Copy(merged, tags)
	}
	return merged
}
