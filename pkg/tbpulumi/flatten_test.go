package tbpulumi

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
)

type fakeResource struct {
	pulumi.ResourceState
}

type fakeGroup struct {
	ComponentResource
}

func TestFlatten(t *testing.T) {
	a := &fakeResource{}
	b := &fakeResource{}
	c := &fakeResource{}

	nested := &fakeGroup{}
	nested.resources = ResourceMap{"inner": c}

	p := testProject()
	p.register("group1", ResourceMap{
		"single": a,
		"list":   []*fakeResource{a, b},
		"nested": ResourceMap{"deep": b},
		"group":  nested,
	})

	flat := p.Flatten()
	assert.Len(t, flat, 3)
	assert.Contains(t, flat, pulumi.Resource(a))
	assert.Contains(t, flat, pulumi.Resource(b))
	assert.Contains(t, flat, pulumi.Resource(c))
}

func TestFlattenSkipsNilMembers(t *testing.T) {
	p := testProject()
	var absent *fakeResource
	p.register("group1", ResourceMap{
		"typed nil": absent,
		"plain nil": nil,
		"present":   &fakeResource{},
	})
	assert.Len(t, p.Flatten(), 1)
}

func TestFlattenDeduplicatesAcrossGroups(t *testing.T) {
	shared := &fakeResource{}
	p := testProject()
	p.register("group1", ResourceMap{"res": shared})
	p.register("group2", ResourceMap{"res": shared})
	assert.Len(t, p.Flatten(), 1)
}

func TestFlattenConcretelyTypedMaps(t *testing.T) {
	p := testProject()
	p.register("group1", ResourceMap{
		"by name": map[string]*fakeResource{
			"one": {},
			"two": {},
		},
	})
	assert.Len(t, p.Flatten(), 2)
}
