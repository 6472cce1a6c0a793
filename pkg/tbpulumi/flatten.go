package tbpulumi

import (
	"reflect"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Flatten walks the project registry and returns every distinct resource
// found in it, descending through nested maps, slices, and resource
// groups. The result is a flat list suitable for bulk inspection, such
// as monitoring dispatch.
func (p *Project) Flatten() []pulumi.Resource {
	p.mu.Lock()
	snapshot := make([]ResourceMap, 0, len(p.resources))
	for _, rm := range p.resources {
		snapshot = append(snapshot, rm)
	}
	p.mu.Unlock()

	seen := map[pulumi.Resource]struct{}{}
	var flat []pulumi.Resource
	for _, rm := range snapshot {
		flat = appendFlattened(flat, seen, rm)
	}
	return flat
}

func appendFlattened(flat []pulumi.Resource, seen map[pulumi.Resource]struct{}, item any) []pulumi.Resource {
	// Optional group members are registered as typed nil pointers.
	if rv := reflect.ValueOf(item); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return flat
	}
	switch v := item.(type) {
	case nil:
	case ComposedResource:
		for _, member := range v.base().resources {
			flat = appendFlattened(flat, seen, member)
		}
	case pulumi.Resource:
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			flat = append(flat, v)
		}
	case ResourceMap:
		for _, member := range v {
			flat = appendFlattened(flat, seen, member)
		}
	default:
		// Builders register concretely typed slices and maps, such as
		// []*ec2.Subnet, which only reflection can walk generically.
		rv := reflect.ValueOf(item)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				flat = appendFlattened(flat, seen, rv.Index(i).Interface())
			}
		case reflect.Map:
			iter := rv.MapRange()
			for iter.Next() {
				flat = appendFlattened(flat, seen, iter.Value().Interface())
			}
		}
	}
	return flat
}
