package tbpulumi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeTags(t *testing.T) {
	tests := []struct {
		name     string
		tagMaps  []map[string]string
		expected map[string]string
	}{
		{
			name:     "no inputs",
			expected: map[string]string{},
		},
		{
			name: "single map copied",
			tagMaps: []map[string]string{
				{"project": "myapp"},
			},
			expected: map[string]string{"project": "myapp"},
		},
		{
			name: "later maps win",
			tagMaps: []map[string]string{
				{"project": "myapp", "environment": "stage"},
				{"environment": "prod", "team": "services"},
			},
			expected: map[string]string{
				"project":     "myapp",
				"environment": "prod",
				"team":        "services",
			},
		},
		{
			name: "nil maps ignored",
			tagMaps: []map[string]string{
				nil,
				{"project": "myapp"},
				nil,
			},
			expected: map[string]string{"project": "myapp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeTags(tt.tagMaps...))
		})
	}
}

func TestMergeTagsDoesNotModifyInputs(t *testing.T) {
	base := map[string]string{"environment": "stage"}
	override := map[string]string{"environment": "prod"}
	merged := MergeTags(base, override)

	assert.Equal(t, "prod", merged["environment"])
	assert.Equal(t, "stage", base["environment"])

	merged["extra"] = "value"
	assert.NotContains(t, base, "extra")
	assert.NotContains(t, override, "extra")
}
