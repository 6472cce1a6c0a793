package autoscale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntOrDefault(t *testing.T) {
	assert.Equal(t, 70, intOrDefault(nil, 70))

	override := 85
	assert.Equal(t, 85, intOrDefault(&override, 70))

	zero := 0
	assert.Equal(t, 0, intOrDefault(&zero, 70))
}
