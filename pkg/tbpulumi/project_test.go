package tbpulumi

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProject() *Project {
	return &Project{
		Name:            "myapp",
		Stack:           "stage",
		NamePrefix:      "myapp-stage",
		ProtectedStacks: []string{"prod"},
		fs:              afero.NewMemMapFs(),
		resources:       map[string]ResourceMap{},
	}
}

func TestSecretPath(t *testing.T) {
	p := testProject()
	assert.Equal(t, "myapp/stage/db/password", p.SecretPath("db", "password"))
	assert.Equal(t, "myapp/stage", p.SecretPath())
	assert.Equal(t, "/myapp/stage/db/password", p.ParamPath("db", "password"))
}

func TestProtectResources(t *testing.T) {
	tests := []struct {
		name     string
		stack    string
		envValue string
		expected bool
	}{
		{name: "unprotected stack", stack: "stage", expected: false},
		{name: "protected stack", stack: "prod", expected: true},
		{name: "protected stack with env override", stack: "prod", envValue: "false", expected: false},
		{name: "override is case insensitive", stack: "prod", envValue: "NO", expected: false},
		{name: "unrecognized value keeps protection", stack: "prod", envValue: "0", expected: true},
		{name: "override ignored on unprotected stack", stack: "stage", envValue: "false", expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(ProtectionEnvVar, tt.envValue)
			}
			p := testProject()
			p.Stack = tt.stack
			assert.Equal(t, tt.expected, p.ProtectResources())
		})
	}
}

func TestEnvVarMatches(t *testing.T) {
	assert.False(t, envVarMatches("TBPULUMI_TEST_UNSET", "t", "true"))

	t.Setenv("TBPULUMI_TEST_VAR", "True")
	assert.True(t, envVarMatches("TBPULUMI_TEST_VAR", "t", "true"))
	assert.False(t, envVarMatches("TBPULUMI_TEST_VAR", "f", "false"))
	assert.True(t, envVarIsTrue("TBPULUMI_TEST_VAR"))

	t.Setenv("TBPULUMI_TEST_VAR", "anything")
	assert.False(t, envVarIsTrue("TBPULUMI_TEST_VAR"))
}

func TestConfigReadOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := afero.WriteFile(fs, "config.stage.yaml", []byte("replicas: 2\nname: web\n"), 0644)
	require.NoError(t, err)

	p := testProject()
	p.fs = fs

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg["replicas"])
	assert.Equal(t, "web", cfg["name"])

	// Later reads return the cached data even if the file changes.
	err = afero.WriteFile(fs, "config.stage.yaml", []byte("replicas: 5\n"), 0644)
	require.NoError(t, err)
	cfg, err = p.Config()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg["replicas"])
}

func TestConfigMissingFile(t *testing.T) {
	p := testProject()
	_, err := p.Config()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.stage.yaml")
}

func TestResourceRegistry(t *testing.T) {
	p := testProject()
	p.register("mygroup", ResourceMap{"bucket": nil})

	rm, ok := p.Resources("mygroup")
	assert.True(t, ok)
	assert.Contains(t, rm, "bucket")

	_, ok = p.Resources("absent")
	assert.False(t, ok)
}
