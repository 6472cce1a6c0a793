// Package tbpulumi establishes the conventions shared by every resource
// group in this library: consistent naming, default tagging, resource
// protection for sensitive stacks, and a per-project registry of the
// resources each group produces.
package tbpulumi

import (
	"fmt"
	"os"
	"os/user"
	"slices"
	"strings"
	"sync"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/thunderbird/pulumi-go/pkg/constants"
)

// ProtectionEnvVar switches resource protection off for a protected
// stack when set to "f", "false", or "no" (case-insensitive). Any other
// value, or no value at all, leaves protection on.
const ProtectionEnvVar = "TBPULUMI_PROTECT_RESOURCES"

// ResourceMap relates the logical names of a resource group's members to
// the resources themselves. Values are pulumi.Resources, ComposedResources,
// slices of either, or further maps keyed by name.
type ResourceMap map[string]any

// Project is a collection of related resource groups upon which bulk
// actions can be taken. It carries the runtime identity every group
// derives its naming, tagging, and protection behavior from, replacing
// what would otherwise be process-wide globals.
type Project struct {
	// Name is the Pulumi project name.
	Name string
	// Stack is the currently selected Pulumi stack.
	Stack string
	// NamePrefix is "<project>-<stack>", the conventional prefix for
	// provider-side resource names.
	NamePrefix string
	// ProtectedStacks lists stacks that require explicit instruction to
	// modify.
	ProtectedStacks []string
	// CommonTags are applied to every taggable resource in the project.
	CommonTags map[string]string
	// AwsAccountID is the account the configured credentials act in.
	AwsAccountID string
	// AwsRegion is the currently configured AWS region.
	AwsRegion string

	fs  afero.Fs
	cfg *config.Config

	configOnce sync.Once
	config     map[string]any
	configErr  error

	mu        sync.Mutex
	resources map[string]ResourceMap
}

// ProjectOption adjusts the construction of a Project.
type ProjectOption func(*Project)

// WithProtectedStacks replaces the default protected-stack list.
func WithProtectedStacks(stacks ...string) ProjectOption {
	return func(p *Project) {
		p.ProtectedStacks = stacks
	}
}

// WithFs substitutes the filesystem used to read the stack
// configuration file. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) ProjectOption {
	return func(p *Project) {
		p.fs = fs
	}
}

// NewProject captures the identity of the current Pulumi run and
// discovers the AWS account and region through the provider.
func NewProject(ctx *pulumi.Context, opts ...ProjectOption) (*Project, error) {
	p := &Project{
		Name:            ctx.Project(),
		Stack:           ctx.Stack(),
		ProtectedStacks: slices.Clone(constants.DefaultProtectedStacks),
		fs:              afero.NewOsFs(),
		cfg:             config.New(ctx, ""),
		resources:       map[string]ResourceMap{},
	}
	p.NamePrefix = fmt.Sprintf("%s-%s", p.Name, p.Stack)
	for _, opt := range opts {
		opt(p)
	}

	ident, err := aws.GetCallerIdentity(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover the AWS account: %w", err)
	}
	region, err := aws.GetRegion(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to discover the AWS region: %w", err)
	}
	p.AwsAccountID = ident.AccountId
	p.AwsRegion = region.Name

	p.CommonTags = map[string]string{
		"environment":        p.Stack,
		"project":            p.Name,
		"pulumi_last_run_by": lastRunBy(),
		"pulumi_project":     p.Name,
		"pulumi_stack":       p.Stack,
	}

	return p, nil
}

// Fs exposes the filesystem the project reads local content from.
func (p *Project) Fs() afero.Fs {
	return p.fs
}

// PulumiConfig exposes the stack's Pulumi configuration, including
// encrypted secrets.
func (p *Project) PulumiConfig() *config.Config {
	return p.cfg
}

// Config reads the project configuration from "config.<stack>.yaml" in
// the working directory. The file is read once; later calls return the
// same data.
func (p *Project) Config() (map[string]any, error) {
	p.configOnce.Do(func() {
		file := fmt.Sprintf("config.%s.yaml", p.Stack)
		data, err := afero.ReadFile(p.fs, file)
		if err != nil {
			p.configErr = fmt.Errorf("failed to read stack config %s: %w", file, err)
			return
		}
		if err := yaml.Unmarshal(data, &p.config); err != nil {
			p.configErr = fmt.Errorf("failed to parse stack config %s: %w", file, err)
		}
	})
	return p.config, p.configErr
}

// ProtectResources reports whether resources built in this run should be
// protected against changes. Protection applies only to protected
// stacks, and only while ProtectionEnvVar has not switched it off.
func (p *Project) ProtectResources() bool {
	if !slices.Contains(p.ProtectedStacks, p.Stack) {
		return false
	}
	return !envVarMatches(ProtectionEnvVar, "f", "false", "no")
}

// SecretPath produces the conventional slash-delimited secret identifier
// namespaced by project and stack.
func (p *Project) SecretPath(parts ...string) string {
	return strings.Join(append([]string{p.Name, p.Stack}, parts...), "/")
}

// ParamPath produces the conventional SSM parameter name namespaced by
// project and stack.
func (p *Project) ParamPath(parts ...string) string {
	return "/" + p.SecretPath(parts...)
}

// Register records a resource group's resource map in the project
// registry. Each group registers exactly once, through Finish.
func (p *Project) register(name string, resources ResourceMap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resources[name] = resources
}

// Resources returns the registered resource map for the named group.
func (p *Project) Resources(name string) (ResourceMap, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rm, ok := p.resources[name]
	return rm, ok
}

// envVarMatches reports whether the named environment variable is set to
// one of the given values, compared case-insensitively. An unset
// variable matches nothing.
func envVarMatches(name string, matches ...string) bool {
	value, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	value = strings.ToLower(value)
	for _, match := range matches {
		if value == strings.ToLower(match) {
			return true
		}
	}
	return false
}

// envVarIsTrue reports whether the named environment variable is set to
// an affirmative value.
func envVarIsTrue(name string) bool {
	return envVarMatches(name, "t", "true", "yes")
}

// lastRunBy identifies the invoking user and host for the tag applied to
// every resource.
func lastRunBy() string {
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s@%s", username, hostname)
}
