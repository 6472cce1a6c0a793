// Package stack drives Pulumi stack operations for programs built on
// this library through the automation API: preview, up, refresh, and
// destroy, with progress streamed into the logger.
package stack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optpreview"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optrefresh"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/common/tokens"
	"github.com/pulumi/pulumi/sdk/v3/go/common/workspace"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/thunderbird/pulumi-go/pkg/logging"
)

// Reference identifies one stack of one program.
type Reference struct {
	ProjectName string
	StackName   string
	// WorkDir is the directory holding the Pulumi program and its
	// config.<stack>.yaml.
	WorkDir   string
	AwsRegion string
	// ProtectedStacks lists stacks which refuse destruction unless
	// forced.
	ProtectedStacks []string
	// Backend overrides the state backend URL. When empty, state is
	// kept in a local file backend under the user's home directory.
	Backend string
}

// Protected reports whether the referenced stack is protected against
// destruction.
func (r Reference) Protected() bool {
	return slices.Contains(r.ProtectedStacks, r.StackName)
}

// Initialize creates or selects the referenced stack.
func Initialize(ctx context.Context, fs afero.Fs, ref Reference) (auto.Stack, error) {
	backend := ref.Backend
	if backend == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return auto.Stack{}, fmt.Errorf("failed to get user home directory: %w", err)
		}
		stateDir := filepath.Join(homeDir, ".tbpulumi", "state")
		if exists, err := afero.DirExists(fs, stateDir); !exists || err != nil {
			if err := fs.MkdirAll(stateDir, 0755); err != nil {
				return auto.Stack{}, fmt.Errorf("failed to create stack state directory: %w", err)
			}
		}
		backend = "file://" + stateDir
	}

	proj := auto.Project(workspace.Project{
		Name:    tokens.PackageName(ref.ProjectName),
		Runtime: workspace.NewProjectRuntimeInfo("go", nil),
		Backend: &workspace.ProjectBackend{
			URL: backend,
		},
	})
	s, err := auto.UpsertStackLocalSource(ctx, ref.StackName, ref.WorkDir, proj)
	if err != nil {
		return auto.Stack{}, fmt.Errorf("failed to create or select stack: %w", err)
	}

	if ref.AwsRegion != "" {
		err = s.SetConfig(ctx, "aws:region", auto.ConfigValue{Value: ref.AwsRegion})
		if err != nil {
			return auto.Stack{}, fmt.Errorf("failed to set stack configuration: %w", err)
		}
	}
	return s, nil
}

// RunPreview previews the referenced stack. Compilation and runtime
// errors from the program abort the preview; other preview failures
// are logged and swallowed so that further previewing can proceed.
func RunPreview(ctx context.Context, fs afero.Fs, ref Reference) (*auto.PreviewResult, error) {
	log := logging.GetLogger(ctx).Named("pulumi.preview").Sugar()

	s, err := Initialize(ctx, fs, ref)
	if err != nil {
		return nil, err
	}
	log.Debugf("Created/Selected stack %q", ref.StackName)

	previewResult, err := s.Preview(
		ctx,
		optpreview.ProgressStreams(logging.NewLoggerWriter(log.Desugar(), zap.InfoLevel)),
		optpreview.EventStreams(Events(ctx, "Previewing")),
		optpreview.Refresh(),
	)
	if err != nil {
		// The first line carries the failure; the rest repeats the
		// live logging already shown.
		firstLine := strings.Split(err.Error(), "\n")[0]

		if auto.IsCompilationError(err) || auto.IsRuntimeError(err) || auto.IsCreateStack409Error(err) {
			return nil, fmt.Errorf("failed to preview stack: %s", firstLine)
		}

		log.Warnf("Failed to preview stack %s: %s", ref.StackName, firstLine)
		return nil, nil
	}

	log.Infof("Successfully previewed stack %s", ref.StackName)
	return &previewResult, nil
}

// RunUp deploys the referenced stack and returns the update result
// along with the exported state.
func RunUp(ctx context.Context, fs afero.Fs, ref Reference) (*auto.UpResult, *State, error) {
	log := logging.GetLogger(ctx).Named("pulumi.up").Sugar()

	s, err := Initialize(ctx, fs, ref)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("Created/Selected stack %q", ref.StackName)

	log.Debug("Starting update")
	upResult, err := s.Up(
		ctx,
		optup.ProgressStreams(logging.NewLoggerWriter(log.Desugar(), zap.InfoLevel)),
		optup.EventStreams(Events(ctx, "Deploying")),
		optup.Refresh(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update stack: %w", err)
	}

	log.Infof("Successfully deployed stack %s", ref.StackName)

	stackState, err := GetState(ctx, &s)
	return &upResult, &stackState, err
}

// RunRefresh reconciles the referenced stack's state with the live
// infrastructure.
func RunRefresh(ctx context.Context, fs afero.Fs, ref Reference) (*auto.RefreshResult, error) {
	log := logging.GetLogger(ctx).Named("pulumi.refresh").Sugar()

	s, err := Initialize(ctx, fs, ref)
	if err != nil {
		return nil, err
	}
	log.Debugf("Created/Selected stack %q", ref.StackName)

	refreshResult, err := s.Refresh(
		ctx,
		optrefresh.ProgressStreams(logging.NewLoggerWriter(log.Desugar(), zap.InfoLevel)),
		optrefresh.EventStreams(Events(ctx, "Refreshing")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh stack: %w", err)
	}

	log.Infof("Successfully refreshed stack %s", ref.StackName)
	return &refreshResult, nil
}

// RunDown destroys the referenced stack and removes it from the
// workspace. Protected stacks refuse destruction unless force is set;
// interactive confirmation belongs to the caller.
func RunDown(ctx context.Context, fs afero.Fs, ref Reference, force bool) error {
	log := logging.GetLogger(ctx).Named("pulumi.destroy").Sugar()

	if ref.Protected() && !force {
		return fmt.Errorf("stack %s is protected and will not be destroyed without force", ref.StackName)
	}

	s, err := Initialize(ctx, fs, ref)
	if err != nil {
		return err
	}
	log.Debugf("Created/Selected stack %q", ref.StackName)

	log.Debug("Starting destroy")
	_, err = s.Destroy(
		ctx,
		optdestroy.ProgressStreams(logging.NewLoggerWriter(log.Desugar(), zap.InfoLevel)),
		optdestroy.EventStreams(Events(ctx, "Destroying")),
		optdestroy.Refresh(),
	)
	if err != nil {
		return fmt.Errorf("failed to destroy stack: %w", err)
	}

	log.Infof("Successfully destroyed stack %s", ref.StackName)

	log.Infof("Removing stack %s", ref.StackName)
	err = s.Workspace().RemoveStack(ctx, ref.StackName)
	if err != nil {
		return fmt.Errorf("failed to remove stack: %w", err)
	}
	return nil
}
