package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thunderbird/pulumi-go/pkg/clicommon"
	"github.com/thunderbird/pulumi-go/pkg/stack"
)

var commonCfg struct {
	clicommon.CommonConfig
}

var stackCfg struct {
	project   string
	stackName string
	workDir   string
	region    string
	backend   string
	protected []string
}

func stackRef() stack.Reference {
	return stack.Reference{
		ProjectName:     stackCfg.project,
		StackName:       stackCfg.stackName,
		WorkDir:         stackCfg.workDir,
		AwsRegion:       stackCfg.region,
		Backend:         stackCfg.backend,
		ProtectedStacks: stackCfg.protected,
	}
}

func cli() int {
	var rootCmd = &cobra.Command{
		Use:   "tbstack",
		Short: "Manage Pulumi stacks for Thunderbird infrastructure projects",
	}
	clicommon.SetupRoot(rootCmd, &commonCfg.CommonConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&stackCfg.project, "project", "p", "", "Pulumi project name")
	flags.StringVarP(&stackCfg.stackName, "stack", "s", "", "Stack name")
	flags.StringVarP(&stackCfg.workDir, "workdir", "w", ".", "Directory holding the Pulumi program")
	flags.StringVarP(&stackCfg.region, "region", "r", "", "AWS region")
	flags.StringVar(&stackCfg.backend, "backend", "", "State backend URL (defaults to a local file backend)")
	flags.StringSliceVar(&stackCfg.protected, "protected", []string{"prod"}, "Stacks protected against destruction")
	for _, f := range []string{"project", "stack"} {
		if err := rootCmd.MarkPersistentFlagRequired(f); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(newPreviewCmd())
	rootCmd.AddCommand(newUpCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newDownCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(cli())
}
