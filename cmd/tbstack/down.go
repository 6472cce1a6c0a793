package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/thunderbird/pulumi-go/pkg/stack"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reconcile stack state with the deployed resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := stack.RunRefresh(cmd.Context(), afero.NewOsFs(), stackRef())
			return err
		},
	}
}

var downConfig struct {
	force bool
}

func newDownCmd() *cobra.Command {
	downCommand := &cobra.Command{
		Use:   "down",
		Short: "Destroy the stack",
		RunE:  down,
	}
	flags := downCommand.Flags()
	flags.BoolVar(&downConfig.force, "force", false, "Destroy protected stacks without confirmation")
	return downCommand
}

func down(cmd *cobra.Command, args []string) error {
	ref := stackRef()
	force := downConfig.force
	if ref.Protected() && !force {
		fmt.Fprintf(os.Stderr, "Stack %q is protected. Type the stack name to destroy it anyway: ", ref.StackName)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("aborted: %w", err)
		}
		if strings.TrimSpace(line) != ref.StackName {
			return fmt.Errorf("aborted destruction of protected stack %q", ref.StackName)
		}
		force = true
	}
	return stack.RunDown(cmd.Context(), afero.NewOsFs(), ref, force)
}
