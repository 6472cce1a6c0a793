package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/thunderbird/pulumi-go/pkg/logging"
	"github.com/thunderbird/pulumi-go/pkg/stack"
)

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show the changes an up would make",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := stack.RunPreview(cmd.Context(), afero.NewOsFs(), stackRef())
			return err
		},
	}
}

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Deploy the stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, state, err := stack.RunUp(ctx, afero.NewOsFs(), stackRef())
			if err != nil {
				return err
			}
			log := logging.GetLogger(ctx).Sugar()
			for k, v := range state.Outputs {
				log.Infof("output %s: %v", k, v)
			}
			return nil
		},
	}
}
