package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

func newFrameworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frameworks",
		Short: "List the available frameworks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps := rpcbench.FactoryDeps{Registry: rpcbench.NewRegistry(), Logger: rpcbench.NewDiscardLogger()}
			for _, name := range rpcbench.FrameworkNames() {
				f, err := rpcbench.NewFactory(name, deps)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", name, f.Name())
			}
			return nil
		},
	}
}
