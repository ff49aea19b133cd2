package provider

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "provider",
		Short: "Manages coverage providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("coverage provider commands!")
			return nil
		},
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newServeCommand())

	return cmd
}
