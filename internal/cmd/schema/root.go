package schema

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "schema",
		Short: "Utilities for the coverage database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("coverage schema utilities!")
			return nil
		},
	}

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newPrintCommand())

	return cmd
}
