package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openshelf/coverage/internal/cmd/export"
	"github.com/openshelf/coverage/internal/cmd/provider"
	"github.com/openshelf/coverage/internal/cmd/register"
	"github.com/openshelf/coverage/internal/cmd/schema"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "coverage",
		Short: "Tracks which catalog items have been covered by which services",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Welcome to coverage!")
		},
	}

	cmd.AddCommand(provider.NewCommand())
	cmd.AddCommand(register.NewCommand())
	cmd.AddCommand(schema.NewCommand())
	cmd.AddCommand(export.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
