package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/serverkit/installer/internal/cli"
)

func main() {
	command := NewInstallerCtlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewInstallerCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "installer [flags] [options]",
		Short: "installer drives the server setup wizard from the command line.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdInstall())
	cmd.AddCommand(cli.NewCmdStatus())
	cmd.AddCommand(cli.NewCmdLogs())
	cmd.AddCommand(cli.NewCmdRequirements())
	cmd.AddCommand(cli.NewCmdTestDatabase())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
