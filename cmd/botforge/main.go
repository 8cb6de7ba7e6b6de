package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds the connection settings of the client commands.
type APIFlags struct {
	URL string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "botforge",
		Short: "botforge generates Telegram bots from natural-language descriptions and runs them as supervised processes",
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createStopCommand(apiFlags),
		createListCommand(apiFlags),
	)
	return root
}
