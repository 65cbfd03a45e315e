// Package mnemocmder
package mnemocmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/mnemo/cmd/mnemo/auth"
	configcmder "github.com/papercomputeco/mnemo/cmd/mnemo/config"
	initcmder "github.com/papercomputeco/mnemo/cmd/mnemo/init"
	memorycmder "github.com/papercomputeco/mnemo/cmd/mnemo/memory"
	servecmder "github.com/papercomputeco/mnemo/cmd/mnemo/serve"
	versioncmder "github.com/papercomputeco/mnemo/cmd/version"
)

const mnemoLongDesc string = `Mnemo protects agent memory across context compaction.

Run the server, then point agents and the CLI at it:
  mnemo serve              Run the API server (REST and MCP)
  mnemo recall <query>     Recall fused memories from all backends
  mnemo compact <session>  Run a protected compaction cycle
  mnemo health             Show memory backend health
  mnemo watch              Tail lifecycle events`

const mnemoShortDesc string = "Mnemo - compaction-safe agent memory"

func NewMnemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mnemo",
		Short:        mnemoShortDesc,
		Long:         mnemoLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .mnemo/ directory holding config.toml and data")

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(memorycmder.NewRecallCmd())
	cmd.AddCommand(memorycmder.NewSearchCmd())
	cmd.AddCommand(memorycmder.NewRetainCmd())
	cmd.AddCommand(memorycmder.NewReflectCmd())
	cmd.AddCommand(memorycmder.NewCompactCmd())
	cmd.AddCommand(memorycmder.NewHealthCmd())
	cmd.AddCommand(memorycmder.NewWatchCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
