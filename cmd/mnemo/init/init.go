// Package initcmder provides the init command for initializing a local .mnemo
// directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/dotdir"
)

const initLongDesc string = `Initialize a new .mnemo/ directory in the current working directory.

Creates a local .mnemo/ directory that takes precedence over the default
~/.mnemo/ directory for configuration and the database files of durable
memory backends. This is useful for keeping separate memory per project.

With --preset, a config.toml is written for a known backend layout:
  local    in-process memory only
  sqlite   durable sqlite memory plus sqlite-vec semantic recall
  ollama   like sqlite, with embeddings from a local ollama server

Examples:
  mnemo init
  mnemo init --preset sqlite`

const initShortDesc string = "Initialize a local .mnemo/ directory"

type initCommander struct {
	preset string
	force  bool
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return cmder.run(cmd.OutOrStdout(), configDir)
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "",
		"Write config.toml from a preset ("+strings.Join(config.ValidPresetNames(), ", ")+")")
	cmd.Flags().BoolVar(&cmder.force, "force", false, "Overwrite an existing config.toml")

	return cmd
}

func (c *initCommander) run(w io.Writer, configDir string) error {
	var cfg *config.Config
	if c.preset != "" {
		var err error
		if cfg, err = config.PresetConfig(c.preset); err != nil {
			return err
		}
	}

	dir, err := dotdir.NewManager().Init(configDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  %s Initialized .mnemo directory: %s\n", cliui.SuccessMark, dir)

	if cfg == nil {
		return nil
	}

	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); err == nil && !c.force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Wrote %s preset: %s\n", cliui.SuccessMark, c.preset, cliui.DimStyle.Render(path))
	return nil
}
