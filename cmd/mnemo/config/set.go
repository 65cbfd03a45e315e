package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/cliui"
)

const setLongDesc string = `Set a configuration value.

Sets the given key in config.toml in the .mnemo/ directory. The resulting
configuration is validated before it is written; for example a warning
threshold at or above the imminent threshold is rejected.

Examples:
  mnemo config set compaction.require_ack false
  mnemo config set memory.min_score 0.4
  mnemo config set events.kafka.brokers localhost:9092,localhost:9093`

const setShortDesc string = "Set a configuration value"

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "set <key> <value>",
		Short:             setShortDesc,
		Long:              setLongDesc,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := checkKey(key); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			cfger, err := loadConfiger(w, cmd)
			if err != nil {
				return err
			}

			if err := cfger.SetConfigValue(key, value); err != nil {
				return err
			}

			fmt.Fprintf(w, "  %s Set %s = %s\n\n", cliui.SuccessMark,
				cliui.KeyStyle.Render(key),
				cliui.ValueStyle.Render(value),
			)
			return nil
		},
	}

	return cmd
}
