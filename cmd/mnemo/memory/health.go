package memorycmder

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/cliui"
)

type healthCommander struct {
	clientCommander
}

const healthShortDesc string = "Show the health of every memory backend"

func NewHealthCmd() *cobra.Command {
	cmder := &healthCommander{}

	cmd := &cobra.Command{
		Use:     "health",
		Short:   healthShortDesc,
		Long:    "Show the lifecycle state, capabilities and health of every memory backend on the server.",
		Args:    cobra.NoArgs,
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := cmder.client.Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cmder.jsonOut {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				cliui.PrintHealth(out, report)
			}

			if !report.OK {
				return errors.New("one or more memory backends are unhealthy")
			}
			return nil
		},
	}

	cmder.addFlags(cmd, false)

	return cmd
}
