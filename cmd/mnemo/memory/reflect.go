package memorycmder

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/api"
	"github.com/papercomputeco/mnemo/pkg/cliui"
)

type reflectCommander struct {
	clientCommander
}

const reflectLongDesc string = `Ask every reflecting backend for insights on a topic.

Examples:
  mnemo reflect "code review preferences"`

const reflectShortDesc string = "Gather insights on a topic"

func NewReflectCmd() *cobra.Command {
	cmder := &reflectCommander{}

	cmd := &cobra.Command{
		Use:     "reflect <topic>",
		Short:   reflectShortDesc,
		Long:    reflectLongDesc,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.Join(args, " ")
			resp, err := cmder.client.Reflect(cmd.Context(), api.ReflectRequest{Topic: topic})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cmder.jsonOut {
				return writeJSON(out, resp)
			}
			cliui.PrintMarkdown(out, cliui.InsightsMarkdown(topic, resp.Insights))
			cmder.printFailures(out, resp.Failed)
			return nil
		},
	}

	cmder.addFlags(cmd, false)

	return cmd
}
