package memorycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/cliui"
)

type compactCommander struct {
	clientCommander
}

const compactLongDesc string = `Run a protected compaction cycle for a session.

The server captures the full session state, waits for memory backends to
acknowledge it, compacts the session and recovers the most relevant
memories into the fresh context.

Examples:
  mnemo compact build-42`

const compactShortDesc string = "Compact a session with memory protection"

func NewCompactCmd() *cobra.Command {
	cmder := &compactCommander{}

	cmd := &cobra.Command{
		Use:     "compact <session>",
		Short:   compactShortDesc,
		Long:    compactLongDesc,
		Args:    cobra.ExactArgs(1),
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			resp, err := cmder.client.Compact(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if cmder.jsonOut {
				return writeJSON(out, resp)
			}

			fmt.Fprintf(out, "  %s Compacted %s %s\n", cliui.SuccessMark, resp.SessionKey,
				cliui.StepStyle.Render(fmt.Sprintf("(%s)", cliui.FormatDuration(resp.Duration))))
			fmt.Fprintf(out, "    tokens %d → %d, %d messages captured\n",
				resp.TokensBefore, resp.Outcome.TokensAfter, resp.MessagesCaptured)
			if resp.Outcome.Summary != "" {
				fmt.Fprintf(out, "    %s\n", resp.Outcome.Summary)
			}
			if resp.AckTimeout != "" {
				fmt.Fprintf(out, "  %s %s\n", cliui.WarnMark, resp.AckTimeout)
			}
			if resp.PostError != "" {
				fmt.Fprintf(out, "  %s compaction:post: %s\n", cliui.WarnMark, resp.PostError)
			}
			if resp.RecoveryError != "" {
				fmt.Fprintf(out, "  %s recovery: %s\n", cliui.WarnMark, resp.RecoveryError)
			}
			for _, f := range resp.HandlerFailures {
				fmt.Fprintf(out, "  %s %s\n", cliui.WarnMark, f)
			}
			cmder.printFailures(out, resp.AckFailures)
			return nil
		},
	}

	cmder.addFlags(cmd, false)

	return cmd
}
