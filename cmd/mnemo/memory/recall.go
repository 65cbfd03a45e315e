package memorycmder

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/pkg/cliui"
)

type recallCommander struct {
	clientCommander

	sessionKey string
	limit      int
	backends   []string
	asOf       string
}

const recallLongDesc string = `Recall memories from every active backend.

All selected backends are queried in parallel and their results are fused
into one list ordered by score. Backends that fail are listed after the
results; the remaining results are still returned.

Examples:
  mnemo recall "database choice"
  mnemo recall "deploy steps" --session build-42 --limit 3
  mnemo recall "api keys" --backend episodic --as-of 2026-01-02T15:04:05Z`

const recallShortDesc string = "Recall memories from all backends"

func NewRecallCmd() *cobra.Command {
	cmder := &recallCommander{}

	cmd := &cobra.Command{
		Use:     "recall <query>",
		Short:   recallShortDesc,
		Long:    recallLongDesc,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, strings.Join(args, " "))
		},
	}

	cmder.addFlags(cmd, false)
	cmd.Flags().StringVarP(&cmder.sessionKey, "session", "s", "", "Scope recall to a session key")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&cmder.backends, "backend", "b", nil, "Only consult these backend ids")
	cmd.Flags().StringVar(&cmder.asOf, "as-of", "", "Recall memory as it was at this RFC3339 time")

	return cmd
}

func (c *recallCommander) run(cmd *cobra.Command, query string) error {
	asOf, err := parseAsOf(c.asOf)
	if err != nil {
		return err
	}

	resp, err := c.client.Recall(cmd.Context(), recallRequest(query, c.sessionKey, c.limit, c.backends, asOf))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		return writeJSON(out, resp)
	}

	cliui.PrintMarkdown(out, cliui.ResultsMarkdown(query, resp.Results))
	c.printFailures(out, resp.Failed)
	return nil
}
