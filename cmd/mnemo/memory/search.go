package memorycmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/api"
	"github.com/papercomputeco/mnemo/pkg/cliui"
)

type searchCommander struct {
	clientCommander

	sessionKey string
	limit      int
	backends   []string
	strategy   string
}

const searchLongDesc string = `Search memory with a recall strategy.

The parallel strategy queries every selected backend at once and fuses the
results. The cascade strategy consults backends in priority order and stops
at the first one with a result scored at or above --min-score.

Examples:
  mnemo search "release process"
  mnemo search "release process" --strategy cascade --min-score 0.6`

const searchShortDesc string = "Search memory with a recall strategy"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:     "search <query>",
		Short:   searchShortDesc,
		Long:    searchLongDesc,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, strings.Join(args, " "))
		},
	}

	cmder.addFlags(cmd, true)
	cmd.Flags().StringVarP(&cmder.sessionKey, "session", "s", "", "Scope search to a session key")
	cmd.Flags().IntVarP(&cmder.limit, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&cmder.backends, "backend", "b", nil, "Only consult these backend ids")
	cmd.Flags().StringVar(&cmder.strategy, "strategy", "", "Recall strategy (parallel, cascade); defaults to the server's")

	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command, query string) error {
	req := api.SearchRequest{
		RecallRequest: recallRequest(query, c.sessionKey, c.limit, c.backends, nil),
		Strategy:      c.strategy,
	}
	if c.minScore > 0 {
		req.MinScore = &c.minScore
	}

	resp, err := c.client.Search(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		return writeJSON(out, resp)
	}

	cliui.PrintMarkdown(out, cliui.ResultsMarkdown(query, resp.Results))
	line := "strategy " + resp.Strategy
	if resp.AnsweredBy != "" {
		line += ", answered by " + resp.AnsweredBy
	}
	fmt.Fprintln(out, cliui.StepStyle.Render(line))
	c.printFailures(out, resp.Failed)
	return nil
}
