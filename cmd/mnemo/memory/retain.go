package memorycmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/api"
	"github.com/papercomputeco/mnemo/pkg/cliui"
)

type retainCommander struct {
	clientCommander

	sessionKey string
	backends   []string
	metadata   map[string]string
}

const retainLongDesc string = `Retain content in memory.

Content is stored in every selected backend. Pass "-" to read it from stdin.

Examples:
  mnemo retain "The team prefers postgres for new services"
  git log -1 --format=%B | mnemo retain - --session build-42 --meta kind=commit`

const retainShortDesc string = "Retain content in memory"

func NewRetainCmd() *cobra.Command {
	cmder := &retainCommander{}

	cmd := &cobra.Command{
		Use:     "retain <content|->",
		Short:   retainShortDesc,
		Long:    retainLongDesc,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if content == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				content = string(data)
			}
			return cmder.run(cmd, content)
		},
	}

	cmder.addFlags(cmd, false)
	cmd.Flags().StringVarP(&cmder.sessionKey, "session", "s", "", "Session key to tag the memory with")
	cmd.Flags().StringSliceVarP(&cmder.backends, "backend", "b", nil, "Only write to these backend ids")
	cmd.Flags().StringToStringVarP(&cmder.metadata, "meta", "m", nil, "Metadata key=value pairs")

	return cmd
}

func (c *retainCommander) run(cmd *cobra.Command, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is empty")
	}

	req := api.RetainRequest{
		Content:    content,
		SessionKey: c.sessionKey,
		Backends:   c.backends,
	}
	if len(c.metadata) > 0 {
		req.Metadata = make(map[string]any, len(c.metadata))
		for k, v := range c.metadata {
			req.Metadata[k] = v
		}
	}

	resp, err := c.client.Retain(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.jsonOut {
		return writeJSON(out, resp)
	}

	fmt.Fprintf(out, "  %s Retained in %s\n", cliui.SuccessMark, strings.Join(resp.Succeeded, ", "))
	c.printFailures(out, resp.Failed)
	return nil
}
