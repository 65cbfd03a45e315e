package memorycmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/api/client"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

const payloadPreview = 96

type watchCommander struct {
	clientCommander

	sessionKey string
	types      []string
}

const watchLongDesc string = `Tail lifecycle events from a running server.

Every event emitted on the server's bus is printed as it happens: session,
message and tool events as well as compaction warnings and cycles.

Examples:
  mnemo watch
  mnemo watch --session build-42
  mnemo watch --type compaction:warning,compaction:imminent --json`

const watchShortDesc string = "Tail lifecycle events from the server"

func NewWatchCmd() *cobra.Command {
	cmder := &watchCommander{}

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   watchShortDesc,
		Long:    watchLongDesc,
		Args:    cobra.NoArgs,
		PreRunE: cmder.preRun,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmder.addFlags(cmd, false)
	cmd.Flags().StringVarP(&cmder.sessionKey, "session", "s", "", "Only show events of this session")
	cmd.Flags().StringSliceVarP(&cmder.types, "type", "t", nil, "Only show these event types")

	return cmd
}

func (c *watchCommander) run(cmd *cobra.Command) error {
	opts := client.EventsOptions{SessionKey: c.sessionKey}
	for _, t := range c.types {
		typ := events.Type(t)
		if !typ.Valid() {
			return fmt.Errorf("unknown event type: %q", t)
		}
		opts.Types = append(opts.Types, typ)
	}

	out := cmd.OutOrStdout()
	return c.client.Events(cmd.Context(), opts, func(ev events.Event) error {
		if c.jsonOut {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		}

		line := fmt.Sprintf("%s %s %s %s",
			cliui.DimStyle.Render(ev.Timestamp.Format("15:04:05.000")),
			cliui.KeyStyle.Render(string(ev.Type)),
			ev.SessionKey,
			cliui.StepStyle.Render(fmt.Sprintf("#%d", ev.Seq)),
		)
		if ev.Payload != nil {
			if data, err := json.Marshal(ev.Payload); err == nil {
				line += " " + cliui.DimStyle.Render(utils.Truncate(string(data), payloadPreview))
			}
		}
		_, err := fmt.Fprintln(out, line)
		return err
	})
}
