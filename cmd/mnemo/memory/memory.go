// Package memorycmder provides the commands that talk to a running mnemo
// API server.
package memorycmder

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/mnemo/api"
	"github.com/papercomputeco/mnemo/api/client"
	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/config"
)

// clientCommander holds the state shared by every client command.
type clientCommander struct {
	apiTarget string
	minScore  float64
	jsonOut   bool

	client *client.Client
}

func (c *clientCommander) addFlags(cmd *cobra.Command, withMinScore bool) {
	config.AddStringFlag(cmd, config.ClientFlags, config.FlagAPITarget, &c.apiTarget)
	if withMinScore {
		config.AddFloatFlag(cmd, config.ClientFlags, config.FlagMinScore, &c.minScore)
	}
	cmd.Flags().BoolVar(&c.jsonOut, "json", false, "Print the raw JSON response")
}

// preRun resolves the API target and min score from config unless the
// flags were given explicitly.
func (c *clientCommander) preRun(cmd *cobra.Command, _ []string) error {
	configDir, _ := cmd.Flags().GetString("config-dir")

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !cmd.Flags().Changed(config.ClientFlags[config.FlagAPITarget].Name) && cfg.Client.APITarget != "" {
		c.apiTarget = cfg.Client.APITarget
	}
	if !cmd.Flags().Changed(config.ClientFlags[config.FlagMinScore].Name) {
		c.minScore = cfg.Memory.MinScore
	}

	c.client, err = client.New(c.apiTarget)
	return err
}

func (c *clientCommander) printFailures(w io.Writer, failed map[string]string) {
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w, cliui.HeaderStyle.Render("Backend failures"))
	cliui.PrintFailures(w, failed)
}

func parseAsOf(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --as-of %q: expected RFC3339", s)
	}
	return &t, nil
}

func recallRequest(query, sessionKey string, limit int, backends []string, asOf *time.Time) api.RecallRequest {
	return api.RecallRequest{
		Query:      query,
		SessionKey: sessionKey,
		Limit:      limit,
		Backends:   backends,
		AsOf:       asOf,
	}
}
