// Package authcmder provides the auth command for storing API keys of
// remote memory backends.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/credentials"
)

const authLongDesc string = `Store API keys for remote memory backends.

Keys are stored per backend id in credentials.toml in the .mnemo/ directory
and applied when the server starts. A key set in config.toml takes
precedence, and MNEMO_BACKEND_<ID>_API_KEY overrides both.

Examples:
  mnemo auth vectors              Prompt for the "vectors" backend key
  echo $KEY | mnemo auth vectors  Read the key from stdin
  mnemo auth --list               List backends with stored keys
  mnemo auth --remove vectors     Remove the stored key`

const authShortDesc string = "Store API keys for memory backends"

type authCommander struct {
	list   bool
	remove string
}

func NewAuthCmd() *cobra.Command {
	cmder := &authCommander{}

	cmd := &cobra.Command{
		Use:   "auth [backend-id]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			mgr, err := credentials.NewManager(configDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			switch {
			case cmder.list:
				return runList(out, mgr)
			case cmder.remove != "":
				return runRemove(out, mgr, cmder.remove)
			case len(args) == 0:
				return errors.New("backend id argument required")
			default:
				return runAuth(cmd, mgr, args[0])
			}
		},
	}

	cmd.Flags().BoolVar(&cmder.list, "list", false, "List backends with stored keys")
	cmd.Flags().StringVar(&cmder.remove, "remove", "", "Remove the stored key of a backend")

	return cmd
}

func runAuth(cmd *cobra.Command, mgr *credentials.Manager, backendID string) error {
	backendID = strings.TrimSpace(backendID)

	apiKey, err := readAPIKey(cmd, backendID)
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	if err := mgr.SetKey(backendID, apiKey); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n  %s Stored key for %s %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(backendID),
		cliui.DimStyle.Render("(override with "+credentials.EnvVarForBackend(backendID)+")"),
	)
	return nil
}

func runList(w io.Writer, mgr *credentials.Manager) error {
	ids, err := mgr.ListBackends()
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		fmt.Fprintf(w, "\n  %s No stored credentials.\n", cliui.DimStyle.Render("●"))
		fmt.Fprintf(w, "  Use 'mnemo auth <backend-id>' to store one.\n\n")
		return nil
	}

	fmt.Fprintf(w, "\n  %s\n\n", cliui.HeaderStyle.Render("Stored credentials"))
	for _, id := range ids {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			cliui.SuccessMark,
			cliui.KeyStyle.Render(id),
			cliui.DimStyle.Render(credentials.EnvVarForBackend(id)),
		)
	}
	fmt.Fprintln(w)
	return nil
}

func runRemove(w io.Writer, mgr *credentials.Manager, backendID string) error {
	backendID = strings.TrimSpace(backendID)
	if err := mgr.RemoveKey(backendID); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n  %s Removed key for %s.\n\n", cliui.SuccessMark, cliui.KeyStyle.Render(backendID))
	return nil
}

// readAPIKey reads the first line of piped input, or prompts with hidden
// input when stdin is a terminal.
func readAPIKey(cmd *cobra.Command, backendID string) (string, error) {
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(cmd.OutOrStdout(), "Enter API key for %s: ", backendID)
		key, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		return string(key), nil
	}

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return "", errors.New("no input received on stdin")
}
