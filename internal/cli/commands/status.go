package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return runStatus(cmd.Context(), app, cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, app *App, out io.Writer) error {
	if err := app.Facade.Init(ctx); err != nil {
		return err
	}

	state := app.Facade.CurrentState()
	fmt.Fprintln(out, describeState(state))

	if state.User != nil && state.User.Phone != "" {
		fmt.Fprintf(out, "  Phone: %s\n", state.User.Phone)
	}
	if s := state.IdentitySession; s != nil && s.HasExpiry() {
		fmt.Fprintf(out, "  Session expires: %s\n", time.Unix(s.ExpiresAt, 0).Format(time.RFC3339))
	}
	if state.Authenticated() && len(state.Profile) == 0 {
		fmt.Fprintln(out, "  Profile: unavailable (showing cached user)")
	}
	return nil
}
