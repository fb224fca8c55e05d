package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return runLogout(cmd.Context(), app, cmd.OutOrStdout())
		},
	}
}

func runLogout(ctx context.Context, app *App, out io.Writer) error {
	if err := app.Facade.Init(ctx); err != nil {
		return err
	}

	wasSignedIn := app.Facade.CurrentState().Authenticated()

	if err := app.Facade.Logout(ctx); err != nil {
		return fmt.Errorf("logout incomplete: %w", err)
	}

	if wasSignedIn {
		fmt.Fprintln(out, "✓ Signed out")
	} else {
		fmt.Fprintln(out, "Already signed out")
	}
	return nil
}
