package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gigwork-dev/gigwork/internal/cli/commands"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "gigwork",
	Short: "Gigwork - sign in to the gig marketplace from your terminal",
	Long: `Gigwork CLI - Manage your marketplace session.

The CLI keeps one credential per device: a refreshing identity session, a
server session or a bearer token. Configuration comes from GIGWORK_* environment
variables, a .env file, or a YAML file named by GIGWORK_CONFIG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gigwork version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewLoginCmd())
	rootCmd.AddCommand(commands.NewLogoutCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewWatchCmd())
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
