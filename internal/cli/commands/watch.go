package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/gigwork-dev/gigwork/internal/lifecycle"
	"github.com/gigwork-dev/gigwork/internal/session"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive and print every state change",
		Long: `Keep the session alive and print every state change.

The process stands in for a mobile app shell. Send SIGUSR1 to move it to the
background and SIGUSR2 to bring it back to the foreground; returning to the
foreground refreshes an identity session that is about to expire.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, watchSignals...)
			defer signal.Stop(signals)

			return runWatch(cmd.Context(), app, signals, cmd.OutOrStdout())
		},
	}
}

func runWatch(ctx context.Context, app *App, signals <-chan os.Signal, out io.Writer) error {
	changes := make(chan session.State, 16)
	unsubscribe := app.Facade.Subscribe(func(state session.State) {
		select {
		case changes <- state:
		default:
			app.Logger.Warn().Msg("Dropped state change, watcher is behind")
		}
	})
	defer unsubscribe()

	if err := app.Facade.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), describeState(app.Facade.CurrentState()))

	for {
		select {
		case <-ctx.Done():
			return nil

		case state := <-changes:
			if state.Loading {
				continue
			}
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), describeState(state))

		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			next, known := appStateFor(sig)
			if !known {
				fmt.Fprintln(out, "Stopped watching")
				return nil
			}
			app.Logger.Debug().Str("app_state", string(next)).Msg("App state changed")
			app.Tracker.Set(next)
		}
	}
}

// appStateFor maps a lifecycle signal to an app state. Any other signal ends
// the watch.
func appStateFor(sig os.Signal) (lifecycle.State, bool) {
	state, ok := lifecycleSignals[sig]
	return state, ok
}
