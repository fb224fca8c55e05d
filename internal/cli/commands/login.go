package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gigwork-dev/gigwork/internal/session"
)

// loginOptions are the inputs of a login attempt
type loginOptions struct {
	Mode  session.Mode
	Phone string
	Code  string
}

// promptCode reads a one-time code once it has been sent
var promptCode = readCodeFromTerminal

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var strategy, phone, code string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a one-time code sent to your phone",
		Long: `Sign in with a one-time code sent to your phone.

The strategy decides which credential is kept on this device:
  identity  an identity-provider session that refreshes itself
  server    a server-side session identifier
  bearer    a long-lived bearer token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone == "" {
				phone = os.Getenv("GIGWORK_PHONE")
			}
			if code == "" {
				code = os.Getenv("GIGWORK_CODE")
			}
			if phone == "" {
				return fmt.Errorf("phone is required (use --phone flag or GIGWORK_PHONE env var)")
			}

			mode, err := resolveStrategy(strategy)
			if err != nil {
				return err
			}

			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return runLogin(cmd.Context(), app, loginOptions{Mode: mode, Phone: phone, Code: code}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Credential to keep: identity, server or bearer (prompts if omitted)")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number in E.164 format (or set GIGWORK_PHONE)")
	cmd.Flags().StringVar(&code, "code", "", "One-time code (or set GIGWORK_CODE, will prompt if not provided)")

	return cmd
}

// parseStrategy accepts short strategy names as well as full mode names
func parseStrategy(s string) (session.Mode, error) {
	switch s {
	case "identity":
		return session.ModeIdentitySession, nil
	case "server":
		return session.ModeServerSession, nil
	case "bearer":
		return session.ModeBearerToken, nil
	}

	mode, err := session.ParseMode(s)
	if err != nil || mode == session.ModeNone {
		return "", fmt.Errorf("unknown strategy '%s' (expected identity, server or bearer)", s)
	}
	return mode, nil
}

func resolveStrategy(s string) (session.Mode, error) {
	if s != "" {
		return parseStrategy(s)
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return session.ModeIdentitySession, nil
	}
	return promptStrategy()
}

// promptStrategy shows an interactive strategy picker
func promptStrategy() (session.Mode, error) {
	type strategyOption struct {
		Label string
		Mode  session.Mode
	}

	options := []strategyOption{
		{Label: "Identity session (recommended)", Mode: session.ModeIdentitySession},
		{Label: "Server session", Mode: session.ModeServerSession},
		{Label: "Bearer token", Mode: session.ModeBearerToken},
	}

	prompt := promptui.Select{
		Label: "Sign-in strategy",
		Items: options,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ .Label | cyan }}",
			Inactive: "  {{ .Label }}",
			Selected: "{{ .Label | green }}",
		},
	}

	index, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("strategy selection cancelled: %w", err)
	}
	return options[index].Mode, nil
}

func readCodeFromTerminal(out io.Writer) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", errors.New("code is required in non-interactive mode (use --code flag or GIGWORK_CODE env var)")
	}

	fmt.Fprint(out, "Code: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	return string(raw), nil
}

func runLogin(ctx context.Context, app *App, opts loginOptions, out io.Writer) error {
	if err := app.Facade.Init(ctx); err != nil {
		return err
	}

	if err := app.Identity.RequestOTP(ctx, opts.Phone); err != nil {
		return fmt.Errorf("failed to send code: %w", err)
	}
	fmt.Fprintf(out, "Code sent to %s\n", opts.Phone)

	code := opts.Code
	if code == "" {
		var err error
		if code, err = promptCode(out); err != nil {
			return err
		}
	}

	switch opts.Mode {
	case session.ModeIdentitySession:
		// The facade adopts the session from the identity client's NEW_SESSION event
		if _, err := app.Identity.SignInWithOTP(ctx, opts.Phone, code); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

	case session.ModeServerSession:
		sessionID, err := app.Identity.CreateServerSession(ctx, opts.Phone, code)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := app.Store.SetServerSessionID(sessionID); err != nil {
			return fmt.Errorf("failed to save server session: %w", err)
		}
		if err := app.Facade.MarkAuthenticated(ctx, opts.Mode); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

	case session.ModeBearerToken:
		token, err := app.Identity.IssueBearerToken(ctx, opts.Phone, code)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := app.Store.SetBearerToken(token); err != nil {
			return fmt.Errorf("failed to save bearer token: %w", err)
		}
		if err := app.Facade.MarkAuthenticated(ctx, opts.Mode); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

	default:
		return fmt.Errorf("unsupported strategy '%s'", opts.Mode)
	}

	state := app.Facade.CurrentState()
	if state.Mode != opts.Mode {
		return fmt.Errorf("login did not take effect (current mode: %s)", state.Mode)
	}

	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  %s\n", describeState(state))
	return nil
}
