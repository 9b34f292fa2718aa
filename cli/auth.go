// ABOUTME: Sign-in CLI commands for the Google calendar session
// ABOUTME: Handles login via the loopback OAuth flow, logout with revocation, and status
package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/harperreed/coachcal/auth"
)

// AuthLoginCommand signs in to Google Calendar.
func AuthLoginCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("auth login", flag.ExitOnError)
	prompt := fs.String("prompt", "", "OAuth prompt: consent or select_account")
	hint := fs.String("login-hint", "", "Account email to preselect")
	_ = fs.Parse(args)

	if err := app.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("failed to initialize Google client: %w", err)
	}
	if app.Auth.IsAuthenticated() {
		fmt.Println("✓ Already signed in")
		return nil
	}

	fmt.Println("Opening browser for Google sign-in...")
	if err := app.Auth.SignIn(ctx, auth.SignInOptions{Prompt: *prompt, LoginHint: *hint}); err != nil {
		return err
	}

	fmt.Printf("\n✓ Signed in to Google Calendar\n")
	if cred := app.Auth.Credential(); cred != nil && cred.Expiry != nil {
		fmt.Printf("✓ Session valid until %s\n", cred.Expiry.In(app.Location).Format(time.RFC1123))
	}
	fmt.Println("\nReady! Run 'coachcal routine add' and 'coachcal schedule sync' next.")
	return nil
}

// AuthLogoutCommand revokes the token and clears the saved credential.
func AuthLogoutCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("auth logout", flag.ExitOnError)
	_ = fs.Parse(args)

	if err := app.Auth.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	fmt.Println("✓ Signed out")
	return nil
}

// AuthStatusCommand reports the saved credential without contacting Google.
func AuthStatusCommand(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("auth status", flag.ExitOnError)
	_ = fs.Parse(args)

	cred, err := app.Creds.Restore()
	if err != nil {
		return fmt.Errorf("failed to read saved credential: %w", err)
	}

	fmt.Println("Google Calendar")
	fmt.Println("───────────────")
	fmt.Printf("Calendar:  %s\n", app.Config.CalendarID)
	fmt.Printf("Timezone:  %s\n", app.Location)
	if cred == nil {
		fmt.Println("Status:    ✗ not signed in")
		return nil
	}
	fmt.Println("Status:    ✓ signed in")
	if cred.Expiry != nil {
		fmt.Printf("Expires:   %s\n", cred.Expiry.In(app.Location).Format(time.RFC1123))
	} else {
		fmt.Println("Expires:   never")
	}
	return nil
}
