// ABOUTME: TUI subcommand
// ABOUTME: Opens the weekly session board backed by local storage and the sync engine
package cli

import (
	"context"

	"github.com/harperreed/coachcal/tui"
)

// TUICommand starts the interactive board.
func TUICommand(_ context.Context, app *App) error {
	return tui.Run(tui.Deps{
		Sessions: app.Sessions,
		Routines: app.Routines,
		Status:   app.Runs,
		Syncer: func(ctx context.Context) (tui.Syncer, error) {
			return app.Scheduler(ctx)
		},
		Defaults: app.SyncDefaults(),
	})
}
