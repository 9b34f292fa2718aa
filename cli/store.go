// ABOUTME: Credential store CLI commands
// ABOUTME: Status, sync and wipe for the key-value medium holding the sign-in token
package cli

import (
	"fmt"

	"github.com/harperreed/coachcal/charm"
)

// StoreCommand routes "store status|sync|wipe".
func StoreCommand(app *App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("store requires a subcommand: status, sync or wipe")
	}
	switch args[0] {
	case "status":
		return charm.StoreStatusCommand(app.KV, args[1:])
	case "sync":
		return charm.StoreSyncCommand(app.KV, args[1:])
	case "wipe":
		return charm.StoreWipeCommand(app.KV, args[1:])
	default:
		return fmt.Errorf("unknown store command: %s", args[0])
	}
}
