// ABOUTME: CLI commands for the credential store backend
// ABOUTME: Status, manual sync and wipe for local BadgerDB or Charm Cloud KV

package charm

import (
	"flag"
	"fmt"
)

// StoreStatusCommand shows which backend holds credentials and how many keys it has.
func StoreStatusCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store status", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg := c.Config()
	fmt.Println("Credential Store")
	fmt.Println("────────────────")
	fmt.Printf("Backend:   %s\n", cfg.Backend)
	if c.Remote() {
		fmt.Printf("Server:    %s\n", cfg.Host)
		fmt.Printf("Auto-sync: %v\n", cfg.AutoSync)
		if id, err := c.ID(); err == nil {
			fmt.Printf("ID:        %s\n", id)
		} else {
			fmt.Println("ID:        unavailable")
		}
	} else {
		fmt.Printf("Path:      %s\n", cfg.LocalPath)
	}

	keys, err := c.Keys()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	fmt.Printf("Keys:      %d\n", len(keys))
	return nil
}

// StoreSyncCommand performs an immediate sync with Charm Cloud.
func StoreSyncCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store sync", flag.ExitOnError)
	_ = fs.Parse(args)

	if !c.Remote() {
		fmt.Println("Local backend, nothing to sync.")
		return nil
	}
	if err := c.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Println("✓ Synced")
	return nil
}

// StoreWipeCommand resets the key-value store, dropping any saved credential.
func StoreWipeCommand(c *Client, args []string) error {
	fs := flag.NewFlagSet("store wipe", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "Confirm data wipe")
	_ = fs.Parse(args)

	if !*confirm {
		fmt.Println("WARNING: This will delete the saved calendar credential!")
		fmt.Println()
		fmt.Println("To confirm, run:")
		fmt.Println("  coachcal store wipe --confirm")
		return nil
	}

	if err := c.Reset(); err != nil {
		return fmt.Errorf("failed to reset KV store: %w", err)
	}
	fmt.Println("✓ Credential store wiped")
	return nil
}
