// ABOUTME: Routine CLI commands
// ABOUTME: Adds and lists the training routines that weekly assignments refer to
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/harperreed/coachcal/models"
)

// AddRoutineCommand adds a new routine
func AddRoutineCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("routine add", flag.ExitOnError)
	name := fs.String("name", "", "Routine name (required)")
	program := fs.String("program", "", "Program the routine belongs to")
	description := fs.String("description", "", "Notes shown in the calendar event")
	_ = fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("--name is required")
	}

	routine := &models.Routine{
		Name:        *name,
		ProgramName: *program,
		Description: *description,
	}
	if err := app.Routines.Create(ctx, routine); err != nil {
		return fmt.Errorf("failed to create routine: %w", err)
	}

	fmt.Printf("✓ Routine created: %s (ID: %s)\n", routine.Name, routine.ID)
	if routine.ProgramName != "" {
		fmt.Printf("  Program: %s\n", routine.ProgramName)
	}
	return nil
}

// ListRoutinesCommand lists all routines
func ListRoutinesCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("routine list", flag.ExitOnError)
	_ = fs.Parse(args)

	routines, err := app.Routines.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list routines: %w", err)
	}
	if len(routines) == 0 {
		fmt.Println("No routines found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROGRAM\tID")
	fmt.Fprintln(w, "----\t-------\t--")
	for _, r := range routines {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, orDash(r.ProgramName), r.ID)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d routine(s)\n", len(routines))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
