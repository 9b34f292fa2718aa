// ABOUTME: Schedule CLI commands driving the calendar sync engine
// ABOUTME: Covers weekly sync, session edits and removal, orphans, reconciliation and availability
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/coachcal/db"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/recurrence"
	"github.com/harperreed/coachcal/sync"
)

// ScheduleSyncCommand pushes a weekly assignment to the calendar.
func ScheduleSyncCommand(ctx context.Context, app *App, args []string) error {
	defaults := app.SyncDefaults()

	fs := flag.NewFlagSet("schedule sync", flag.ExitOnError)
	assign := fs.String("assign", "", `Weekday to routine map, e.g. "mon=Lower Body,wed=Upper Body" (required)`)
	email := fs.String("email", defaults.AttendeeEmail, "Attendee email for invitations")
	timeOfDay := fs.String("time", defaults.TimeOfDay, "Session start time (HH:MM)")
	minutes := fs.Int("minutes", defaults.DurationMinutes, "Session length in minutes")
	weeks := fs.Int("weeks", defaults.Occurrences, "Number of weekly occurrences")
	start := fs.String("start", "", "First date to schedule from (YYYY-MM-DD, default today)")
	calendarID := fs.String("calendar", defaults.CalendarID, "Calendar ID")
	_ = fs.Parse(args)

	if *assign == "" {
		return fmt.Errorf("--assign is required")
	}
	assignment, err := parseAssignment(ctx, app, *assign)
	if err != nil {
		return err
	}

	sc := defaults
	sc.AttendeeEmail = *email
	sc.TimeOfDay = *timeOfDay
	sc.DurationMinutes = *minutes
	sc.Occurrences = *weeks
	sc.CalendarID = *calendarID
	if *start != "" {
		d, err := time.ParseInLocation(db.DateLayout, *start, app.Location)
		if err != nil {
			return fmt.Errorf("--start must be YYYY-MM-DD: %w", err)
		}
		sc.StartDate = d
	}

	sc, err = sc.Normalize()
	if err != nil {
		return err
	}
	scheduler, err := app.Scheduler(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Syncing %d day(s) to %s...\n\n", len(assignment), sc.CalendarID)
	report, err := scheduler.SyncWeeklyAssignment(ctx, assignment, sc)
	if report != nil {
		writeReport(os.Stdout, report)
	}
	return err
}

// ListSessionsCommand shows the owner's scheduled sessions.
func ListSessionsCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("schedule list", flag.ExitOnError)
	_ = fs.Parse(args)

	sessions, err := app.Sessions.ListByOwner(ctx, app.Owner)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions scheduled")
		return nil
	}
	writeSessions(os.Stdout, sessions)
	fmt.Printf("\nTotal: %d session(s)\n", len(sessions))
	return nil
}

// UpdateSessionCommand edits one session and its calendar series.
func UpdateSessionCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("schedule update", flag.ExitOnError)
	idStr := fs.String("id", "", "Session ID (required)")
	timeOfDay := fs.String("time", "", "New start time (HH:MM)")
	minutes := fs.Int("minutes", 0, "New length in minutes")
	routineRef := fs.String("routine", "", "New routine name or ID")
	_ = fs.Parse(args)

	id, err := requireID(*idStr)
	if err != nil {
		return err
	}

	var change sync.SessionChange
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "time":
			change.TimeOfDay = timeOfDay
		case "minutes":
			change.DurationMinutes = minutes
		}
	})
	if *routineRef != "" {
		r, err := app.ResolveRoutine(ctx, *routineRef)
		if err != nil {
			return err
		}
		change.RoutineID = &r.ID
	}

	scheduler, err := app.Scheduler(ctx)
	if err != nil {
		return err
	}
	s, err := scheduler.UpdateSession(ctx, id, change)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Session updated: %s %s for %d min\n", s.Weekday(), s.ScheduledTime, s.DurationMinutes)
	return nil
}

// RemoveSessionCommand deletes a session and its calendar series.
func RemoveSessionCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("schedule remove", flag.ExitOnError)
	idStr := fs.String("id", "", "Session ID (required)")
	_ = fs.Parse(args)

	id, err := requireID(*idStr)
	if err != nil {
		return err
	}
	scheduler, err := app.Scheduler(ctx)
	if err != nil {
		return err
	}
	if err := scheduler.RemoveSession(ctx, id); err != nil {
		return err
	}
	fmt.Printf("✓ Session removed: %s\n", id)
	return nil
}

// OrphansCommand lists rows that lost their calendar event.
func OrphansCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("schedule orphans", flag.ExitOnError)
	_ = fs.Parse(args)

	orphans, err := app.Sessions.ListOrphans(ctx, app.Owner)
	if err != nil {
		return fmt.Errorf("failed to list orphans: %w", err)
	}
	if len(orphans) == 0 {
		fmt.Println("✓ No orphaned sessions")
		return nil
	}
	writeSessions(os.Stdout, orphans)
	fmt.Printf("\n%d orphan record(s); remove them with 'coachcal schedule remove --id'\n", len(orphans))
	return nil
}

// ReconcileCommand compares local sessions with the calendar.
func ReconcileCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("schedule reconcile", flag.ExitOnError)
	apply := fs.Bool("apply", false, "Clear event ids whose series no longer exists")
	calendarID := fs.String("calendar", app.Config.CalendarID, "Calendar ID")
	_ = fs.Parse(args)

	scheduler, err := app.Scheduler(ctx)
	if err != nil {
		return err
	}
	report, err := scheduler.Reconcile(ctx, app.Owner, *calendarID, *apply)
	if report != nil {
		writeReconcile(os.Stdout, report, *apply)
	}
	return err
}

// AvailabilityCommand checks whether a slot is free.
func AvailabilityCommand(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("schedule availability", flag.ExitOnError)
	start := fs.String("start", "", "Slot start, YYYY-MM-DDTHH:MM in the configured zone (required)")
	minutes := fs.Int("minutes", app.Config.SessionMinutes, "Slot length in minutes")
	calendarID := fs.String("calendar", app.Config.CalendarID, "Calendar ID")
	_ = fs.Parse(args)

	if *start == "" {
		return fmt.Errorf("--start is required")
	}
	from, err := time.ParseInLocation("2006-01-02T15:04", *start, app.Location)
	if err != nil {
		return fmt.Errorf("--start must be YYYY-MM-DDTHH:MM: %w", err)
	}
	if *minutes <= 0 {
		return fmt.Errorf("--minutes must be positive")
	}

	scheduler, err := app.Scheduler(ctx)
	if err != nil {
		return err
	}
	avail, err := scheduler.CheckAvailability(ctx, *calendarID, from, from.Add(time.Duration(*minutes)*time.Minute))
	if err != nil {
		return err
	}
	writeAvailability(os.Stdout, avail, app.Location)
	return nil
}

// parseAssignment reads "mon=Lower Body,wed=<uuid>" into an assignment.
func parseAssignment(ctx context.Context, app *App, raw string) (models.WeeklyAssignment, error) {
	assignment := models.WeeklyAssignment{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dayStr, ref, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(ref) == "" {
			return nil, fmt.Errorf("assignment %q must look like day=routine", part)
		}
		day, err := recurrence.ParseWeekday(strings.TrimSpace(dayStr))
		if err != nil {
			return nil, err
		}
		if _, dup := assignment[day]; dup {
			return nil, fmt.Errorf("%s is assigned twice", day)
		}
		routine, err := app.ResolveRoutine(ctx, strings.TrimSpace(ref))
		if err != nil {
			return nil, err
		}
		assignment[day] = routine.ID
	}
	if len(assignment) == 0 {
		return nil, fmt.Errorf("assignment is empty")
	}
	return assignment, nil
}

func requireID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("--id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session ID: %w", err)
	}
	return id, nil
}
