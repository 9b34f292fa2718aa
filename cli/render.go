// ABOUTME: Terminal rendering for sync reports, session tables and reconciliation results
// ABOUTME: Writers are injected so the output can be asserted in tests
package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/sync"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func outcomeLine(r *models.SyncReport) string {
	switch r.Outcome() {
	case models.OutcomeSuccess:
		return okStyle.Render("✓ " + r.Summary())
	case models.OutcomePartial:
		return warnStyle.Render("! " + r.Summary())
	default:
		return failStyle.Render("✗ " + r.Summary())
	}
}

func writeReport(w io.Writer, r *models.SyncReport) {
	fmt.Fprintln(w, outcomeLine(r))
	if len(r.Sessions) > 0 {
		fmt.Fprintln(w)
		writeSessions(w, r.Sessions)
	}
	if len(r.Orphans) > 0 {
		fmt.Fprintln(w, "\nOrphans (run 'coachcal schedule reconcile'):")
		for _, s := range r.Orphans {
			fmt.Fprintf(w, "  %s  %s %s\n", s.ID, s.Weekday(), s.ScheduledTime)
		}
	}
}

func writeSessions(w io.Writer, sessions []models.ScheduledSession) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tFIRST\tTIME\tMIN\tEVENT\tID")
	fmt.Fprintln(tw, "---\t-----\t----\t---\t-----\t--")
	for _, s := range sessions {
		event := "(orphan)"
		if !s.IsOrphan() {
			event = *s.ExternalEventID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.Weekday(), s.ScheduledDate.Format("2006-01-02"), s.ScheduledTime, s.DurationMinutes, event, s.ID)
	}
	tw.Flush()
}

func writeReconcile(w io.Writer, r *sync.ReconcileReport, apply bool) {
	if r.Clean() {
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("✓ %d session(s) match the calendar", r.Matched)))
		return
	}
	fmt.Fprintf(w, "Matched: %d\n", r.Matched)
	for _, s := range r.LocalOrphans {
		fmt.Fprintf(w, "%s  orphan row %s (%s %s)\n", warnStyle.Render("!"), s.ID, s.Weekday(), s.ScheduledTime)
	}
	for _, s := range r.MissingRemote {
		fmt.Fprintf(w, "%s  series %s is gone for %s\n", failStyle.Render("✗"), *s.ExternalEventID, s.ID)
	}
	for _, d := range r.Drifted {
		fmt.Fprintf(w, "%s  %s starts %s, expected %s\n", warnStyle.Render("~"),
			d.Event.ID, d.Event.Start.Format(time.RFC3339), d.Expected.Format(time.RFC3339))
	}
	for _, rs := range r.RemoteOnly {
		origin := "unknown"
		if rs.Known {
			origin = "created here"
		}
		fmt.Fprintf(w, "%s  remote series %s %q has no row (%s)\n", warnStyle.Render("?"), rs.Event.ID, rs.Event.Summary, origin)
	}
	if apply {
		fmt.Fprintf(w, "\nCleared %d stale event id(s)\n", r.Cleared)
	} else if len(r.MissingRemote) > 0 {
		fmt.Fprintln(w, "\nRe-run with --apply to mark missing series as orphans")
	}
}

func writeAvailability(w io.Writer, a *sync.Availability, loc *time.Location) {
	slot := fmt.Sprintf("%s to %s", a.Start.In(loc).Format("Mon Jan 2 15:04"), a.End.In(loc).Format("15:04"))
	if a.Available {
		fmt.Fprintln(w, okStyle.Render("✓ Free: "+slot))
		return
	}
	fmt.Fprintln(w, failStyle.Render("✗ Busy: "+slot))
	for _, ev := range a.Conflicts {
		fmt.Fprintf(w, "  %s  %s to %s\n", ev.Summary, ev.Start.In(loc).Format("15:04"), ev.End.In(loc).Format("15:04"))
	}
}
