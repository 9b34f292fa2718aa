// ABOUTME: MCP server subcommand
// ABOUTME: Serves the routine and session tools over stdio
package cli

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/coachcal/handlers"
)

// Version is reported by the MCP server and --version.
var Version = "0.1.0"

// NewMCPServer registers every tool against app.
func NewMCPServer(app *App) *mcp.Server {
	source := func(ctx context.Context) (handlers.Scheduler, error) {
		return app.Scheduler(ctx)
	}
	sessionHandlers := handlers.NewSessionHandlers(source, app.Routines, app.SyncDefaults())
	routineHandlers := handlers.NewRoutineHandlers(app.Routines)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "coachcal",
		Version: Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_routine",
		Description: "Add a training routine that can be assigned to weekdays",
	}, routineHandlers.AddRoutine)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_routines",
		Description: "List all training routines",
	}, routineHandlers.ListRoutines)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_weekly_assignment",
		Description: "Create one weekly recurring calendar series per assigned weekday, with reminders and an attendee invite",
	}, sessionHandlers.SyncWeeklyAssignment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List scheduled sessions, Monday first",
	}, sessionHandlers.ListSessions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_session",
		Description: "Change a session's time, length or routine on the calendar and locally",
	}, sessionHandlers.UpdateSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_session",
		Description: "Delete a session's calendar series and its local record",
	}, sessionHandlers.RemoveSession)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_orphans",
		Description: "List sessions whose calendar event could not be confirmed",
	}, sessionHandlers.ListOrphans)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reconcile",
		Description: "Compare local sessions with the calendar and report orphans, missing series and drift",
	}, sessionHandlers.Reconcile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_availability",
		Description: "Check whether a time slot is free on the calendar",
	}, sessionHandlers.CheckAvailability)

	return server
}

// MCPCommand starts the MCP server on stdio
func MCPCommand(ctx context.Context, app *App) error {
	app.Logger.Info("starting coachcal MCP server")
	return NewMCPServer(app).Run(ctx, &mcp.StdioTransport{})
}
