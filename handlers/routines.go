// ABOUTME: Routine MCP tool handlers
// ABOUTME: Implements add_routine and list_routines
package handlers

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/coachcal/models"
)

type RoutineHandlers struct {
	routines Routines
}

func NewRoutineHandlers(routines Routines) *RoutineHandlers {
	return &RoutineHandlers{routines: routines}
}

type AddRoutineInput struct {
	Name        string `json:"name" jsonschema:"Routine name (required)"`
	ProgramName string `json:"program_name,omitempty" jsonschema:"Program the routine belongs to"`
	Description string `json:"description,omitempty" jsonschema:"Notes shown in calendar events"`
}

type RoutineOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProgramName string `json:"program_name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (h *RoutineHandlers) AddRoutine(ctx context.Context, _ *mcp.CallToolRequest, input AddRoutineInput) (*mcp.CallToolResult, RoutineOutput, error) {
	if input.Name == "" {
		return nil, RoutineOutput{}, fmt.Errorf("name is required")
	}
	r := &models.Routine{Name: input.Name, ProgramName: input.ProgramName, Description: input.Description}
	if err := h.routines.Create(ctx, r); err != nil {
		return nil, RoutineOutput{}, fmt.Errorf("failed to create routine: %w", err)
	}
	return nil, routineToOutput(r), nil
}

type ListRoutinesInput struct{}

type ListRoutinesOutput struct {
	Routines []RoutineOutput `json:"routines"`
}

func (h *RoutineHandlers) ListRoutines(ctx context.Context, _ *mcp.CallToolRequest, _ ListRoutinesInput) (*mcp.CallToolResult, ListRoutinesOutput, error) {
	routines, err := h.routines.List(ctx)
	if err != nil {
		return nil, ListRoutinesOutput{}, fmt.Errorf("failed to list routines: %w", err)
	}
	out := make([]RoutineOutput, len(routines))
	for i := range routines {
		out[i] = routineToOutput(&routines[i])
	}
	return nil, ListRoutinesOutput{Routines: out}, nil
}

func routineToOutput(r *models.Routine) RoutineOutput {
	return RoutineOutput{
		ID:          r.ID.String(),
		Name:        r.Name,
		ProgramName: r.ProgramName,
		Description: r.Description,
	}
}
