// ABOUTME: Calendar API client setup for Google Calendar integration
// ABOUTME: Builds an authenticated Calendar service from the session's token source
package sync

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// NewCalendarService creates a Google Calendar API service whose requests
// carry tokens from ts. Extra options are applied after the token source.
func NewCalendarService(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*calendar.Service, error) {
	if ts == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}

	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	service, err := calendar.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return service, nil
}
