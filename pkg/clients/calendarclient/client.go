package calendarclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/rizoma-coop/tapir/internal/config"
	"github.com/rizoma-coop/tapir/pkg/db"
	"github.com/rizoma-coop/tapir/pkg/utils"
)

// Client mirrors attendance changes into a Google Calendar
type Client struct {
	service    *calendar.Service
	ctx        context.Context
	calendarID string
}

// NewClient creates a new Calendar client using an existing OAuth token
// The token should already contain all necessary scopes (gmail, calendar)
func NewClient(ctx context.Context, oauthCfg *config.OAuthClientConfig, token *oauth2.Token, calendarID string) (*Client, error) {
	oauthConfig, err := utils.GetOAuthConfig(oauthCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth config: %w", err)
	}

	httpClient := oauthConfig.Client(ctx, token)

	service, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{
		service:    service,
		ctx:        ctx,
		calendarID: calendarID,
	}, nil
}

// OnAttendanceChanged implements services.CalendarSync. A valid attendance
// is upserted as a calendar event, anything else removes the event.
func (c *Client) OnAttendanceChanged(ctx context.Context, detail db.AttendanceDetail) error {
	eventID := eventIDForAttendance(detail.Attendance.ID)

	if !expectedToShowUp(detail.Attendance.State) {
		err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete calendar event: %w", err)
		}
		return nil
	}

	event := &calendar.Event{
		Id:          eventID,
		Summary:     fmt.Sprintf("%s: %s", detail.ShiftName, detail.SlotName),
		Description: fmt.Sprintf("Shift slot held by member %s", detail.Attendance.UserID),
		Start:       &calendar.EventDateTime{DateTime: detail.ShiftStart.Format("2006-01-02T15:04:05Z07:00")},
		End:         &calendar.EventDateTime{DateTime: detail.ShiftEnd.Format("2006-01-02T15:04:05Z07:00")},
	}

	_, err := c.service.Events.Update(c.calendarID, eventID, event).Context(ctx).Do()
	if isNotFound(err) {
		_, err = c.service.Events.Insert(c.calendarID, event).Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("failed to upsert calendar event: %w", err)
	}

	return nil
}

func expectedToShowUp(state db.AttendanceState) bool {
	for _, s := range db.ExpectedToShowUpStates {
		if s == state {
			return true
		}
	}
	return false
}

// eventIDForAttendance derives a stable calendar event ID from an attendance
// ID. Calendar event IDs only allow base32hex characters, which UUID hex
// digits satisfy once the dashes are stripped.
func eventIDForAttendance(attendanceID string) string {
	return strings.ToLower(strings.ReplaceAll(attendanceID, "-", ""))
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
