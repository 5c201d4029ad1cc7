package gmailclient

import (
	"context"
	"fmt"
	"time"

	"github.com/rizoma-coop/tapir/pkg/core/services"
	"github.com/rizoma-coop/tapir/pkg/db"
)

// Notifier delivers shift engine notifications by email. It resolves the
// recipient's address from their shift user data.
type Notifier struct {
	client *Client
	users  db.UserDataStore
}

// NewNotifier creates a Notifier backed by the given Gmail client
func NewNotifier(client *Client, users db.UserDataStore) *Notifier {
	return &Notifier{client: client, users: users}
}

// Send implements services.Notifier
func (n *Notifier) Send(ctx context.Context, notification services.Notification) error {
	userData, err := n.users.GetShiftUserData(ctx, notification.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to look up recipient: %w", err)
	}
	if userData == nil || userData.Email == "" {
		return fmt.Errorf("no email address for member %s", notification.RecipientID)
	}

	subject, body := renderNotification(notification, userData.DisplayName)
	return n.client.SendEmail(userData.Email, subject, body)
}

// renderNotification builds the subject and body for a notification kind
func renderNotification(n services.Notification, name string) (string, string) {
	greeting := fmt.Sprintf("Hi %s,\n\n", name)
	shiftName := n.Context["shift_name"]
	shiftStart := formatShiftStart(n.Context["shift_start"])

	switch n.Kind {
	case services.NotificationShiftMissed:
		return fmt.Sprintf("Missed shift: %s", shiftName),
			greeting + fmt.Sprintf(
				"You were registered for the shift %q on %s but did not attend. "+
					"One point has been deducted from your shift account.\n\n"+
					"If you were excused, please contact the membership office.",
				shiftName, shiftStart)
	case services.NotificationStandInFound:
		return fmt.Sprintf("Stand-in found for %s", shiftName),
			greeting + fmt.Sprintf(
				"Good news: another member took over your shift %q on %s. "+
					"You are no longer registered for it.",
				shiftName, shiftStart)
	case services.NotificationFreezeWarning:
		return "Warning: your shift account is in the red",
			greeting + fmt.Sprintf(
				"Your shift account balance has fallen to %s points or below. "+
					"Please register for make-up shifts soon, otherwise your membership "+
					"status will be set to frozen and you will lose shopping access.",
				n.Context["threshold"])
	case services.NotificationMemberFrozen:
		return "Your membership status has been frozen",
			greeting +
				"Your shift account stayed in the red for too long, so your status " +
				"has been set to frozen and your shift registrations were cancelled.\n\n" +
				"Please contact the membership office to arrange your return."
	case services.NotificationUnfrozen:
		return "Welcome back: your membership is active again",
			greeting +
				"Your shift account has recovered and your status is no longer frozen. " +
				"You can register for shifts and shop again."
	case services.NotificationShiftReminder:
		return fmt.Sprintf("Reminder: your shift %s", shiftName),
			greeting + fmt.Sprintf(
				"This is a reminder that you are registered for the shift %q on %s. "+
					"See you there!",
				shiftName, shiftStart)
	default:
		return string(n.Kind), greeting + "You have a new notification from the shift system."
	}
}

// formatShiftStart turns an RFC3339 timestamp into a readable date, falling
// back to the raw value when it does not parse
func formatShiftStart(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format("Monday, 02 Jan 2006 at 15:04")
}
