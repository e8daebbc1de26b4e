package notification

import (
	"bytes"
	"fmt"
	"html/template"
)

// Email template identifiers.
const (
	TemplateAccountCreated       = "account-created"
	TemplateTransactionCompleted = "transaction-completed"
	TemplateTransactionFailed    = "transaction-failed"
	TemplateSecurityAlert        = "security-alert"
	TemplateSystemAnnouncement   = "system-announcement"
	TemplateAccountSuspended     = "account-suspended"
	TemplateAccountActivated     = "account-activated"
	TemplateGeneric              = "notification-generic"
)

// TemplateForType maps a notification type to an email template id.
// Unknown types fall back to the generic template.
func TemplateForType(t Type) string {
	switch t {
	case TypeAccountCreated:
		return TemplateAccountCreated
	case TypeTransactionCompleted:
		return TemplateTransactionCompleted
	case TypeTransactionFailed:
		return TemplateTransactionFailed
	case TypeSecurityAlert:
		return TemplateSecurityAlert
	case TypeSystemAnnouncement:
		return TemplateSystemAnnouncement
	case TypeAccountSuspended:
		return TemplateAccountSuspended
	case TypeAccountActivated:
		return TemplateAccountActivated
	default:
		return TemplateGeneric
	}
}

// Per-template lead line shown above the notification body.
var templateLeads = map[string]string{
	TemplateAccountCreated:       "Welcome to VirtualBank! Your account is ready.",
	TemplateTransactionCompleted: "Your transaction has been completed.",
	TemplateTransactionFailed:    "A transaction on your account could not be completed.",
	TemplateSecurityAlert:        "We detected activity on your account that needs your attention.",
	TemplateSystemAnnouncement:   "An update from VirtualBank.",
	TemplateAccountSuspended:     "Your account has been suspended.",
	TemplateAccountActivated:     "Your account has been activated.",
	TemplateGeneric:              "You have a new notification.",
}

const emailLayout = `
<!DOCTYPE html>
<html>
<head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
    <style>
        body { background-color: #f6f9fc; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; font-size: 16px; line-height: 1.5; margin: 0; padding: 0; }
        .container { display: block; margin: 0 auto; max-width: 580px; padding: 10px; }
        .main { background: #ffffff; border-radius: 8px; border: 1px solid #e1e9ee; padding: 24px; }
        h1 { font-size: 22px; font-weight: 700; margin: 0 0 16px 0; color: #32325d; }
        p { margin: 0 0 16px 0; color: #525f7f; }
        .lead { color: #32325d; font-weight: 600; }
        .priority { display: inline-block; border-radius: 4px; padding: 2px 8px; font-size: 12px; font-weight: 700; background: #f6f9fc; color: #525f7f; }
        .priority-URGENT, .priority-HIGH { background: #fde8e8; color: #c0392b; }
        .footer { margin-top: 16px; text-align: center; color: #8898aa; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="main">
            <h1>{{.Title}}</h1>
            <p class="lead">{{.Lead}}</p>
            <p>{{.Message}}</p>
            <span class="priority priority-{{.Priority}}">{{.Priority}}</span>
        </div>
        <div class="footer">VirtualBank &middot; This is an automated message, please do not reply.</div>
    </div>
</body>
</html>
`

var emailTemplate = template.Must(template.New("email").Parse(emailLayout))

// RenderNotificationEmail produces the HTML body for a notification
// email using the template selected by the notification's type.
func RenderNotificationEmail(n *Notification) (string, error) {
	id := TemplateForType(n.Type)
	data := struct {
		Title    string
		Lead     string
		Message  string
		Priority Priority
	}{
		Title:    n.Title,
		Lead:     templateLeads[id],
		Message:  n.Message,
		Priority: n.Priority,
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render email template %s: %w", id, err)
	}
	return buf.String(), nil
}
