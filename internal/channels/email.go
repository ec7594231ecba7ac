package channels

import (
	"context"
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/inspectly/report-scheduler/internal/config"
	"github.com/inspectly/report-scheduler/internal/notifier"
)

// EmailChannel delivers report notifications using SendGrid
type EmailChannel struct {
	client *sendgrid.Client
	config config.SendGridConfig
}

// NewEmailChannel creates a new email channel
func NewEmailChannel(cfg config.SendGridConfig) *EmailChannel {
	client := sendgrid.NewSendClient(cfg.APIKey)
	return &EmailChannel{
		client: client,
		config: cfg,
	}
}

// Send delivers the report to every recipient in a single SendGrid call.
// Provider failures come back in the result so the evaluator can continue.
func (e *EmailChannel) Send(ctx context.Context, recipients []notifier.Recipient, payload notifier.ReportPayload) notifier.DeliveryResult {
	log.Printf("Sending report email %q to %d recipients", payload.Title, len(recipients))

	fromName := e.config.FromName
	if fromName == "" {
		fromName = "Inspection Reports"
	}
	from := mail.NewEmail(fromName, e.config.FromEmail)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = payload.Title

	personalization := mail.NewPersonalization()
	for _, r := range recipients {
		personalization.AddTos(mail.NewEmail(r.Name, r.Email))
	}
	message.AddPersonalizations(personalization)

	body := formatReportText(payload)
	message.AddContent(mail.NewContent("text/plain", body))

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		log.Printf("Failed to send report email: %v", err)
		return notifier.DeliveryResult{
			Channel:      notifier.ChannelEmail,
			ErrorMessage: err.Error(),
		}
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		var messageID string
		if msgIDs, ok := response.Headers["X-Message-Id"]; ok && len(msgIDs) > 0 {
			messageID = msgIDs[0]
		}
		log.Printf("Successfully sent report email (SendGrid ID: %s)", messageID)
		return notifier.DeliveryResult{
			Channel: notifier.ChannelEmail,
			Success: true,
		}
	}

	errorMsg := fmt.Sprintf("SendGrid returned status %d: %s", response.StatusCode, response.Body)
	log.Printf("Report email failed: %s", errorMsg)
	return notifier.DeliveryResult{
		Channel:      notifier.ChannelEmail,
		ErrorMessage: errorMsg,
	}
}

// Type returns the channel type
func (e *EmailChannel) Type() string {
	return notifier.ChannelEmail
}
