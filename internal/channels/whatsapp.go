package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/inspectly/report-scheduler/internal/config"
	"github.com/inspectly/report-scheduler/internal/notifier"
)

// WhatsAppChannel delivers report notifications through the WhatsApp
// Business Cloud API. The Cloud API takes one recipient per message, so a
// send fans out into one request per recipient with a phone number.
type WhatsAppChannel struct {
	config config.WhatsAppConfig
	client *http.Client
}

// NewWhatsAppChannel creates a new WhatsApp channel
func NewWhatsAppChannel(cfg config.WhatsAppConfig) *WhatsAppChannel {
	return &WhatsAppChannel{
		config: cfg,
		client: &http.Client{},
	}
}

// whatsAppMessage is the Cloud API message request body
type whatsAppMessage struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         whatsAppTemplate `json:"template"`
}

type whatsAppTemplate struct {
	Name       string              `json:"name"`
	Language   whatsAppLanguage    `json:"language"`
	Components []whatsAppComponent `json:"components,omitempty"`
}

type whatsAppLanguage struct {
	Code string `json:"code"`
}

type whatsAppComponent struct {
	Type       string              `json:"type"`
	Parameters []whatsAppParameter `json:"parameters"`
}

type whatsAppParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// whatsAppResponse is the Cloud API response body
type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers the report summary to every recipient with a phone
// number. Per-recipient failures are collected; the result fails when no
// recipient could be reached.
func (w *WhatsAppChannel) Send(ctx context.Context, recipients []notifier.Recipient, payload notifier.ReportPayload) notifier.DeliveryResult {
	var attempted, delivered int
	var lastErr string

	for _, r := range recipients {
		if r.Phone == "" {
			continue
		}
		attempted++
		if err := w.sendOne(ctx, r.Phone, payload); err != nil {
			lastErr = err.Error()
			log.Printf("Failed to send WhatsApp report to %s: %v", r.Phone, err)
			continue
		}
		delivered++
	}

	if attempted == 0 {
		return notifier.DeliveryResult{
			Channel:      notifier.ChannelWhatsApp,
			ErrorMessage: "no recipients with phone numbers",
		}
	}
	if delivered == 0 {
		return notifier.DeliveryResult{
			Channel:      notifier.ChannelWhatsApp,
			ErrorMessage: fmt.Sprintf("all %d sends failed, last error: %s", attempted, lastErr),
		}
	}

	log.Printf("Sent WhatsApp report to %d of %d recipients", delivered, attempted)
	return notifier.DeliveryResult{
		Channel: notifier.ChannelWhatsApp,
		Success: true,
	}
}

// sendOne sends the report template message to a single phone number
func (w *WhatsAppChannel) sendOne(ctx context.Context, phone string, payload notifier.ReportPayload) error {
	msg := whatsAppMessage{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "template",
		Template: whatsAppTemplate{
			Name:     w.config.TemplateName,
			Language: whatsAppLanguage{Code: "en"},
			Components: []whatsAppComponent{
				{
					Type: "body",
					Parameters: []whatsAppParameter{
						{Type: "text", Text: payload.Title},
						{Type: "text", Text: fmt.Sprintf("%d", payload.Total)},
						{Type: "text", Text: fmt.Sprintf("%d", payload.Passed)},
						{Type: "text", Text: fmt.Sprintf("%d", payload.Failed)},
					},
				},
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.config.BaseURL, w.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.config.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var waResp whatsAppResponse
	if err := json.NewDecoder(resp.Body).Decode(&waResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if waResp.Error != nil {
			return fmt.Errorf("cloud api error %d: %s", waResp.Error.Code, waResp.Error.Message)
		}
		return fmt.Errorf("cloud api returned status %d", resp.StatusCode)
	}
	return nil
}

// Type returns the channel type
func (w *WhatsAppChannel) Type() string {
	return notifier.ChannelWhatsApp
}
