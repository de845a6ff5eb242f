package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"wabridge/db"
	"wabridge/wa"
)

// Sender delivers a reply back out through the tenant's live session.
// Implemented by the session manager.
type Sender interface {
	Send(ctx context.Context, tenantID, phone, text string) (wa.Receipt, error)
}

// Replier turns inbound text into a reply. Implemented by the assistant
// client.
type Replier interface {
	GenerateReply(ctx context.Context, tenantID, clientID, text string) (string, error)
}

// DirectDispatch builds the synchronous pipeline: log the inbound message,
// ask the assistant for a reply, send it back, log the outbound message.
// The logbook is optional; history logging is best-effort either way.
func DirectDispatch(replier Replier, sender Sender, logbook *db.MessageLog) Dispatch {
	return func(ctx context.Context, msg Message) error {
		var client *db.ClientRecord
		if logbook != nil {
			var err error
			client, err = logbook.FindOrCreateClient(ctx, msg.TenantID, msg.From, msg.Name)
			if err != nil {
				log.Warn().Err(err).Str("tenant", msg.TenantID).Msg("failed to upsert client record")
				client = nil
			} else if err := logbook.SaveMessage(ctx, msg.TenantID, client.ID, msg.Text, db.DirectionInbound); err != nil {
				log.Warn().Err(err).Str("tenant", msg.TenantID).Msg("failed to log inbound message")
			}
		}

		clientID := msg.From
		if client != nil {
			clientID = client.ID.Hex()
		}

		reply, err := replier.GenerateReply(ctx, msg.TenantID, clientID, msg.Text)
		if err != nil {
			return fmt.Errorf("assistant call failed: %w", err)
		}
		if reply == "" {
			return nil
		}

		if _, err := sender.Send(ctx, msg.TenantID, msg.From, reply); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}

		if logbook != nil && client != nil {
			if err := logbook.SaveMessage(ctx, msg.TenantID, client.ID, reply, db.DirectionOutbound); err != nil {
				log.Warn().Err(err).Str("tenant", msg.TenantID).Msg("failed to log outbound message")
			}
		}
		return nil
	}
}

// webhookPayload matches what the external queue-processing function
// expects; it performs its own debouncing and sends the eventual reply back
// through POST /send-message.
type webhookPayload struct {
	TenantID    string `json:"tenant_id"`
	ClientPhone string `json:"client_phone"`
	Message     string `json:"message"`
	ClientName  string `json:"client_name"`
}

// WebhookDispatch builds the fire-and-forget pipeline: hand the message to
// an external webhook and let it queue, debounce, and reply on its own
// schedule.
func WebhookDispatch(url string, client *http.Client) Dispatch {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, msg Message) error {
		if url == "" {
			return fmt.Errorf("reply webhook URL is not configured")
		}

		body, err := json.Marshal(webhookPayload{
			TenantID:    msg.TenantID,
			ClientPhone: msg.From,
			Message:     msg.Text,
			ClientName:  msg.Name,
		})
		if err != nil {
			return fmt.Errorf("failed to encode webhook payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook call failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(detail))
		}
		return nil
	}
}
