// Package router receives raw inbound message events, filters noise, and
// forwards clean text to the configured reply pipeline.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wabridge/wa"
)

// Message is one inbound text after filtering and extraction.
type Message struct {
	TenantID  string    `json:"tenant_id"`
	From      string    `json:"client_phone"`
	Name      string    `json:"client_name"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatch forwards a message to exactly one reply mechanism. Injected at
// startup; direct and webhook implementations live in dispatch.go.
type Dispatch func(ctx context.Context, msg Message) error

// Router consumes messaging-client events for all tenants.
type Router struct {
	dispatch Dispatch
	timeout  time.Duration
}

func New(dispatch Dispatch) *Router {
	return &Router{
		dispatch: dispatch,
		timeout:  2 * time.Minute,
	}
}

// Handle processes one inbound event. Any failure is contained here: one
// malformed message must never take down the event loop or the connection.
func (r *Router) Handle(tenantID string, ev wa.MessageEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("tenant", tenantID).Msg("recovered while processing inbound message")
		}
	}()

	if ev.FromMe || ev.Broadcast {
		return
	}

	text := extractText(ev)
	if text == "" {
		return
	}

	phone := wa.PhoneNumber(ev.Chat)
	name := ev.PushName
	if name == "" {
		name = phone
	}

	msg := Message{
		TenantID:  tenantID,
		From:      phone,
		Name:      name,
		Text:      text,
		Timestamp: ev.Timestamp,
	}

	log.Info().Str("tenant", tenantID).Str("from", phone).Int("len", len(text)).Msg("inbound message")

	if r.dispatch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.dispatch(ctx, msg); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Str("from", phone).Msg("failed to dispatch inbound message")
	}
}

// extractText picks the first non-empty of the two payload shapes.
func extractText(ev wa.MessageEvent) string {
	if t := strings.TrimSpace(ev.Conversation); t != "" {
		return t
	}
	return strings.TrimSpace(ev.ExtendedText)
}
