package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sonroyaalmerol/itip-engine/internal/itip"
)

// NotificationPayload is the wire shape POSTed to the configured
// notifier endpoint for each recipient of an outbound Message — the
// dispatcher's delivery boundary stands in for the teacher's
// scheduling-inbox write (store.StoreSchedulingObject) since this
// module has no mail transport or CalDAV inbox of its own.
type NotificationPayload struct {
	UID       string `json:"uid"`
	Method    string `json:"method"`
	From      string `json:"from"`
	To        string `json:"to"`
	ICS       string `json:"ics"`
	Generated string `json:"generated_at"`
}

// Notifier delivers computed Messages to their recipients over HTTP,
// one POST per recipient, continuing past individual failures the
// same way the teacher's sendSchedulingMessages loop does.
type Notifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewNotifier(url string, timeout time.Duration, logger zerolog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Deliver posts every message to every one of its recipients. Errors
// for individual recipients are logged, not returned — a notification
// failure must never unwind the scheduling state change that produced it.
func (n *Notifier) Deliver(ctx context.Context, uid string, msgs []itip.Message) {
	if n.url == "" {
		n.logger.Debug().Str("uid", uid).Msg("dispatch notifier disabled, dropping outbound messages")
		return
	}

	for _, msg := range msgs {
		ics, err := encodeCalendar(msg.Body)
		if err != nil {
			n.logger.Error().Err(err).Str("uid", uid).Msg("failed to encode outbound message")
			continue
		}
		for _, to := range msg.To {
			payload := NotificationPayload{
				UID:       uid,
				Method:    string(msg.Method),
				From:      msg.From,
				To:        to,
				ICS:       ics,
				Generated: time.Now().UTC().Format(time.RFC3339),
			}
			if err := n.post(ctx, payload); err != nil {
				n.logger.Error().Err(err).
					Str("uid", uid).
					Str("to", to).
					Str("method", payload.Method).
					Msg("failed to deliver scheduling notification")
			}
		}
	}
}

func (n *Notifier) post(ctx context.Context, payload NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier responded %s", resp.Status)
	}
	return nil
}
