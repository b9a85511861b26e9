package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/store"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// alertColor matches the treasury embed accent.
const alertColor = 0x3498db

// EventStore is the slice of the mapping store the alerter uses.
type EventStore interface {
	InsertTreasuryEvent(ctx context.Context, ev store.TreasuryEvent) (bool, error)
}

// Activity is one transaction entry of a pushed address-activity payload.
type Activity struct {
	Hash        string  `json:"hash"`
	Value       float64 `json:"value"`
	Asset       string  `json:"asset"`
	FromAddress string  `json:"fromAddress"`
	ToAddress   string  `json:"toAddress"`
}

// Payload is the body of an address-activity webhook delivery.
type Payload struct {
	CreatedAt time.Time `json:"createdAt"`
	Event     struct {
		Activity []Activity `json:"activity"`
	} `json:"event"`
}

// Alerter turns webhook-delivered treasury activity into alert notifications.
// Transaction hashes are the idempotency key; redelivered activity never
// produces a second alert.
type Alerter struct {
	store   EventStore
	gw      gateway.Messenger
	exec    Executor
	address string
	channel string
	tmpl    string
}

// NewAlerter wires the webhook alert path.
func NewAlerter(st EventStore, gw gateway.Messenger, exec Executor, cfg *config.Config) *Alerter {
	return &Alerter{
		store:   st,
		gw:      gw,
		exec:    exec,
		address: cfg.TreasuryAddress,
		channel: cfg.AlertChannelID,
		tmpl:    cfg.AlertTemplate,
	}
}

// HandlePayload parses one webhook delivery and alerts on each unseen
// transaction. A malformed body is an error; a payload without activity is a
// no-op.
func (a *Alerter) HandlePayload(ctx context.Context, body []byte) error {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %w", err)
	}
	for _, act := range payload.Event.Activity {
		if act.Hash == "" {
			continue
		}
		if err := a.handleActivity(ctx, act, payload.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Alerter) handleActivity(ctx context.Context, act Activity, createdAt time.Time) error {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	// The insert reserves the hash before anything is sent. Deliveries arrive
	// on concurrent HTTP goroutines; two redeliveries of the same hash race on
	// the primary key and only the winner alerts.
	inserted, err := a.store.InsertTreasuryEvent(ctx, store.TreasuryEvent{
		TxHash:      act.Hash,
		Value:       act.Value,
		Asset:       act.Asset,
		FromAddress: act.FromAddress,
		ToAddress:   act.ToAddress,
		CreatedAt:   createdAt,
	})
	if err != nil {
		return fmt.Errorf("treasury event insert %s: %w", act.Hash, err)
	}
	if !inserted {
		telemetry.Inc(telemetry.WebhookDuplicates)
		slog.Debug("treasury event already alerted", slog.String("tx_hash", act.Hash))
		return nil
	}
	out := a.render(act)
	if err := a.exec.Do(ctx, func(runCtx context.Context) error {
		_, sendErr := a.gw.SendMessage(runCtx, a.channel, out)
		return sendErr
	}); err != nil {
		return fmt.Errorf("treasury alert send %s: %w", act.Hash, err)
	}
	telemetry.Inc(telemetry.TreasuryAlerts)
	slog.Info("treasury alert sent",
		slog.String("tx_hash", act.Hash), slog.Float64("value", act.Value), slog.String("asset", act.Asset))
	return nil
}

// Direction classifies an activity relative to the treasury address,
// comparing hex addresses case-insensitively.
func (a *Alerter) Direction(act Activity) string {
	if strings.EqualFold(act.ToAddress, a.address) {
		return "received"
	}
	return "sent"
}

func (a *Alerter) render(act Activity) *gateway.Outbound {
	text := a.tmpl
	text = strings.ReplaceAll(text, "{direction}", a.Direction(act))
	text = strings.ReplaceAll(text, "{value}", FormatAmount(act.Value))
	text = strings.ReplaceAll(text, "{asset}", act.Asset)
	return &gateway.Outbound{
		Embed: &gateway.Embed{
			Title:       "Treasury activity",
			Description: fmt.Sprintf("%s\n[view transaction](https://etherscan.io/tx/%s)", text, act.Hash),
			Color:       alertColor,
		},
	}
}
