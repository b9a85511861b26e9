package treasury

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/testutil"
)

func TestWeiToEther(t *testing.T) {
	cases := []struct {
		name string
		wei  string
		want float64
	}{
		{"zero", "0", 0},
		{"one ether", "1000000000000000000", 1},
		{"fractional", "1500000000000000000", 1.5},
		{"rounds to four decimals", "123456789000000000", 0.1235},
		{"large balance", "250000000000000000000", 250},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wei, ok := new(big.Int).SetString(tc.wei, 10)
			if !ok {
				t.Fatalf("bad wei literal %q", tc.wei)
			}
			if got := WeiToEther(wei); got != tc.want {
				t.Errorf("WeiToEther(%s) = %v, want %v", tc.wei, got, tc.want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(1.5); got != "1.5" {
		t.Errorf("FormatAmount(1.5) = %q", got)
	}
	if got := FormatAmount(250); got != "250" {
		t.Errorf("FormatAmount(250) = %q", got)
	}
}

func newTestAlerter(t *testing.T) (*Alerter, *testutil.MemStore, *testutil.FakeGateway) {
	t.Helper()
	st := testutil.NewMemStore()
	gw := testutil.NewFakeGateway()
	cfg := &config.Config{
		TreasuryAddress: "0xAbCd000000000000000000000000000000000001",
		AlertChannelID:  "alerts",
		AlertTemplate:   "{direction} {value} {asset}",
	}
	return NewAlerter(st, gw, testutil.SyncExec{}, cfg), st, gw
}

func activityPayload(hash string, value float64, to string) string {
	return `{"createdAt":"2025-06-01T12:00:00Z","event":{"activity":[{"hash":"` + hash +
		`","value":` + FormatAmount(value) + `,"asset":"ETH","fromAddress":"0xsender","toAddress":"` + to + `"}]}}`
}

func TestHandlePayloadAlertsOnce(t *testing.T) {
	a, _, gw := newTestAlerter(t)
	ctx := context.Background()
	body := activityPayload("0xaaa", 1.5, "0xabcd000000000000000000000000000000000001")

	if err := a.HandlePayload(ctx, []byte(body)); err != nil {
		t.Fatalf("HandlePayload failed: %v", err)
	}
	if len(gw.Sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(gw.Sent))
	}
	if gw.Sent[0].ChannelID != "alerts" {
		t.Errorf("alert sent to %q", gw.Sent[0].ChannelID)
	}
	embed := gw.Sent[0].Out.Embed
	if embed == nil || !strings.Contains(embed.Description, "received 1.5 ETH") {
		t.Errorf("alert embed = %+v, want received direction", embed)
	}

	// Redelivery of the same hash must not alert again.
	if err := a.HandlePayload(ctx, []byte(body)); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if len(gw.Sent) != 1 {
		t.Errorf("redelivery sent %d alerts, want 1", len(gw.Sent))
	}
}

func TestHandlePayloadConcurrentRedelivery(t *testing.T) {
	a, _, gw := newTestAlerter(t)
	body := []byte(activityPayload("0xccc", 2, "0xabcd000000000000000000000000000000000001"))

	// Webhook deliveries arrive on concurrent HTTP goroutines; the hash
	// reservation must let exactly one of them alert.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.HandlePayload(context.Background(), body); err != nil {
				t.Errorf("HandlePayload failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(gw.Sent) != 1 {
		t.Fatalf("concurrent redeliveries sent %d alerts, want 1", len(gw.Sent))
	}
}

func TestHandlePayloadOutgoingDirection(t *testing.T) {
	a, _, gw := newTestAlerter(t)
	body := activityPayload("0xbbb", 0.25, "0xsomeoneelse")

	if err := a.HandlePayload(context.Background(), []byte(body)); err != nil {
		t.Fatalf("HandlePayload failed: %v", err)
	}
	embed := gw.Sent[0].Out.Embed
	if embed == nil || !strings.Contains(embed.Description, "sent 0.25 ETH") {
		t.Errorf("alert embed = %+v, want sent direction", embed)
	}
}

func TestHandlePayloadMalformed(t *testing.T) {
	a, _, gw := newTestAlerter(t)
	if err := a.HandlePayload(context.Background(), []byte("{not json")); err == nil {
		t.Error("malformed body must be an error")
	}
	if len(gw.Sent) != 0 {
		t.Error("malformed body must not alert")
	}
}

func TestHandlePayloadEmptyActivity(t *testing.T) {
	a, _, gw := newTestAlerter(t)
	if err := a.HandlePayload(context.Background(), []byte(`{"event":{"activity":[]}}`)); err != nil {
		t.Fatalf("empty activity failed: %v", err)
	}
	if len(gw.Sent) != 0 {
		t.Error("empty activity must not alert")
	}
}

func TestDirectionCaseInsensitive(t *testing.T) {
	a, _, _ := newTestAlerter(t)
	act := Activity{ToAddress: "0xABCD000000000000000000000000000000000001"}
	if a.Direction(act) != "received" {
		t.Error("address comparison must ignore case")
	}
}
