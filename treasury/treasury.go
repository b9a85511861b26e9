// Package treasury watches the community treasury address: a polling job that
// surfaces the current balance through the bot's presence, and a webhook
// handler that turns pushed transaction activity into alert notifications.
package treasury

import (
	"context"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/warmindo-dev/forum-relay/config"
	"github.com/warmindo-dev/forum-relay/gateway"
	"github.com/warmindo-dev/forum-relay/telemetry"
)

// Executor serializes presence and alert writes with the event handlers.
type Executor interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Monitor polls the treasury balance and publishes it as the bot's presence.
type Monitor struct {
	client   *ethclient.Client
	presence gateway.PresenceSetter
	exec     Executor
	address  common.Address
	template string
	interval time.Duration
}

// NewMonitor dials the RPC endpoint and wires the balance poller.
func NewMonitor(ctx context.Context, presence gateway.PresenceSetter, exec Executor, cfg *config.Config) (*Monitor, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		client:   client,
		presence: presence,
		exec:     exec,
		address:  common.HexToAddress(cfg.TreasuryAddress),
		template: cfg.PresenceTemplate,
		interval: cfg.TreasuryInterval,
	}, nil
}

// Start polls until ctx is cancelled. A failed poll is logged and retried on
// the next tick; the presence simply goes stale in between.
func (m *Monitor) Start(ctx context.Context) {
	slog.Info("treasury monitor starting",
		slog.String("address", m.address.Hex()), slog.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.poll(ctx); err != nil {
			slog.Warn("treasury poll failed", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			m.client.Close()
			slog.Info("treasury monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) error {
	wei, err := m.client.BalanceAt(ctx, m.address, nil)
	if err != nil {
		return err
	}
	balance := WeiToEther(wei)
	telemetry.SetTreasuryBalance(balance)
	status := strings.ReplaceAll(m.template, "{value}", FormatAmount(balance))
	return m.exec.Do(ctx, func(context.Context) error {
		return m.presence.SetWatchingStatus(status)
	})
}

// WeiToEther converts a wei balance to ether rounded to four decimals.
func WeiToEther(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return math.Round(f*1e4) / 1e4
}

// FormatAmount renders an asset amount without trailing zeros.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
