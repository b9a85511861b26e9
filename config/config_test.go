package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReconcileInterval != 15*time.Minute {
		t.Errorf("ReconcileInterval = %v, want 15m", cfg.ReconcileInterval)
	}
	if cfg.StalenessThreshold != 72*time.Hour {
		t.Errorf("StalenessThreshold = %v, want 72h", cfg.StalenessThreshold)
	}
	if cfg.HistoryFetchLimit != 300 {
		t.Errorf("HistoryFetchLimit = %d, want 300", cfg.HistoryFetchLimit)
	}
	if cfg.MirrorChunkLimit != 1900 {
		t.Errorf("MirrorChunkLimit = %d, want 1900", cfg.MirrorChunkLimit)
	}
	if cfg.MirrorTZOffset != 7*time.Hour {
		t.Errorf("MirrorTZOffset = %v, want 7h", cfg.MirrorTZOffset)
	}
	if cfg.TreasuryInterval != time.Minute {
		t.Errorf("TreasuryInterval = %v, want 1m", cfg.TreasuryInterval)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn must default")
	}
	if cfg.ThreadFeed.Template == "" || cfg.Feed.Template == "" {
		t.Error("templates must default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RECONCILE_INTERVAL", "5m")
	t.Setenv("STALENESS_THRESHOLD", "24h")
	t.Setenv("MIRROR_CHUNK_LIMIT", "500")
	t.Setenv("MIRROR_TZ_OFFSET_HOURS", "2")
	t.Setenv("FEATURE_MESSAGE_FEED", "1")
	t.Setenv("TELEGRAM_CHAT_IDS", "-100123, -100456")
	t.Setenv("MIRROR_TARGET_CHANNEL_IDS", "111,222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReconcileInterval != 5*time.Minute {
		t.Errorf("ReconcileInterval = %v", cfg.ReconcileInterval)
	}
	if cfg.StalenessThreshold != 24*time.Hour {
		t.Errorf("StalenessThreshold = %v", cfg.StalenessThreshold)
	}
	if cfg.MirrorChunkLimit != 500 {
		t.Errorf("MirrorChunkLimit = %d", cfg.MirrorChunkLimit)
	}
	if cfg.MirrorTZOffset != 2*time.Hour {
		t.Errorf("MirrorTZOffset = %v", cfg.MirrorTZOffset)
	}
	if !cfg.FeedEnabled {
		t.Error("FEATURE_MESSAGE_FEED=1 must enable the feed")
	}
	if len(cfg.MirrorChatIDs) != 2 || cfg.MirrorChatIDs[0] != -100123 || cfg.MirrorChatIDs[1] != -100456 {
		t.Errorf("MirrorChatIDs = %v", cfg.MirrorChatIDs)
	}
	if err := cfg.ValidateMirror(); err == nil {
		t.Error("ValidateMirror must fail without TELEGRAM_BOT_TOKEN")
	}
}

func TestLoadBadChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_IDS", "notanumber")
	if _, err := Load(); err == nil {
		t.Error("invalid chat id must fail Load")
	}
}

func TestValidateGateway(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateGateway(); err == nil {
		t.Error("empty gateway config must be invalid")
	}
	cfg.DiscordToken = "tok"
	cfg.GuildID = "guild"
	if err := cfg.ValidateGateway(); err != nil {
		t.Errorf("complete gateway config rejected: %v", err)
	}
}

func TestValidateMirrorLengthMismatch(t *testing.T) {
	cfg := &Config{
		TelegramToken:    "tok",
		MirrorChatIDs:    []int64{1, 2},
		MirrorChannelIDs: []string{"a"},
	}
	if err := cfg.ValidateMirror(); err == nil {
		t.Error("mismatched route lists must be invalid")
	}
	cfg.MirrorChannelIDs = []string{"a", "b"}
	if err := cfg.ValidateMirror(); err != nil {
		t.Errorf("matched route lists rejected: %v", err)
	}
}

func TestValidateTreasury(t *testing.T) {
	cfg := &Config{TreasuryAddress: "0xabc"}
	if err := cfg.ValidateTreasury(); err == nil {
		t.Error("treasury config without RPC url must be invalid")
	}
	cfg.RPCURL = "https://rpc.example"
	if err := cfg.ValidateTreasury(); err != nil {
		t.Errorf("complete treasury config rejected: %v", err)
	}
}
