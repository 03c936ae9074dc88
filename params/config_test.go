package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/matching"
)

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "POOL_FEE_BPS=25\nMATCH_PARTIAL_FILL=remainder_closed\nAPI_ADDR=:9999\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets what it loads in the process environment
	t.Cleanup(func() {
		os.Unsetenv("POOL_FEE_BPS")
		os.Unsetenv("MATCH_PARTIAL_FILL")
	})
	// the environment wins over the file
	t.Setenv("API_ADDR", ":7777")
	t.Setenv("MATCH_TIME_LOCK_SEC", "60")
	t.Setenv("GENESIS_OPERATOR", "0x00000000000000000000000000000000000000aa")
	t.Setenv("GENESIS_TOKENS", "AAA:1000, BBB:2000:50")
	t.Setenv("GENESIS_PAIRS", "AAA/BBB")

	cfg, err := LoadFromEnv(envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matching.FeeBps != 25 {
		t.Errorf("fee = %d, want 25", cfg.Matching.FeeBps)
	}
	if cfg.Matching.PartialFill != matching.RemainderClosed {
		t.Errorf("policy = %s", cfg.Matching.PartialFill)
	}
	if cfg.Node.APIAddr != ":7777" {
		t.Errorf("api addr = %s, want :7777", cfg.Node.APIAddr)
	}
	if cfg.Matching.TimeLock != time.Minute {
		t.Errorf("time lock = %v", cfg.Matching.TimeLock)
	}
	if cfg.Matching.PriceScale != 100 {
		t.Errorf("price scale default lost: %d", cfg.Matching.PriceScale)
	}
	if len(cfg.Genesis.Tokens) != 2 || cfg.Genesis.Tokens[1].FeeBps != 50 || cfg.Genesis.Tokens[1].Supply.Uint64() != 2000 {
		t.Errorf("genesis tokens = %+v", cfg.Genesis.Tokens)
	}
	if len(cfg.Genesis.Pairs) != 1 || cfg.Genesis.Pairs[0] != [2]string{"AAA", "BBB"} {
		t.Errorf("genesis pairs = %v", cfg.Genesis.Pairs)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"POOL_FEE_BPS", "10000"},
		{"MATCH_PRICE_SCALE", "0"},
		{"MATCH_PARTIAL_FILL", "sometimes"},
		{"ORACLE_MAX_AGE_SEC", "-1"},
		{"GENESIS_OPERATOR", "alice"},
		{"GENESIS_TOKENS", "AAA"},
		{"ORACLE_FEEDS", "0x01/0x02"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.value)
			}
		})
	}
}

func TestParseFeeds(t *testing.T) {
	a := common.HexToAddress("0x0000000000000000000000000000000000000002")
	b := common.HexToAddress("0x0000000000000000000000000000000000000001")
	feed := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	feeds, err := ParseFeeds(a.Hex() + "/" + b.Hex() + "=" + feed.Hex())
	if err != nil {
		t.Fatal(err)
	}
	key, _ := market.NewPairKey(b, a)
	if feeds[key] != feed {
		t.Errorf("feed for %s = %s", key, feeds[key].Hex())
	}
}
