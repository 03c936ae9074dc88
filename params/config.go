package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/matching"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
)

type Oracle struct {
	RPCURL string
	// Feeds maps a pair to its Chainlink aggregator.
	Feeds map[market.PairKey]common.Address
}

type Node struct {
	ChainID int64
	// MinBlockTime is how often the sequencer looks for transactions. Empty
	// blocks are never produced, so a short interval only costs a mempool poll.
	MinBlockTime time.Duration
	DataDir      string
	APIAddr      string
	CORSOrigins  []string
	LogFile      string
	LogLevel     string
	// FeederKey, when set, enables the development traffic generator signing
	// funding transactions with this operator key.
	FeederKey string
	// GenesisFile replaces the GENESIS_* values with a JSON genesis document.
	GenesisFile string
}

type Config struct {
	Matching matching.Config
	Oracle   Oracle
	Node     Node
	Genesis  dex.Genesis
}

func Default() Config {
	return Config{
		Matching: matching.DefaultConfig(),
		Oracle:   Oracle{Feeds: map[market.PairKey]common.Address{}},
		Node: Node{
			ChainID:      1337,
			MinBlockTime: 200 * time.Millisecond,
			DataDir:      "data",
			APIAddr:      ":8080",
			LogFile:      "data/node.log",
			LogLevel:     "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	set := func(key string, parse func(string) error) {
		if err != nil {
			return
		}
		if v := os.Getenv(key); v != "" {
			if perr := parse(strings.TrimSpace(v)); perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
			}
		}
	}

	set("POOL_FEE_BPS", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err == nil && n >= 10_000 {
			err = fmt.Errorf("fee %d bps out of range", n)
		}
		cfg.Matching.FeeBps = n
		return err
	})
	set("MATCH_PRICE_SCALE", func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err == nil && n == 0 {
			err = fmt.Errorf("price scale must be positive")
		}
		cfg.Matching.PriceScale = n
		return err
	})
	set("MATCH_TIME_LOCK_SEC", seconds(&cfg.Matching.TimeLock))
	set("MATCH_PARTIAL_FILL", func(v string) error {
		p := matching.PartialFillPolicy(v)
		if !p.Valid() {
			return fmt.Errorf("unknown policy %q", v)
		}
		cfg.Matching.PartialFill = p
		return nil
	})
	set("ORACLE_MAX_AGE_SEC", seconds(&cfg.Matching.OracleMaxAge))
	set("ORACLE_RPC_URL", func(v string) error { cfg.Oracle.RPCURL = v; return nil })
	set("ORACLE_FEEDS", func(v string) error {
		feeds, err := ParseFeeds(v)
		cfg.Oracle.Feeds = feeds
		return err
	})

	set("CHAIN_ID", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		cfg.Node.ChainID = n
		return err
	})
	set("NODE_MIN_BLOCK_TIME_MS", func(v string) error {
		ms, err := strconv.Atoi(v)
		cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		return err
	})
	set("NODE_DATA_DIR", func(v string) error { cfg.Node.DataDir = v; return nil })
	set("API_ADDR", func(v string) error { cfg.Node.APIAddr = v; return nil })
	set("API_CORS_ORIGINS", func(v string) error { cfg.Node.CORSOrigins = splitList(v); return nil })
	set("LOG_FILE", func(v string) error { cfg.Node.LogFile = v; return nil })
	set("LOG_LEVEL", func(v string) error { cfg.Node.LogLevel = v; return nil })
	set("DEV_FEEDER_KEY", func(v string) error { cfg.Node.FeederKey = v; return nil })

	set("GENESIS_FILE", func(v string) error { cfg.Node.GenesisFile = v; return nil })
	set("GENESIS_TIME", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		cfg.Genesis.Time = n
		return err
	})
	set("GENESIS_OPERATOR", func(v string) error {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid address %q", v)
		}
		cfg.Genesis.Operator = common.HexToAddress(v)
		return nil
	})
	set("GENESIS_TOKENS", func(v string) error {
		tokens, err := ParseGenesisTokens(v)
		cfg.Genesis.Tokens = tokens
		return err
	})
	set("GENESIS_PAIRS", func(v string) error {
		pairs, err := ParseGenesisPairs(v)
		cfg.Genesis.Pairs = pairs
		return err
	})
	return cfg, err
}

// ParseFeeds reads "0xA/0xB=0xFeed,..." into a pair-to-aggregator map.
func ParseFeeds(v string) (map[market.PairKey]common.Address, error) {
	feeds := make(map[market.PairKey]common.Address)
	for _, item := range splitList(v) {
		pair, feed, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("feed %q: want pair=address", item)
		}
		a, b, ok := strings.Cut(pair, "/")
		if !ok || !common.IsHexAddress(a) || !common.IsHexAddress(b) || !common.IsHexAddress(feed) {
			return nil, fmt.Errorf("feed %q: want 0xA/0xB=0xFeed", item)
		}
		key, err := market.NewPairKey(common.HexToAddress(a), common.HexToAddress(b))
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", item, err)
		}
		feeds[key] = common.HexToAddress(feed)
	}
	return feeds, nil
}

// ParseGenesisTokens reads "SYM:supply[:feeBps],...".
func ParseGenesisTokens(v string) ([]dex.GenesisToken, error) {
	var out []dex.GenesisToken
	for _, item := range splitList(v) {
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("token %q: want SYM:supply[:feeBps]", item)
		}
		supply, err := uint256.FromDecimal(parts[1])
		if err != nil {
			return nil, fmt.Errorf("token %q supply: %w", item, err)
		}
		t := dex.GenesisToken{Symbol: parts[0], Supply: supply}
		if len(parts) == 3 {
			if t.FeeBps, err = strconv.ParseUint(parts[2], 10, 64); err != nil {
				return nil, fmt.Errorf("token %q fee: %w", item, err)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseGenesisPairs reads "AAA/BBB,...".
func ParseGenesisPairs(v string) ([][2]string, error) {
	var out [][2]string
	for _, item := range splitList(v) {
		a, b, ok := strings.Cut(item, "/")
		if !ok || a == "" || b == "" {
			return nil, fmt.Errorf("pair %q: want SYM/SYM", item)
		}
		out = append(out, [2]string{a, b})
	}
	return out, nil
}

func seconds(dst *time.Duration) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil && n < 0 {
			err = fmt.Errorf("negative duration %d", n)
		}
		*dst = time.Duration(n) * time.Second
		return err
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
