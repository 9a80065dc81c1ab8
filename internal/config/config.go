package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"racegame/internal/race"
)

type APIConfig struct {
	Addr         string
	DatabaseURL  string
	WalletURL    string
	WalletAPIKey string
	DevWallet    bool
	TickEvery    time.Duration
	LogLevel     slog.Level
	Race         race.Config
}

// WorkerConfig also carries the wallet settings: the worker pays out
// withdrawals the API could not settle.
type WorkerConfig struct {
	DatabaseURL  string
	WalletURL    string
	WalletAPIKey string
	DevWallet    bool
	TickEvery    time.Duration
	RunOnce      bool
	VerifyEvery  time.Duration
	LogLevel     slog.Level
	Race         race.Config
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads .env (or the given files) into the process environment.
// A missing file is not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("RACEGAME_API_ADDR", ":8080")
	}

	raceCfg, err := LoadRaceFromEnv()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:         addr,
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		WalletURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("RACEGAME_WALLET_URL")), "/"),
		WalletAPIKey: strings.TrimSpace(os.Getenv("RACEGAME_WALLET_KEY")),
		DevWallet:    envBoolDefault("RACEGAME_DEV_WALLET", false),
		TickEvery:    envDurationDefault("RACEGAME_TICK_EVERY", 5*time.Second),
		LogLevel:     envLevelDefault("RACEGAME_LOG_LEVEL", slog.LevelInfo),
		Race:         raceCfg,
	}
	return cfg, validateWallet(cfg.WalletURL, cfg.WalletAPIKey, cfg.DevWallet)
}

func validateWallet(url, key string, dev bool) error {
	if dev {
		return nil
	}
	if url == "" {
		return fmt.Errorf("RACEGAME_WALLET_URL is required (or set RACEGAME_DEV_WALLET=true)")
	}
	if key == "" {
		return fmt.Errorf("RACEGAME_WALLET_KEY is required")
	}
	return nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	raceCfg, err := LoadRaceFromEnv()
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		WalletURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("RACEGAME_WALLET_URL")), "/"),
		WalletAPIKey: strings.TrimSpace(os.Getenv("RACEGAME_WALLET_KEY")),
		DevWallet:    envBoolDefault("RACEGAME_DEV_WALLET", false),
		TickEvery:    envDurationDefault("RACEGAME_TICK_EVERY", 5*time.Second),
		RunOnce:      envBoolDefault("RACEGAME_WORKER_RUN_ONCE", false),
		VerifyEvery:  envDurationDefault("RACEGAME_VERIFY_EVERY", 0),
		LogLevel:     envLevelDefault("RACEGAME_LOG_LEVEL", slog.LevelInfo),
		Race:         raceCfg,
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, validateWallet(cfg.WalletURL, cfg.WalletAPIKey, cfg.DevWallet)
}

// LoadRaceFromEnv starts from race.DefaultConfig and applies overrides.
// Amounts are decimal TON ("0.05"), durations are seconds.
func LoadRaceFromEnv() (race.Config, error) {
	owner := strings.TrimSpace(os.Getenv("RACEGAME_OWNER"))
	if owner == "" {
		return race.Config{}, fmt.Errorf("RACEGAME_OWNER is required")
	}
	cfg := race.DefaultConfig(owner)

	var err error
	if cfg.BasePrice, err = envTONDefault("RACEGAME_BASE_PRICE", cfg.BasePrice); err != nil {
		return cfg, err
	}
	if cfg.MaxItemPrice, err = envTONDefault("RACEGAME_MAX_ITEM_PRICE", cfg.MaxItemPrice); err != nil {
		return cfg, err
	}
	if cfg.MinGasReserve, err = envTONDefault("RACEGAME_MIN_GAS_RESERVE", cfg.MinGasReserve); err != nil {
		return cfg, err
	}
	cfg.MaxItems = envInt64Default("RACEGAME_MAX_ITEMS", cfg.MaxItems)
	cfg.MaxPlayers = envInt64Default("RACEGAME_MAX_PLAYERS", cfg.MaxPlayers)
	cfg.GameDuration = envInt64Default("RACEGAME_GAME_DURATION", cfg.GameDuration)
	cfg.ReferralPercent = envInt64Default("RACEGAME_REFERRAL_PERCENT", cfg.ReferralPercent)
	cfg.ResetPlayersOnStart = envBoolDefault("RACEGAME_RESET_PLAYERS_ON_START", cfg.ResetPlayersOnStart)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("race config: %w", err)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("RACE_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envTONDefault fails loudly: a mistyped price is worse than a default one.
func envTONDefault(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := race.ParseTON(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
