package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"racegame/internal/race"
)

func TestLoadRaceFromEnvDefaults(t *testing.T) {
	t.Setenv("RACEGAME_OWNER", "EQowner")
	cfg, err := LoadRaceFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Owner != "EQowner" || cfg.BasePrice != race.NanoPerTON || cfg.MaxPlayers != 50 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRaceFromEnvOverrides(t *testing.T) {
	t.Setenv("RACEGAME_OWNER", "EQowner")
	t.Setenv("RACEGAME_BASE_PRICE", "0.5")
	t.Setenv("RACEGAME_MAX_ITEM_PRICE", "1.5")
	t.Setenv("RACEGAME_MAX_PLAYERS", "3")
	t.Setenv("RACEGAME_GAME_DURATION", "120")
	t.Setenv("RACEGAME_RESET_PLAYERS_ON_START", "true")
	cfg, err := LoadRaceFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BasePrice != 500_000_000 || cfg.MaxItemPrice != 1_500_000_000 {
		t.Fatalf("prices got %d/%d", cfg.BasePrice, cfg.MaxItemPrice)
	}
	if cfg.MaxPlayers != 3 || cfg.GameDuration != 120 || !cfg.ResetPlayersOnStart {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRaceFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("RACEGAME_OWNER", "")
	if _, err := LoadRaceFromEnv(); err == nil {
		t.Fatalf("expected missing owner to fail")
	}
	t.Setenv("RACEGAME_OWNER", "EQowner")
	t.Setenv("RACEGAME_BASE_PRICE", "one")
	if _, err := LoadRaceFromEnv(); err == nil {
		t.Fatalf("expected bad price to fail")
	}
	t.Setenv("RACEGAME_BASE_PRICE", "3")
	if _, err := LoadRaceFromEnv(); err == nil {
		t.Fatalf("expected base above max item price to fail")
	}
}

func TestLoadAPIFromEnv(t *testing.T) {
	t.Setenv("RACEGAME_OWNER", "EQowner")
	t.Setenv("PORT", "9090")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing wallet url to fail")
	}
	t.Setenv("RACEGAME_DEV_WALLET", "true")
	t.Setenv("RACEGAME_TICK_EVERY", "250ms")
	t.Setenv("RACEGAME_LOG_LEVEL", "debug")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.TickEvery != 250*time.Millisecond || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadWorkerFromEnvNeedsWallet(t *testing.T) {
	t.Setenv("RACEGAME_OWNER", "EQowner")
	t.Setenv("DATABASE_URL", "postgres://localhost/race")
	t.Setenv("RACEGAME_WALLET_URL", "")
	t.Setenv("RACEGAME_DEV_WALLET", "false")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected missing wallet url to fail")
	}
	t.Setenv("RACEGAME_WALLET_URL", "https://wallet.example/")
	t.Setenv("RACEGAME_WALLET_KEY", "secret")
	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WalletURL != "https://wallet.example" || cfg.WalletAPIKey != "secret" || cfg.DevWallet {
		t.Fatalf("unexpected wallet settings %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("RACEGAME_TEST_DOTENV=hello\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("RACEGAME_TEST_DOTENV") })
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("RACEGAME_TEST_DOTENV"); got != "hello" {
		t.Fatalf("got %q want hello", got)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}
