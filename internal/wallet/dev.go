package wallet

import (
	"context"
	"log/slog"
	"strings"
)

// Dev trusts the bearer token as the sender address and only logs debits
// and transfers. For local play without a wallet service.
type Dev struct {
	Log *slog.Logger
}

func (d Dev) VerifySender(_ context.Context, token string) (string, error) {
	addr := strings.TrimSpace(token)
	if addr == "" {
		return "", ErrInvalidToken
	}
	return addr, nil
}

func (d Dev) Debit(_ context.Context, from string, amount int64, key string) error {
	if d.Log != nil {
		d.Log.Info("dev debit", "from", from, "amount", amount, "key", key)
	}
	return nil
}

func (d Dev) Transfer(_ context.Context, to string, amount int64, key string) error {
	if d.Log != nil {
		d.Log.Info("dev transfer", "to", to, "amount", amount, "key", key)
	}
	return nil
}
