package race

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	NanoPerTON = int64(1_000_000_000)

	BaseSpeed = int64(100)

	DefaultBasePrice     = NanoPerTON
	DefaultMaxItemPrice  = 2 * NanoPerTON
	DefaultMaxItems      = int64(1000)
	DefaultMaxPlayers    = int64(50)
	DefaultGameDuration  = int64(3600)
	DefaultMinGasReserve = NanoPerTON / 20 // 0.05 TON

	DefaultReferralPercent  = int64(10)
	DefaultScoreBoostWeight = NanoPerTON / 100

	MaxNameRunes = 50
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidPhase       = errors.New("invalid game phase")
	ErrInvalidStrategy    = errors.New("invalid strategy")
	ErrInvalidCar         = errors.New("invalid car")
	ErrItemNotFound       = errors.New("item not found")
	ErrInsufficientValue  = errors.New("insufficient value")
	ErrPlayerCapReached   = errors.New("player cap reached")
	ErrNothingToWithdraw  = errors.New("nothing to withdraw")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrInvalidName        = errors.New("name must be 1-50 characters")
	ErrDuplicateOperation = errors.New("duplicate operation id")
	ErrPayoutFailed       = errors.New("payout transfer failed")
	ErrPaymentFailed      = errors.New("payment could not be collected")
	ErrTransferRejected   = errors.New("transfer rejected by wallet")
	ErrTransferNotFound   = errors.New("transfer not pending")
	ErrVersionConflict    = errors.New("state version conflict")
	ErrInvalidOperation   = errors.New("invalid operation")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidPhase, "invalid_phase"},
	{ErrInvalidStrategy, "invalid_strategy"},
	{ErrInvalidCar, "invalid_car"},
	{ErrItemNotFound, "item_not_found"},
	{ErrInsufficientValue, "insufficient_value"},
	{ErrPlayerCapReached, "player_cap_reached"},
	{ErrNothingToWithdraw, "nothing_to_withdraw"},
	{ErrPlayerNotFound, "player_not_found"},
	{ErrInvalidName, "invalid_name"},
	{ErrDuplicateOperation, "duplicate_operation"},
	{ErrPayoutFailed, "payout_failed"},
	{ErrPaymentFailed, "payment_failed"},
	{ErrTransferRejected, "transfer_rejected"},
	{ErrTransferNotFound, "transfer_not_found"},
	{ErrVersionConflict, "version_conflict"},
	{ErrInvalidOperation, "invalid_operation"},
}

// ErrorCode returns the stable machine-readable code for a core error, or
// "internal" when err is not one of the sentinels above.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return "", ErrInvalidName
	}
	if utf8.RuneCountInString(name) > MaxNameRunes {
		return "", fmt.Errorf("%w: got %d", ErrInvalidName, utf8.RuneCountInString(name))
	}
	return name, nil
}

// mulDiv returns floor(a*b/c) for non-negative operands without
// intermediate overflow. ok is false when the result does not fit int64.
func mulDiv(a, b, c int64) (int64, bool) {
	if a < 0 || b < 0 || c <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > uint64(1<<63-1) {
		return 0, false
	}
	return int64(q), true
}

func percentOf(amount, pct int64) int64 {
	v, ok := mulDiv(amount, pct, 100)
	if !ok {
		panic(fmt.Sprintf("race: percent overflow (%d * %d%%)", amount, pct))
	}
	return v
}

// FormatTON renders a nano amount as a decimal TON string without floating point.
func FormatTON(nano int64) string {
	sign := ""
	u := uint64(nano)
	if nano < 0 {
		sign = "-"
		u = uint64(-nano)
	}
	whole := u / uint64(NanoPerTON)
	frac := u % uint64(NanoPerTON)
	if frac == 0 {
		return sign + strconv.FormatUint(whole, 10)
	}
	fs := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return sign + strconv.FormatUint(whole, 10) + "." + fs
}

// ParseTON parses a decimal TON amount ("1", "0.95", "1.000000001") into nano units.
func ParseTON(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is required")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("amount must be >= 0")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 9 {
		return 0, fmt.Errorf("amount has more than 9 decimal places")
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
	}
	total, ok := mulDiv(w, NanoPerTON, 1)
	if !ok || total > (1<<63-1)-f {
		return 0, fmt.Errorf("amount overflow")
	}
	return total + f, nil
}
