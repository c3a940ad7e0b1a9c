package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// LedgerDecimals is the fixed-point precision used by every Pool amount.
const LedgerDecimals uint8 = 18

// maxWordDigits is the decimal width of 2^256-1.
const maxWordDigits = 78

var (
	// ErrInvalidAmount is returned for negative, non-finite or non-numeric
	// user input and for values that do not fit a ledger word.
	ErrInvalidAmount = errors.New("lending: invalid amount")

	// Scale18 is the base-unit scale of a plain 18-decimal amount.
	Scale18 = mustUint("1000000000000000000")
	// Scale36 is the scale of a product of two 18-decimal quantities, such as
	// a collateral amount multiplied by an 18-decimal price.
	Scale36 = mustUint("1000000000000000000000000000000000000")
)

func mustUint(value string) *uint256.Int {
	v, err := uint256.FromDecimal(value)
	if err != nil {
		panic("invalid integer constant")
	}
	return v
}

// Zero returns a fresh zero raw amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// IsZero reports whether raw is nil or zero.
func IsZero(raw *uint256.Int) bool { return raw == nil || raw.IsZero() }

// Clone copies raw, mapping nil to zero.
func Clone(raw *uint256.Int) *uint256.Int {
	if raw == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(raw)
}

// ToDisplay converts a raw base-unit amount into its decimal representation.
func ToDisplay(raw *uint256.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw.ToBig(), -int32(decimals))
}

// ToRaw converts a display amount into base units. Fractional digits beyond
// decimals are truncated, never rounded up.
func ToRaw(display decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if display.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %w", ErrInvalidAmount)
	}
	if display.IsZero() {
		return new(uint256.Int), nil
	}
	// The value is below 10^magnitude and at least 10^(magnitude-1).
	magnitude := int64(display.Exponent()) + int64(decimals) + int64(len(display.Coefficient().String()))
	if magnitude > maxWordDigits {
		return nil, fmt.Errorf("amount exceeds ledger word: %w", ErrInvalidAmount)
	}
	if magnitude <= 0 {
		return new(uint256.Int), nil
	}
	scaled := display.Shift(int32(decimals)).Truncate(0)
	value, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount exceeds ledger word: %w", ErrInvalidAmount)
	}
	return value, nil
}

// ParseDisplay parses user supplied decimal text.
func ParseDisplay(input string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("amount required: %w", ErrInvalidAmount)
	}
	switch strings.ToLower(strings.TrimLeft(trimmed, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero, fmt.Errorf("amount must be finite: %w", ErrInvalidAmount)
	}
	if strings.ContainsAny(trimmed, "eE") {
		return decimal.Zero, fmt.Errorf("amount must be plain decimal notation: %w", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", trimmed, ErrInvalidAmount)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must not be negative: %w", ErrInvalidAmount)
	}
	return value, nil
}

// ParseRaw parses display text straight into base units.
func ParseRaw(input string, decimals uint8) (*uint256.Int, error) {
	display, err := ParseDisplay(input)
	if err != nil {
		return nil, err
	}
	return ToRaw(display, decimals)
}

// FromBig converts a big integer read off the ledger into a raw amount.
func FromBig(value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return new(uint256.Int), nil
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative ledger value: %w", ErrInvalidAmount)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("ledger value exceeds 256 bits: %w", ErrInvalidAmount)
	}
	return out, nil
}

// Format renders raw with at most places fractional digits, truncating.
func Format(raw *uint256.Int, decimals uint8, places int32) string {
	return ToDisplay(raw, decimals).Truncate(places).String()
}
