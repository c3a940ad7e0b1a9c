package units

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

func TestToDisplay(t *testing.T) {
	t.Parallel()

	raw := uint256.MustFromDecimal("123456789000000000000")
	got := ToDisplay(raw, LedgerDecimals)
	if !got.Equal(decimal.RequireFromString("123.456789")) {
		t.Fatalf("unexpected display value %s", got)
	}
	if !ToDisplay(nil, LedgerDecimals).IsZero() {
		t.Fatalf("expected nil raw to display as zero")
	}
}

func TestToRawTruncates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "whole", input: "10", want: "10000000000000000000"},
		{name: "fraction", input: "0.5", want: "500000000000000000"},
		{name: "excess digits truncated", input: "0.0000000000000000019", want: "1"},
		{name: "below one unit", input: "0.0000000000000000009", want: "0"},
		{name: "zero", input: "0", want: "0"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRaw(tc.input, LedgerDecimals)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.input, err)
			}
			if got.Dec() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Dec())
			}
		})
	}
}

func TestParseDisplayRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   ", "-1", "-0.01", "abc", "1.2.3", "NaN", "Inf", "-Infinity", "0x10", "1e30000000", "1E-30000000", "2e3"} {
		input := input
		t.Run(input, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseDisplay(input); !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount for %q, got %v", input, err)
			}
		})
	}
}

func TestToRawRejectsNegativeAndOverflow(t *testing.T) {
	t.Parallel()

	if _, err := ToRaw(decimal.NewFromInt(-1), LedgerDecimals); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
	huge := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 256), 0)
	if _, err := ToRaw(huge, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
}

func TestToRawBoundsExponent(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		huge := decimal.New(1, 30_000_000)
		if _, err := ToRaw(huge, LedgerDecimals); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("expected overflow rejection, got %v", err)
		}
		tiny := decimal.New(1, -30_000_000)
		got, err := ToRaw(tiny, LedgerDecimals)
		if err != nil || !got.IsZero() {
			t.Errorf("expected tiny amount to truncate to zero, got %v %v", got, err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("extreme exponents were not rejected promptly")
	}

	// 2^256-1 has 78 digits and is the largest accepted value.
	word := new(uint256.Int).SetAllOne()
	got, err := ToRaw(decimal.RequireFromString(word.Dec()), 0)
	if err != nil || !got.Eq(word) {
		t.Fatalf("expected max word to round trip, got %v %v", got, err)
	}
	if _, err := ToRaw(decimal.New(1, 60), LedgerDecimals); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected 1e78 base units to overflow, got %v", err)
	}
}

func TestRoundTripNeverInflates(t *testing.T) {
	t.Parallel()

	samples := []string{"0", "1", "999999999999999999", "1000000000000000001", "123456789012345678901234567890"}
	for _, decimals := range []uint8{0, 6, 18} {
		for _, sample := range samples {
			raw := uint256.MustFromDecimal(sample)
			back, err := ToRaw(ToDisplay(raw, decimals), decimals)
			if err != nil {
				t.Fatalf("round trip %s/%d: %v", sample, decimals, err)
			}
			if back.Gt(raw) {
				t.Fatalf("round trip inflated %s to %s", raw.Dec(), back.Dec())
			}
		}
	}
	// Display precision loss only ever truncates.
	display := ToDisplay(uint256.MustFromDecimal("1999999999999999999"), 18).Truncate(4)
	back, err := ToRaw(display, 18)
	if err != nil {
		t.Fatalf("to raw: %v", err)
	}
	if back.Dec() != "1999900000000000000" {
		t.Fatalf("unexpected truncated value %s", back.Dec())
	}
}

func TestFromBig(t *testing.T) {
	t.Parallel()

	if _, err := FromBig(big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative rejection, got %v", err)
	}
	got, err := FromBig(nil)
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero for nil, got %v %v", got, err)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	if got := Format(uint256.MustFromDecimal("1234567890000000000"), 18, 4); got != "1.2345" {
		t.Fatalf("unexpected format %q", got)
	}
}
