package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCurrencyRegistry_Normalize(t *testing.T) {
	r := NewCurrencyRegistry("usd", "EUR", " USDC ")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty uses default", "", "USD", false},
		{"lowercase accepted", "eur", "EUR", false},
		{"trimmed", " usdc", "USDC", false},
		{"unsupported", "JPY", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Normalize(tt.input)
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("Normalize(%q) error = %v, want ValidationError", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCurrencyRegistry_RoundMoney(t *testing.T) {
	r := NewCurrencyRegistry("USD", "USDC")

	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{"usd two places", "12.345", "USD", "12.35"},
		{"usd round down", "12.344", "USD", "12.34"},
		{"usdc six places", "0.1234567", "USDC", "0.123457"},
		{"unknown falls back to two", "1.005", "XYZ", "1.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.RoundMoney(decimal.RequireFromString(tt.amount), tt.currency)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("RoundMoney(%s, %s) = %s, want %s", tt.amount, tt.currency, got, tt.want)
			}
		})
	}
}

func TestCurrencyRegistry_Codes(t *testing.T) {
	r := NewCurrencyRegistry("USD", "EUR", "", "GBP")
	codes := r.Codes()
	want := []string{"EUR", "GBP", "USD"}
	if len(codes) != len(want) {
		t.Fatalf("Codes() = %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("Codes()[%d] = %q, want %q", i, codes[i], want[i])
		}
	}
	if r.Default() != "USD" {
		t.Errorf("Default() = %q, want USD", r.Default())
	}
}
