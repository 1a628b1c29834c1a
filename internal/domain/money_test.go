package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAmountToCents(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr error
	}{
		{name: "whole units", amount: "50", want: 5000},
		{name: "minor units preserved", amount: "99.99", want: 9999},
		{name: "single decimal place", amount: "10.5", want: 1050},
		{name: "trailing zeros", amount: "100.00", want: 10000},
		{name: "sub-cent precision rejected", amount: "10.005", wantErr: ErrAmountPrecision},
		{name: "zero rejected", amount: "0", wantErr: ErrAmountNotPositive},
		{name: "negative rejected", amount: "-25.00", wantErr: ErrAmountNotPositive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.amount)
			if err != nil {
				t.Fatalf("bad test amount %q: %v", tt.amount, err)
			}
			got, err := AmountToCents(d)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d cents, got %d", tt.want, got)
			}
		})
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, raw := range []string{"0.01", "1", "70000", "12345.67", "9999999.99"} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			t.Fatalf("bad test amount %q: %v", raw, err)
		}
		cents, err := AmountToCents(d)
		if err != nil {
			t.Fatalf("AmountToCents(%s): %v", raw, err)
		}
		back := CentsToAmount(cents)
		if !back.Equal(d) {
			t.Fatalf("round trip of %s produced %s", d, back)
		}
	}
}
