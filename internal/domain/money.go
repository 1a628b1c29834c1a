package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAmountPrecision is returned when an amount carries more precision than the
// currency's minor unit.
var ErrAmountPrecision = errors.New("amount has more than two decimal places")

// ErrAmountNotPositive is returned for zero or negative amounts.
var ErrAmountNotPositive = errors.New("amount must be greater than zero")

// AmountToCents converts a decimal currency amount into cents. Amounts are
// rounded to the currency's minor unit before conversion; anything finer than
// one cent is rejected rather than silently truncated so that amount -> store
// -> retrieve round-trips losslessly.
func AmountToCents(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Round(2)) {
		return 0, ErrAmountPrecision
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return 0, ErrAmountNotPositive
	}
	return amount.Shift(2).IntPart(), nil
}

// CentsToAmount converts stored cents back into a decimal currency amount.
func CentsToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
