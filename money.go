package bankgo

import "github.com/shopspring/decimal"

// maxAmountPlaces bounds charge amounts to cent precision.
const maxAmountPlaces = 2

// checkAmount enforces the rules for charge amounts: strictly positive,
// at most two decimal places. Balances are held as exact decimals so no
// rounding ever happens past this gate.
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrBadRequest{Fields: map[string]string{"amount": "must be positive"}}
	}
	if amount.Exponent() < -maxAmountPlaces {
		return ErrBadRequest{Fields: map[string]string{"amount": "at most 2 decimal places"}}
	}
	return nil
}
