package numbers

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a numeric string holding an unsigned integer amount in the token's smallest unit.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount '%s' is negative", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("amount '%s' is not an integer", s)
	}
	return d.BigInt(), nil
}

// MulDivFloor computes floor(amount * numerator / denominator) for non-negative amounts.
func MulDivFloor(amount *big.Int, numerator, denominator int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(numerator))
	return out.Quo(out, big.NewInt(denominator))
}

// NumericAdd adds two huge numbers stored as strings.
func NumericAdd(a, b string) (string, error) {
	na, err := decimal.NewFromString(a)
	if err != nil {
		return "", err
	}
	nb, err := decimal.NewFromString(b)
	if err != nil {
		return "", err
	}
	return na.Add(nb).String(), nil
}

// NumericMultiply take two huge numbers, stored as strings, and multiplies them
func NumericMultiply(a, b string) (string, error) {
	na, err := decimal.NewFromString(a)
	if err != nil {
		return "", err
	}
	nb, err := decimal.NewFromString(b)
	if err != nil {
		return "", err
	}
	return na.Mul(nb).String(), nil
}

func BigGreaterThan(a, b string) (bool, error) {
	na, err := decimal.NewFromString(a)
	if err != nil {
		return false, err
	}
	nb, err := decimal.NewFromString(b)
	if err != nil {
		return false, err
	}
	return na.GreaterThan(nb), nil
}
