package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minAmount = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// ErrAmountOutOfRange is returned when a value does not fit in a signed 128-bit integer.
var ErrAmountOutOfRange = errors.New("amount out of 128-bit range")

// Amount is a token quantity in the asset's smallest unit.
// The zero value is a valid amount of 0.
type Amount struct {
	v *big.Int
}

// NewAmount creates an Amount from an int64.
func NewAmount(n int64) Amount {
	return Amount{v: big.NewInt(n)}
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.Cmp(maxAmount) > 0 || v.Cmp(minAmount) < 0 {
		return Amount{}, ErrAmountOutOfRange
	}
	return Amount{v: v}, nil
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	return a.big().Sign()
}

// Cmp compares a and b.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Equal reports whether a and b hold the same value.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Add returns a+b, failing if the result leaves the 128-bit range.
func (a Amount) Add(b Amount) (Amount, error) {
	return checked(new(big.Int).Add(a.big(), b.big()))
}

// Sub returns a-b, failing if the result leaves the 128-bit range.
func (a Amount) Sub(b Amount) (Amount, error) {
	return checked(new(big.Int).Sub(a.big(), b.big()))
}

func checked(v *big.Int) (Amount, error) {
	if v.Cmp(maxAmount) > 0 || v.Cmp(minAmount) < 0 {
		return Amount{}, ErrAmountOutOfRange
	}
	return Amount{v: v}, nil
}

func (a Amount) String() string {
	return a.big().String()
}

// MarshalJSON encodes the amount as a decimal string so that values beyond
// 2^53 survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid amount: %s", data)
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
