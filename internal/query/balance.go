package query

import (
	"fmt"

	"github.com/holiman/uint256"
)

// BalanceResponse is the projected balance of one ledger account.
type BalanceResponse struct {
	AccountPath string `json:"account_path"`
	Debits      string `json:"debits"`
	Credits     string `json:"credits"`
	// Net is credits minus debits and may be negative.
	Net          string `json:"net"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

func netBalance(debits, credits string) (string, error) {
	d, err := uint256.FromDecimal(debits)
	if err != nil {
		return "", fmt.Errorf("debits %q: %w", debits, err)
	}
	c, err := uint256.FromDecimal(credits)
	if err != nil {
		return "", fmt.Errorf("credits %q: %w", credits, err)
	}
	if c.Lt(d) {
		return "-" + new(uint256.Int).Sub(d, c).Dec(), nil
	}
	return new(uint256.Int).Sub(c, d).Dec(), nil
}
