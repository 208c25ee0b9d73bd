package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceMode decides how an update to an existing transaction moves the
// account balance.
type BalanceMode int

const (
	// BalanceAdditive adds the item's full amount on every merge, updates
	// included. Re-submitting an edited transaction applies it twice.
	BalanceAdditive BalanceMode = iota
	// BalanceReplace applies only the difference between the new and the
	// previously stored amount on updates.
	BalanceReplace
)

func (m BalanceMode) String() string {
	switch m {
	case BalanceAdditive:
		return "additive"
	case BalanceReplace:
		return "replace"
	default:
		return fmt.Sprintf("BalanceMode(%d)", int(m))
	}
}

// ParseBalanceMode maps a configuration value onto a BalanceMode.
func ParseBalanceMode(s string) (BalanceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "additive":
		return BalanceAdditive, nil
	case "replace":
		return BalanceReplace, nil
	default:
		return 0, fmt.Errorf("unknown balance mode %q", s)
	}
}

// previous is what a transaction looked like before an update overwrote it.
type previous struct {
	accountID string
	amount    decimal.Decimal
}

// adjustForCreate credits the new record's amount to its account.
func adjustForCreate(tx Tx, userID string, item ProposedTransaction, at time.Time) error {
	if err := tx.AdjustBalance(item.AccountID, userID, item.Amount.Decimal, at); err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return nil
}

// adjustForUpdate moves balances after an existing record was overwritten.
func (m BalanceMode) adjustForUpdate(tx Tx, userID string, prev previous, item ProposedTransaction, at time.Time) error {
	if m != BalanceReplace {
		return adjustForCreate(tx, userID, item, at)
	}

	if prev.accountID == item.AccountID {
		if err := tx.AdjustBalance(item.AccountID, userID, item.Amount.Decimal.Sub(prev.amount), at); err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}
		return nil
	}

	// The record moved accounts: take the old contribution off the old one.
	if err := tx.AdjustBalance(prev.accountID, userID, prev.amount.Neg(), at); err != nil {
		return fmt.Errorf("reverse balance on %s: %w", prev.accountID, err)
	}
	return adjustForCreate(tx, userID, item, at)
}
