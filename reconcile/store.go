package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"finance-sync-be/models"
)

// Store opens the atomic unit a batch runs in.
type Store interface {
	// Atomic runs fn inside one database transaction. It commits when fn
	// returns nil and rolls back otherwise; a commit failure is returned.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of scoped reads and writes available inside Atomic.
type Tx interface {
	// Isolate runs fn so that its writes are discarded if it fails while the
	// surrounding transaction stays usable. itemErr is fn's own error; err is
	// set only when the isolation mechanism itself broke.
	Isolate(fn func() error) (itemErr error, err error)

	// AccountForUser returns the account owned by userID, or nil when there is
	// no such account.
	AccountForUser(accountID, userID string) (*models.Account, error)

	// TransactionsByExternalID returns the user's transactions whose metadata
	// carries externalID. Implementations may stop after two matches.
	TransactionsByExternalID(userID, externalID string) ([]models.Transaction, error)

	CreateTransaction(t *models.Transaction) error
	UpdateTransaction(t *models.Transaction) error

	// AdjustBalance adds delta to the account's cached balance and stamps its
	// updated time. Missing accounts are an error.
	AdjustBalance(accountID, userID string, delta decimal.Decimal, at time.Time) error
}
