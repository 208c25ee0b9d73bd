package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finance-sync-be/models"
	"finance-sync-be/reconcile"
)

// ErrNotFound is returned by lookups that match no row for the user.
var ErrNotFound = errors.New("not found")

// updatableColumns are overwritten when a synced transaction is merged again.
var updatableColumns = []string{
	"account_id", "transaction_date", "description", "amount", "category",
	"transaction_type", "merchant_name", "pending", "tags", "metadata", "external_id", "updated_at",
}

// Store is the gorm-backed persistence layer.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and shutdown.
func (s *Store) DB() *gorm.DB { return s.db }

// Atomic implements reconcile.Store.
func (s *Store) Atomic(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&batchTx{db: db})
	})
}

// batchTx implements reconcile.Tx on an open gorm transaction.
type batchTx struct {
	db  *gorm.DB
	seq int
}

func (t *batchTx) Isolate(fn func() error) (itemErr error, err error) {
	t.seq++
	name := fmt.Sprintf("batch_item_%d", t.seq)
	if err := t.db.SavePoint(name).Error; err != nil {
		return nil, fmt.Errorf("savepoint %s: %w", name, err)
	}

	if itemErr = fn(); itemErr != nil {
		if err := t.db.RollbackTo(name).Error; err != nil {
			return itemErr, fmt.Errorf("rollback to %s: %w", name, err)
		}
		return itemErr, nil
	}

	if err := t.db.Exec("RELEASE SAVEPOINT " + name).Error; err != nil {
		return nil, fmt.Errorf("release %s: %w", name, err)
	}
	return nil, nil
}

func (t *batchTx) AccountForUser(accountID, userID string) (*models.Account, error) {
	q := t.db.Where("id = ? AND user_id = ?", accountID, userID)
	if t.db.Dialector.Name() == "postgres" {
		// Serialise concurrent batches on the balance row.
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var account models.Account
	err := q.Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (t *batchTx) TransactionsByExternalID(userID, externalID string) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := t.db.
		Where("user_id = ?", userID).
		Where(datatypes.JSONQuery("metadata").Equals(externalID, models.ExternalIDKey)).
		Order("created_at, id").
		Limit(2).
		Find(&rows).Error
	return rows, err
}

func (t *batchTx) CreateTransaction(tr *models.Transaction) error {
	return t.db.Create(tr).Error
}

func (t *batchTx) UpdateTransaction(tr *models.Transaction) error {
	res := t.db.Model(tr).
		Where("user_id = ?", tr.UserID).
		Select(updatableColumns).
		Updates(tr)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %s: %w", tr.ID, ErrNotFound)
	}
	return nil
}

func (t *batchTx) AdjustBalance(accountID, userID string, delta decimal.Decimal, at time.Time) error {
	var balance interface{} = gorm.Expr("balance + ?", delta)
	if t.db.Dialector.Name() != "postgres" {
		// sqlite keeps NUMERIC as REAL, so add in decimal and store the exact sum.
		var account models.Account
		err := t.db.Select("balance").Where("id = ? AND user_id = ?", accountID, userID).Take(&account).Error
		if err != nil {
			return notFound(err, "account "+accountID)
		}
		balance = account.Balance.Add(delta).Round(2)
	}

	res := t.db.Model(&models.Account{}).
		Where("id = ? AND user_id = ?", accountID, userID).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}
