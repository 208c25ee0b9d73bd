package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"finance-sync-be/models"
)

// UncategorizedLabel is what the sync rule engine historically stored for
// transactions it could not classify.
const UncategorizedLabel = "Uncategorized"

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// CreateAccount inserts a new account, generating its id when empty.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(account).Error
}

// ListAccounts returns the user's accounts ordered by name.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name, id").Find(&accounts).Error
	return accounts, err
}

// GetAccount returns one of the user's accounts.
func (s *Store) GetAccount(ctx context.Context, userID, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", accountID, userID).Take(&account).Error
	if err != nil {
		return nil, notFound(err, "account "+accountID)
	}
	return &account, nil
}

// GetTransaction returns one of the user's transactions.
func (s *Store) GetTransaction(ctx context.Context, userID, transactionID string) (*models.Transaction, error) {
	var tr models.Transaction
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", transactionID, userID).Take(&tr).Error
	if err != nil {
		return nil, notFound(err, "transaction "+transactionID)
	}
	return &tr, nil
}

// ListUncategorized returns up to limit transactions without a category,
// newest first.
func (s *Store) ListUncategorized(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(category IS NULL OR category = ? OR category = ?)", "", UncategorizedLabel).
		Order("transaction_date DESC, id").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// SetCategory overwrites category and merchant of one transaction. Balances
// are not affected.
func (s *Store) SetCategory(ctx context.Context, userID, transactionID, category, merchant string) error {
	res := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND user_id = ?", transactionID, userID).
		Updates(map[string]interface{}{"category": category, "merchant_name": merchant})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return nil
}

// CreateRule stores a categorisation rule for the user.
func (s *Store) CreateRule(ctx context.Context, rule *models.CategoryRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(rule).Error
}

// ListRules returns the user's rules, oldest first so earlier rules win.
func (s *Store) ListRules(ctx context.Context, userID string) ([]models.CategoryRule, error) {
	var rules []models.CategoryRule
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&rules).Error
	return rules, err
}
