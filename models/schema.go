package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExternalIDKey is the metadata key carrying the client's idempotency key.
const ExternalIDKey = "external_id"

// User represents a user in the system.
type User struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Account holds a cached balance maintained incrementally by the reconciler.
type Account struct {
	ID        string          `gorm:"type:text;primaryKey" json:"id"`
	UserID    string          `gorm:"type:text;not null;index" json:"user_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"balance"`
	Currency  string          `gorm:"size:3;not null;default:USD" json:"currency"`
	IsActive  bool            `gorm:"not null" json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction represents a financial transaction.
type Transaction struct {
	ID              string                      `gorm:"type:text;primaryKey" json:"id"`
	AccountID       string                      `gorm:"type:text;not null;index" json:"account_id"`
	UserID          string                      `gorm:"type:text;not null;index;uniqueIndex:idx_user_external,priority:1" json:"user_id"` // Denormalised owner for scoped lookups
	TransactionDate time.Time                   `gorm:"not null" json:"transaction_date"`
	Description     string                      `json:"description"`
	Amount          decimal.Decimal             `gorm:"type:numeric(14,2);not null" json:"amount"`
	Category        *string                     `json:"category"`
	TransactionType string                      `gorm:"not null;default:debit" json:"transaction_type"`
	MerchantName    *string                     `json:"merchant_name"`
	Pending         bool                        `gorm:"not null;default:false" json:"pending"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	Metadata        datatypes.JSONMap           `json:"metadata"`
	ExternalID      *string                     `gorm:"type:text;uniqueIndex:idx_user_external,priority:2" json:"external_id,omitempty"` // Copy of metadata.external_id
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// BeforeSave derives the external_id column from metadata when the caller
// left it empty, so direct writes are held to the same uniqueness rule.
func (t *Transaction) BeforeSave(*gorm.DB) error {
	if t.ExternalID == nil {
		if id, ok := t.Metadata[ExternalIDKey].(string); ok && id != "" {
			t.ExternalID = &id
		}
	}
	return nil
}

// CategoryRule represents a rule for categorizing transactions.
type CategoryRule struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	UserID         string    `gorm:"type:text;not null;index" json:"user_id"`
	Pattern        string    `gorm:"not null" json:"pattern"` // Keyword to look for (case-insensitive)
	TargetCategory string    `gorm:"not null" json:"target_category"`
	TargetMerchant string    `gorm:"not null" json:"target_merchant"`
	CreatedAt      time.Time `json:"created_at"`
}

// All lists the models handled by auto-migration.
func All() []interface{} {
	return []interface{}{&User{}, &Account{}, &Transaction{}, &CategoryRule{}}
}
