package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finance-sync-be/models"
)

// DefaultMaxBatchSize is the largest batch accepted unless overridden.
const DefaultMaxBatchSize = 100

// DefaultTransactionType is stored when an item carries no type tag.
const DefaultTransactionType = "debit"

var (
	// ErrInvalidRequest marks batches rejected before any storage access.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrService marks failures of the transactional envelope. Nothing from the
	// batch is persisted when it is returned.
	ErrService = errors.New("batch service failure")
	// ErrAccountNotFound is recorded per item when the account is missing or
	// belongs to another user. The text is part of the API contract.
	ErrAccountNotFound = errors.New("Account not found or unauthorized")
	// ErrDuplicateExternalID is recorded when more than one stored transaction
	// carries the item's external id.
	ErrDuplicateExternalID = errors.New("multiple transactions share external_id")
	// ErrInvalidExternalID is recorded when metadata.external_id is not a
	// non-empty string.
	ErrInvalidExternalID = errors.New("metadata.external_id must be a non-empty string")
)

// Date accepts either a calendar date (2006-01-02) or an RFC 3339 timestamp.
type Date struct {
	time.Time
}

var dateLayouts = []string{time.DateOnly, time.RFC3339Nano, "2006-01-02T15:04:05"}

// ParseDate parses s using the layouts accepted on the wire.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t.UTC()}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("transactionDate must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	t := d.UTC()
	if t.Equal(t.Truncate(24 * time.Hour)) {
		return json.Marshal(t.Format(time.DateOnly))
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// ProposedTransaction is one client-side record submitted for merging.
type ProposedTransaction struct {
	ID              string                 `json:"id,omitempty"`
	AccountID       string                 `json:"accountId"`
	TransactionDate Date                   `json:"transactionDate"`
	Description     string                 `json:"description"`
	Amount          decimal.NullDecimal    `json:"amount"`
	Category        *string                `json:"category,omitempty"`
	TransactionType string                 `json:"transactionType,omitempty"`
	MerchantName    *string                `json:"merchantName,omitempty"`
	Pending         bool                   `json:"pending"`
	Tags            []string               `json:"tags"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// externalID extracts metadata.external_id. ok is false when the key is absent.
func (p ProposedTransaction) externalID() (id string, ok bool, err error) {
	raw, present := p.Metadata[models.ExternalIDKey]
	if !present || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString || s == "" {
		return "", true, ErrInvalidExternalID
	}
	return s, true, nil
}

// applyTo copies every mutable field of p onto t.
func (p ProposedTransaction) applyTo(t *models.Transaction) {
	t.AccountID = p.AccountID
	t.TransactionDate = p.TransactionDate.Time
	t.Description = p.Description
	t.Amount = p.Amount.Decimal
	t.Category = p.Category
	t.TransactionType = p.TransactionType
	if t.TransactionType == "" {
		t.TransactionType = DefaultTransactionType
	}
	t.MerchantName = p.MerchantName
	t.Pending = p.Pending
	t.Tags = append([]string{}, p.Tags...)
	t.Metadata = make(map[string]interface{}, len(p.Metadata))
	for k, v := range p.Metadata {
		t.Metadata[k] = v
	}
	t.ExternalID = nil
	if id, ok, err := p.externalID(); ok && err == nil {
		t.ExternalID = &id
	}
}

// ItemError pairs a rejected item with the reason it was rejected.
type ItemError struct {
	Transaction ProposedTransaction `json:"transaction"`
	Error       string              `json:"error"`
}

// BatchResult summarises one reconcile call.
type BatchResult struct {
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Errors  []ItemError `json:"errors"`
}

// Processed is the number of items the result accounts for.
func (r BatchResult) Processed() int {
	return r.Created + r.Updated + len(r.Errors)
}
