// Package categorize suggests and applies categories for synced transactions.
// It never touches account balances.
package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"finance-sync-be/models"
)

const (
	SourceRule = "rule"
	SourceAI   = "ai"
)

// Limits for one suggestion or rescan pass. 50 keeps prompts within token limits.
const (
	suggestLimit = 50
	rescanLimit  = 500
)

var (
	ErrEmptyResponse      = errors.New("empty response from AI")
	ErrUnparsableResponse = errors.New("failed to parse AI response")
	ErrInvalidRemap       = errors.New("new_category and new_merchant are required")
)

// Suggestion proposes a category and merchant for one transaction.
type Suggestion struct {
	TransactionID string `json:"transaction_id"`
	NewCategory   string `json:"new_category"`
	NewMerchant   string `json:"new_merchant"`
	Source        string `json:"source"`
}

// Suggester classifies transactions no rule matched.
type Suggester interface {
	Suggest(ctx context.Context, txns []models.Transaction) ([]Suggestion, error)
}

// Repository is the storage the service needs.
type Repository interface {
	ListUncategorized(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
	ListRules(ctx context.Context, userID string) ([]models.CategoryRule, error)
	GetTransaction(ctx context.Context, userID, transactionID string) (*models.Transaction, error)
	SetCategory(ctx context.Context, userID, transactionID, category, merchant string) error
	CreateRule(ctx context.Context, rule *models.CategoryRule) error
}

// Service combines stored rules with an optional AI suggester.
type Service struct {
	repo Repository
	ai   Suggester
	log  zerolog.Logger
}

// NewService creates a service. ai may be nil, in which case only rules are used.
func NewService(repo Repository, ai Suggester, log zerolog.Logger) *Service {
	return &Service{repo: repo, ai: ai, log: log}
}

// Suggest proposes categories for the user's uncategorised transactions.
func (s *Service) Suggest(ctx context.Context, userID string) ([]Suggestion, error) {
	txns, err := s.repo.ListUncategorized(ctx, userID, suggestLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	if len(txns) == 0 {
		return []Suggestion{}, nil
	}

	rules, err := s.repo.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch rules: %w", err)
	}

	suggestions := make([]Suggestion, 0, len(txns))
	var rest []models.Transaction
	for _, t := range txns {
		if rule, ok := Rules(rules).Match(matchText(t)); ok {
			suggestions = append(suggestions, Suggestion{
				TransactionID: t.ID,
				NewCategory:   rule.TargetCategory,
				NewMerchant:   rule.TargetMerchant,
				Source:        SourceRule,
			})
			continue
		}
		rest = append(rest, t)
	}

	if len(rest) == 0 || s.ai == nil {
		return suggestions, nil
	}

	s.log.Info().Str("user_id", userID).Int("count", len(rest)).Msg("Sending transactions for AI analysis")
	aiSuggestions, err := s.ai.Suggest(ctx, rest)
	if err != nil {
		return nil, err
	}

	// Drop anything the model invented.
	known := make(map[string]bool, len(rest))
	for _, t := range rest {
		known[t.ID] = true
	}
	for _, sg := range aiSuggestions {
		if known[sg.TransactionID] {
			sg.Source = SourceAI
			suggestions = append(suggestions, sg)
		}
	}
	return suggestions, nil
}

// RemapRequest is a manual correction for one transaction.
type RemapRequest struct {
	TransactionID string `json:"-"`
	NewMerchant   string `json:"new_merchant"`
	NewCategory   string `json:"new_category"`
	CreateRule    bool   `json:"create_rule"`
}

// RemapResult reports what a remap changed.
type RemapResult struct {
	Rule          *models.CategoryRule `json:"rule,omitempty"`
	Recategorized int                  `json:"recategorized"`
}

// Remap sets category and merchant on one transaction. With CreateRule it also
// stores the merchant as a pattern and applies it to the user's other
// uncategorised transactions.
func (s *Service) Remap(ctx context.Context, userID string, req RemapRequest) (RemapResult, error) {
	req.NewMerchant = strings.TrimSpace(req.NewMerchant)
	req.NewCategory = strings.TrimSpace(req.NewCategory)
	if req.NewMerchant == "" || req.NewCategory == "" {
		return RemapResult{}, ErrInvalidRemap
	}

	if _, err := s.repo.GetTransaction(ctx, userID, req.TransactionID); err != nil {
		return RemapResult{}, err
	}
	if err := s.repo.SetCategory(ctx, userID, req.TransactionID, req.NewCategory, req.NewMerchant); err != nil {
		return RemapResult{}, fmt.Errorf("update transaction: %w", err)
	}
	if !req.CreateRule {
		return RemapResult{}, nil
	}

	rule := &models.CategoryRule{
		UserID:         userID,
		Pattern:        req.NewMerchant,
		TargetCategory: req.NewCategory,
		TargetMerchant: req.NewMerchant,
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		// The remap itself succeeded; report the rule failure without failing it.
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to create rule")
		return RemapResult{}, nil
	}

	n, err := s.rescan(ctx, userID, Rules{*rule})
	if err != nil {
		s.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("Rescan after rule creation failed")
	}
	return RemapResult{Rule: rule, Recategorized: n}, nil
}

// rescan applies rules to uncategorised transactions and returns how many changed.
func (s *Service) rescan(ctx context.Context, userID string, rules Rules) (int, error) {
	txns, err := s.repo.ListUncategorized(ctx, userID, rescanLimit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range txns {
		rule, ok := rules.Match(matchText(t))
		if !ok {
			continue
		}
		if err := s.repo.SetCategory(ctx, userID, t.ID, rule.TargetCategory, rule.TargetMerchant); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
