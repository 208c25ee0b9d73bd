package categorize

import (
	"strings"

	"finance-sync-be/models"
)

// Rules matches descriptions against a user's stored patterns.
type Rules []models.CategoryRule

// Match returns the first rule whose pattern occurs in text, ignoring case.
func (rs Rules) Match(text string) (models.CategoryRule, bool) {
	lower := strings.ToLower(text)
	for _, rule := range rs {
		pattern := strings.ToLower(strings.TrimSpace(rule.Pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, pattern) {
			return rule, true // Stop at first match
		}
	}
	return models.CategoryRule{}, false
}

// matchText is what rules are matched against for a stored transaction.
func matchText(t models.Transaction) string {
	if t.MerchantName != nil && *t.MerchantName != "" {
		return t.Description + " " + *t.MerchantName
	}
	return t.Description
}
