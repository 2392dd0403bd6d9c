// Package classify maps free-form search failure messages onto error categories.
package classify

import (
	"strings"

	"jobx-market/internal/model"
)

type rule struct {
	category model.ErrorCategory
	hints    []string
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{model.CategoryRateLimit, []string{"429", "rate limit", "too many requests", "throttled", "blocked"}},
	{model.CategoryNetwork, []string{"timeout", "connection", "dns", "ssl", "socket", "refused", "reset"}},
	{model.CategoryNoData, []string{"no jobs found", "no results", "empty response"}},
	{model.CategoryParseError, []string{"parse", "json decode", "keyerror", "valueerror"}},
	{model.CategoryAuthBlock, []string{"captcha", "403", "forbidden", "access denied"}},
}

// Classify returns the category of msg. Matching is case-insensitive substring search.
func Classify(msg string) model.ErrorCategory {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, hint := range r.hints {
			if strings.Contains(lower, hint) {
				return r.category
			}
		}
	}
	return model.CategoryUnknown
}

// Retryable reports whether another attempt can change the outcome.
func Retryable(cat model.ErrorCategory) bool {
	return cat != model.CategoryNoData
}
