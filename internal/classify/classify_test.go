package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"jobx-market/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want model.ErrorCategory
	}{
		{"HTTP 429 from upstream", model.CategoryRateLimit},
		{"Rate Limit exceeded", model.CategoryRateLimit},
		{"Too Many Requests", model.CategoryRateLimit},
		{"request throttled", model.CategoryRateLimit},
		{"IP blocked", model.CategoryRateLimit},
		{"read timeout", model.CategoryNetwork},
		{"Connection timed out", model.CategoryNetwork},
		{"DNS lookup failed", model.CategoryNetwork},
		{"SSL handshake error", model.CategoryNetwork},
		{"socket closed", model.CategoryNetwork},
		{"connection refused", model.CategoryNetwork},
		{"peer reset", model.CategoryNetwork},
		{"No jobs found", model.CategoryNoData},
		{"search returned no results", model.CategoryNoData},
		{"Empty response body", model.CategoryNoData},
		{"failed to parse page", model.CategoryParseError},
		{"JSON decode error", model.CategoryParseError},
		{"KeyError: 'salary'", model.CategoryParseError},
		{"ValueError: bad literal", model.CategoryParseError},
		{"captcha required", model.CategoryAuthBlock},
		{"HTTP 403", model.CategoryAuthBlock},
		{"Forbidden", model.CategoryAuthBlock},
		{"Access Denied", model.CategoryAuthBlock},
		{"something odd happened", model.CategoryUnknown},
		{"", model.CategoryUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.msg), "message %q", tc.msg)
	}
}

func TestClassify_PrecedenceFollowsRuleOrder(t *testing.T) {
	assert.Equal(t, model.CategoryRateLimit, Classify("429 connection timeout"))
	assert.Equal(t, model.CategoryRateLimit, Classify("blocked: 403 forbidden"))
	assert.Equal(t, model.CategoryNetwork, Classify("connection reset while parsing"))
	assert.Equal(t, model.CategoryNoData, Classify("no results (parse skipped)"))
	assert.Equal(t, model.CategoryParseError, Classify("parse failed behind captcha"))
}

func TestRetryable(t *testing.T) {
	for _, cat := range model.Categories {
		assert.Equal(t, cat != model.CategoryNoData, Retryable(cat), "category %s", cat)
	}
}
