package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status  int
		message string
		want    ErrorKind
	}{
		{400, "messages: field required", KindInvalidRequest},
		{400, "Your credit balance is too low", KindQuota},
		{401, "invalid x-api-key", KindAuth},
		{403, "forbidden", KindAuth},
		{402, "", KindQuota},
		{404, "model not found", KindInvalidRequest},
		{408, "", KindUnavailable},
		{429, "rate limit exceeded", KindRateLimited},
		{429, "You exceeded your current quota", KindQuota},
		{500, "", KindUnavailable},
		{529, "overloaded", KindUnavailable},
		{0, "", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status, tt.message))
		})
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.False(t, KindAuth.Retryable())
	assert.False(t, KindInvalidRequest.Retryable())
	assert.False(t, KindQuota.Retryable())
	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindUnavailable.Retryable())
	assert.True(t, KindUnknown.Retryable())
}

func TestKindOf_Wrapped(t *testing.T) {
	base := &Error{Provider: "anthropic", Kind: KindAuth, StatusCode: 401, Message: "bad key"}
	wrapped := fmt.Errorf("turn 2: %w", base)

	assert.Equal(t, KindAuth, KindOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.Equal(t, "anthropic: auth (status 401): bad key", base.Error())
}
