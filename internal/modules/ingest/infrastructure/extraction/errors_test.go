package extraction

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &RateLimitedError{}, true},
		{"connection", &ConnectionError{Err: errors.New("refused")}, true},
		{"timeout", &TimeoutError{Err: errors.New("deadline")}, true},
		{"server 500", &ServerError{Status: 500}, true},
		{"server 503", &ServerError{Status: 503}, true},
		{"client 400", &ClientError{Status: 400}, false},
		{"client 422", &ClientError{Status: 422}, false},
		{"auth", &AuthError{Message: "bad key"}, false},
		{"validation", &ValidationError{Message: "not json"}, false},
		{"plain error", errors.New("mystery"), false},
		{"wrapped timeout", fmt.Errorf("call: %w", &TimeoutError{Err: errors.New("slow")}), true},
		{"wrapped client error", fmt.Errorf("call: %w", &ClientError{Status: 404}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
