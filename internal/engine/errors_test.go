package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "http error",
			err:  &NetworkError{Operation: "add_transfer", StatusCode: 502, APIMessage: "bad gateway"},
			want: "network error during add_transfer (HTTP 502): bad gateway",
		},
		{
			name: "non-http error",
			err:  &NetworkError{Operation: "remove_transfer", APIMessage: "connection refused"},
			want: "network error during remove_transfer: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &NetworkError{Operation: "add_transfer", APIMessage: cause.Error(), Err: cause}

	require.ErrorIs(t, err, cause)

	var netErr *NetworkError
	assert.ErrorAs(t, error(err), &netErr)
}

func TestAuthenticationError(t *testing.T) {
	cause := errors.New("401 unauthorized")
	err := &AuthenticationError{Operation: "login", Err: cause}

	assert.Equal(t, "authentication failed during login", err.Error())
	assert.ErrorIs(t, err, cause)
}
