package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without cause",
			err:      NewError(CONFIG_NO_CREDENTIALS, "no usable provider for role verifier"),
			expected: "[CONFIG_NO_CREDENTIALS] no usable provider for role verifier",
		},
		{
			name:     "with cause",
			err:      WrapError(DB_QUERY_FAILED, "list exclusions", errors.New("disk I/O error")),
			expected: "[DB_QUERY_FAILED] list exclusions: disk I/O error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", WrapError(AGENT_CALL_FAILED, "verifier", cause))

	assert.True(t, errors.Is(err, NewError(AGENT_CALL_FAILED, "")))
	assert.False(t, errors.Is(err, NewError(AGENT_INVALID_RESPONSE, "")))
	assert.True(t, errors.Is(err, cause))

	var typed *Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, AGENT_CALL_FAILED, typed.Code)
	assert.False(t, typed.Retryable)
}

func TestNewRetryableError(t *testing.T) {
	err := NewRetryableError(AGENT_CALL_FAILED, "timeout")
	assert.True(t, err.Retryable)
	assert.Nil(t, err.Unwrap())
}

func TestHasCode(t *testing.T) {
	inner := NewError(CONFIG_NO_FALLBACK, "no fallback for manager")
	outer := WrapError(CONFIG_VALIDATION_FAILED, "preflight", inner)

	assert.True(t, HasCode(outer, CONFIG_VALIDATION_FAILED))
	assert.True(t, HasCode(outer, CONFIG_NO_FALLBACK))
	assert.False(t, HasCode(outer, CONFIG_NO_CREDENTIALS))
	assert.False(t, HasCode(errors.New("plain"), CONFIG_NO_FALLBACK))
	assert.False(t, HasCode(nil, CONFIG_NO_FALLBACK))
}

func TestID_RoundTrip(t *testing.T) {
	id := NewID()
	require.NoError(t, id.Validate())

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseID("not-a-uuid")
	assert.Error(t, err)
	_, err = ParseID("")
	assert.Error(t, err)
}

func TestID_JSONNull(t *testing.T) {
	var id ID
	data, err := id.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	require.NoError(t, id.UnmarshalJSON([]byte("null")))
	assert.True(t, id.IsZero())

	assert.Error(t, id.UnmarshalJSON([]byte(`"xyz"`)))
}
