package database

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestUsernameValidation(t *testing.T) {
	v := NewValidator(DefaultLimits())

	valid := []string{"alice", "Bob_2", "x", "a-b-c", strings.Repeat("z", 20)}
	for _, name := range valid {
		assert.NoError(t, v.Username(name), name)
	}

	tests := []struct {
		name   string
		reason Reason
	}{
		{"", ReasonInvalidUsername},
		{"has space", ReasonInvalidUsername},
		{"alice ", ReasonInvalidUsername},
		{"émile", ReasonInvalidUsername},
		{"semi;colon", ReasonInvalidUsername},
		{strings.Repeat("z", 21), ReasonUsernameTooLong},
	}
	for _, tt := range tests {
		err := v.Username(tt.name)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "%q should fail", tt.name)
		assert.Equal(t, "username", verr.Field)
		assert.Equal(t, tt.reason, verr.Reason, "%q", tt.name)
	}
}

func TestBodyValidation(t *testing.T) {
	v := NewValidator(DefaultLimits())

	body, err := v.Body("\t hi there  ")
	require.NoError(t, err)
	assert.Equal(t, "hi there", body)

	// the limit counts characters, not bytes
	body, err = v.Body(strings.Repeat("é", 500))
	require.NoError(t, err)
	assert.Len(t, []rune(body), 500)

	_, err = v.Body(strings.Repeat("é", 501))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonMessageTooLong, verr.Reason)

	_, err = v.Body(" \n\t ")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonEmptyMessage, verr.Reason)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestZeroLimitsFallBackToDefaults(t *testing.T) {
	v := NewValidator(Limits{})
	assert.Equal(t, DefaultLimits(), v.Limits())
}

// TestUsernameRuleProperty checks the validator against a direct statement of the rule
func TestUsernameRuleProperty(t *testing.T) {
	v := NewValidator(DefaultLimits())
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.OneOf(
			rapid.StringMatching(`[A-Za-z0-9_-]{0,25}`),
			rapid.String(),
		).Draw(t, "name")

		want := name != "" && len([]rune(name)) <= 20 && usernameRegex.MatchString(name)
		got := v.Username(name) == nil
		if got != want {
			t.Fatalf("Username(%q) accepted=%v, want %v", name, got, want)
		}
	})
}

// TestBodyIsAlwaysTrimmed checks that any accepted body comes back trimmed and within the limit
func TestBodyIsAlwaysTrimmed(t *testing.T) {
	v := NewValidator(DefaultLimits())
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.String().Draw(t, "body")
		body, err := v.Body(raw)
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if body != strings.TrimSpace(body) || body == "" || len([]rune(body)) > 500 {
			t.Fatalf("accepted invalid body %q", body)
		}
	})
}
