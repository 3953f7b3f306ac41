package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_MatchesInvalidData(t *testing.T) {
	err := fmt.Errorf("decline: %w", NewValidationError("ids can't be declined", nil))

	require.ErrorIs(t, err, ErrorInvalidData)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "ids can't be declined", ve.Message)
}

func TestValidationError_ErrorListsFieldsSorted(t *testing.T) {
	err := NewValidationError("bad request", map[string][]string{
		"requestIds": {"r-2", "r-1"},
		"comment":    {"too long"},
	})

	assert.Equal(t, "bad request (comment: too long; requestIds: r-2, r-1)", err.Error())
}

func TestValidationError_NoFields(t *testing.T) {
	assert.Equal(t, "nope", NewValidationError("nope", map[string][]string{}).Error())
}
