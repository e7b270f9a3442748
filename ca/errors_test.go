package ca_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jmcleod/ironca/ca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := ca.ErrorCodes()
	require.Len(t, codes, 14)
	seen := map[string]bool{}
	for _, c := range codes {
		name := c.String()
		assert.NotContains(t, name, "ErrorCode(")
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}
	assert.Equal(t, "NOT_PERMITTED", ca.CodeNotPermitted.String())
	assert.Equal(t, "ErrorCode(99)", ca.ErrorCode(99).String())
}

func TestOperationError(t *testing.T) {
	err := ca.NewOperationError(ca.CodeBadRequest, "invalid serial %q", "zz")
	assert.Equal(t, `BAD_REQUEST: invalid serial "zz"`, err.Error())

	wrapped := fmt.Errorf("dispatch: %w", err)
	code, ok := ca.CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ca.CodeBadRequest, code)

	_, ok = ca.CodeOf(errors.New("plain"))
	assert.False(t, ok)

	cause := errors.New("disk full")
	oe := ca.WrapOperationError(ca.CodeDatabaseFailure, cause)
	assert.ErrorIs(t, oe, cause)
	assert.Equal(t, "DATABASE_FAILURE: disk full", oe.Error())
	assert.Equal(t, "SYSTEM_FAILURE", (&ca.OperationError{Code: ca.CodeSystemFailure}).Error())
}
