package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError(t *testing.T) {
	inner := fmt.Errorf("bad config")
	err := NewRuntimeError(inner)

	assert.True(t, IsRuntimeError(err))
	assert.False(t, IsTestFailureError(err))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "runtime error")

	wrapped := fmt.Errorf("starting up: %w", err)
	assert.True(t, IsRuntimeError(wrapped), "detection works through wrapping")
}

func TestTestFailureError(t *testing.T) {
	err := NewTestFailureError("3 of 10 tests failed")

	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	assert.Contains(t, err.Error(), "3 of 10 tests failed")
}

func TestErrorChecks_Nil(t *testing.T) {
	assert.False(t, IsRuntimeError(nil))
	assert.False(t, IsTestFailureError(nil))
}
