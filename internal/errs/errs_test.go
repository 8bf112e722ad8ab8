package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnavailable(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:6379: connection refused")

	err := Unavailable(cause, "acquire seat lock")

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "acquire seat lock")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUnavailable_Nil(t *testing.T) {
	assert.NoError(t, Unavailable(nil, "noop"))
	assert.NoError(t, Wrap(nil, "noop"))
}

func TestUnavailable_AlreadyClassified(t *testing.T) {
	inner := Unavailable(errors.New("timeout"), "load seat")

	err := Unavailable(inner, "hold")

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "hold")
}

func TestWrap_KeepsSentinel(t *testing.T) {
	err := Wrapf(ErrNotFound, "seat %d", 7)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsUnavailable(err))
	assert.Equal(t, "seat 7: not found", err.Error())
}

func TestExtractStackLines(t *testing.T) {
	lines := ExtractStackLines(Wrap(ErrLockConflict, "hold"), 3)

	assert.Len(t, lines, 3)
	assert.Nil(t, ExtractStackLines(nil, 3))
}
