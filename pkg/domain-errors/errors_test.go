package dErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	t.Run("extracts code from direct error", func(t *testing.T) {
		err := New(CodeNotFound, "participant not found")
		assert.Equal(t, CodeNotFound, CodeOf(err))
	})

	t.Run("extracts code through fmt wrapping", func(t *testing.T) {
		inner := New(CodeConflict, "identity already bound")
		wrapped := fmt.Errorf("register participant: %w", inner)
		assert.Equal(t, CodeConflict, CodeOf(wrapped))
	})

	t.Run("non-domain errors report internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "store unreachable")

	require.True(t, errors.Is(err, cause))
	assert.True(t, HasCode(err, CodeUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMessageOf(t *testing.T) {
	t.Run("returns caller-safe message", func(t *testing.T) {
		err := New(CodeBadRequest, "limit must be positive")
		assert.Equal(t, "limit must be positive", MessageOf(err))
	})

	t.Run("empty for non-domain errors", func(t *testing.T) {
		assert.Equal(t, "", MessageOf(errors.New("raw db error")))
	})
}
