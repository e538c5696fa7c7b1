package ingest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchErrorClassification(t *testing.T) {
	t.Parallel()

	transient := fmt.Errorf("wrapped: %w", &FetchError{URL: "https://x", Status: 503, Transient: true})
	assert.True(t, IsTransient(transient))

	permanent := &FetchError{URL: "https://x", Status: 404}
	assert.False(t, IsTransient(permanent))
	assert.Contains(t, permanent.Error(), "status 404")

	exhausted := &FetchError{URL: "https://x", Attempts: 5, Err: ErrFetchExhausted}
	assert.True(t, errors.Is(exhausted, ErrFetchExhausted))
}

func TestWrappedErrorsUnwrap(t *testing.T) {
	t.Parallel()

	root := errors.New("boom")
	var le *ListError
	assert.True(t, errors.As(fmt.Errorf("run: %w", &ListError{Source: "s", Err: root}), &le))
	assert.ErrorIs(t, le, root)
	assert.ErrorIs(t, &ParseError{What: "json", Err: root}, root)
	assert.ErrorIs(t, &ConfigError{Err: root}, root)
}
