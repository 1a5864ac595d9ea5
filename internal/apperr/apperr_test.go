package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrappedSentinel(t *testing.T) {
	sentinel := New(CodeConflict, "taken")
	err := fmt.Errorf("reserve: %w", fmt.Errorf("%w: unit 1", sentinel))

	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.True(t, Is(err, CodeConflict))
	assert.True(t, errors.Is(err, sentinel))
}

func TestCodeOfUntyped(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestWrapUnwrapsToCause(t *testing.T) {
	cause := errors.New("driver failure")
	err := Wrap(CodeDependency, cause, "database unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "database unavailable", err.Message())
	assert.Contains(t, err.Error(), "driver failure")
}

func TestWithDetailsCopies(t *testing.T) {
	sentinel := New(CodeValidation, "invalid cart")
	detailed := sentinel.WithDetails(map[string]string{"lines": "is required"})

	assert.Nil(t, sentinel.Details())
	assert.Equal(t, map[string]string{"lines": "is required"}, detailed.Details())
	assert.Equal(t, CodeValidation, detailed.Code())
}

func TestMetadataFor(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:      http.StatusBadRequest,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeExpired:         http.StatusGone,
		CodeConflict:        http.StatusConflict,
		CodePaymentDeclined: http.StatusPaymentRequired,
		Code("UNKNOWN"):     http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, MetadataFor(code).HTTPStatus, string(code))
	}
	assert.False(t, MetadataFor(CodeInternal).Expose)
}
