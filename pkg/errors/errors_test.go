package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorWrapsInternal(t *testing.T) {
	cause := errors.New("connection reset")
	err := ErrRateLimited.WithInternal(cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection reset")
	require.Equal(t, "RATE_LIMIT_EXCEEDED", err.Code)
	require.Equal(t, http.StatusTooManyRequests, err.StatusCode)

	// The sentinel itself must stay untouched.
	require.Nil(t, ErrRateLimited.Internal)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := FromError(fmt.Errorf("load user: %w", ErrNotFound))
	require.Equal(t, ErrNotFound.Code, appErr.Code)

	generic := FromError(errors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.Contains(t, generic.Error(), "boom")
}

func TestNewBadRequestKeepsStatus(t *testing.T) {
	err := NewBadRequest("user id is required")
	require.Equal(t, ErrBadRequest.Code, err.Code)
	require.Equal(t, http.StatusBadRequest, err.StatusCode)
	require.Equal(t, "user id is required", err.Message)
}
