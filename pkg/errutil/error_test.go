package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestConstructorsKeepWrappedError(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("failed to load campaign", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusInternal, StatusOf(err))
	require.Contains(t, err.Error(), "connection reset")
}

func TestJSONOmitsWrappedError(t *testing.T) {
	err := Conflict("submission is APPROVED", errors.New("pq: duplicate key"))

	var be BaseError
	require.True(t, errors.As(err, &be))

	body := be.JSON().(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "submission is APPROVED", body["message"])
	require.NotContains(t, fmt.Sprint(body), "duplicate key")
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want CoreStatus
	}{
		{"base error", NotFound("user not found", nil), StatusNotFound},
		{"wrapped base error", fmt.Errorf("review: %w", Forbidden("not allowed", nil)), StatusForbidden},
		{"record not found", gorm.ErrRecordNotFound, StatusNotFound},
		{"deadline", context.DeadlineExceeded, StatusGatewayTimeout},
		{"canceled", context.Canceled, StatusClientClosedRequest},
		{"raw", errors.New("sql: database is closed"), StatusInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.err).Code)
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusNotFound, StatusNotFound.HTTPStatus())
	require.Equal(t, http.StatusConflict, StatusConflict.HTTPStatus())
	require.Equal(t, http.StatusForbidden, StatusForbidden.HTTPStatus())
	require.Equal(t, http.StatusUnprocessableEntity, StatusValidationFailed.HTTPStatus())
	require.Equal(t, http.StatusBadGateway, StatusBadGateway.HTTPStatus())
	require.Equal(t, http.StatusServiceUnavailable, StatusPartialFailure.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, StatusUnknown.HTTPStatus())
}
