package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrMissingParameter, http.StatusUnprocessableEntity, "x"), http.StatusUnprocessableEntity},
		{"missing parameter", ErrMissingParameter, http.StatusBadRequest},
		{"wrapped invalid input", fmt.Errorf("parsing limit: %w", ErrInvalidInput), http.StatusBadRequest},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"store unavailable", ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestDetailHidesInternals(t *testing.T) {
	appErr := New(ErrMissingParameter, http.StatusBadRequest, "Provide either pan or seed_name")
	assert.Equal(t, "Provide either pan or seed_name", Detail(fmt.Errorf("validate: %w", appErr)))

	leaky := fmt.Errorf("querying /srv/secret/tx.db: %w", errors.New("disk I/O error"))
	assert.Equal(t, "search failed", Detail(leaky))
	assert.Equal(t, "request timeout", Detail(fmt.Errorf("store: %w", ErrTimeout)))
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrStoreUnavailable, http.StatusInternalServerError, "DB not found at %s", "/x.db")
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.Equal(t, "store unavailable: DB not found at /x.db", err.Error())
}
