package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOfWrappedErrors(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("summarize: %w", Upstream("Failed to contact provider", cause))

	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Equal(t, "Failed to contact provider", MessageOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestStatusOfKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{InvalidRequest("Question is required"), http.StatusBadRequest},
		{NotFound("Lawyer not found"), http.StatusNotFound},
		{Busy("server is busy, please retry"), http.StatusTooManyRequests},
		{BadUpstreamPayload("Invalid JSON received", nil), http.StatusBadGateway},
		{Internal("boom", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusOf(tc.err), tc.err.Error())
	}
	assert.Equal(t, "internal server error", MessageOf(errors.New("plain")))
}
