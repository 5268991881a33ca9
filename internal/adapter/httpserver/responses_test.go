package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

func TestStatusForKind(t *testing.T) {
	cases := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindValidation, http.StatusBadRequest},
		{domain.KindAuthentication, http.StatusUnauthorized},
		{domain.KindRateLimit, http.StatusTooManyRequests},
		{domain.KindQuotaExceeded, http.StatusTooManyRequests},
		{domain.KindTimeout, http.StatusGatewayTimeout},
		{domain.KindNetwork, http.StatusBadGateway},
		{domain.KindServerError, http.StatusBadGateway},
		{domain.KindDatabase, http.StatusNotFound},
		{domain.KindUnknown, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusForKind(c.kind), "kind %s", c.kind)
	}
}

func TestWriteError_ClassifiesPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, nil, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, string(domain.KindNetwork), env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
}

func TestWriteError_PreservesClassifiedKind(t *testing.T) {
	rec := httptest.NewRecorder()
	cerr := domain.NewClassifiedError(domain.KindQuotaExceeded, false, "user u1 has 5 active jobs")
	cerr.UserMessage = "maximum concurrent jobs limit (5) reached"
	writeError(rec, nil, cerr, nil)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, "maximum concurrent jobs limit (5) reached", env.Error.Message)
}
