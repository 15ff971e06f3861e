package tokenissuer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrKareem1980/globed2/internal/errs"
)

func TestValidateReturnsDisplayNameOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/validate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req validateRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, int32(10), req.AccountID)
		assert.Equal(t, int32(20), req.UserID)
		assert.Equal(t, "good-token", req.Token)

		json.NewEncoder(w).Encode(validateResponse{Valid: true, Name: "player-one"})
	}))
	defer srv.Close()

	iss := New(srv.URL)
	name, err := iss.Validate(context.Background(), 10, 20, "good-token")
	require.NoError(t, err)
	assert.Equal(t, "player-one", name)
}

func TestValidateRejectsInvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{Valid: false})
	}))
	defer srv.Close()

	iss := New(srv.URL)
	_, err := iss.Validate(context.Background(), 1, 1, "bad-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestValidateUnauthorizedStatusWrapsAuthenticationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	iss := New(srv.URL)
	_, err := iss.Validate(context.Background(), 1, 1, "expired")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestValidateServerErrorWrapsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	iss := New(srv.URL)
	_, err := iss.Validate(context.Background(), 1, 1, "token")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}
