package central

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrKareem1980/globed2/internal/errs"
)

func TestGetUserDataDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/42", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		w.Write([]byte(`{"banned":false,"whitelisted":true,"roles":["staff","moderator"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	entry, err := c.GetUserData(context.Background(), "42")
	require.NoError(t, err)
	assert.False(t, entry.Banned)
	assert.True(t, entry.Whitelisted)
	assert.Equal(t, []string{"staff", "moderator"}, entry.Roles)
}

func TestGetUserDataWrapsUpstreamErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetUserData(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestGetUserDataWrapsUpstreamErrorOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetUserData(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUpstream)
}

func TestBootRefreshDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/boot", r.URL.Path)
		w.Write([]byte(`{"maintenance":true,"tps":30,"no_chat":false,"status_print_interval":60}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	boot, err := c.BootRefresh(context.Background())
	require.NoError(t, err)
	assert.True(t, boot.Maintenance)
	assert.Equal(t, uint32(30), boot.TPS)
}

func TestIsWhitelistDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/whitelist", r.URL.Path)
		w.Write([]byte(`{"enabled":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	enabled, err := c.IsWhitelist(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestGetUserDataPropagatesTransportFailure(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.GetUserData(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUpstream))
}
