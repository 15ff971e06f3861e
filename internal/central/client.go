// Package central implements the relay server's HTTP client for the
// central control plane collaborator (relay.CentralClient): user lookup,
// boot-configuration refresh, and whitelist status.
package central

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/MrKareem1980/globed2/internal/errs"
	"github.com/MrKareem1980/globed2/internal/relay"
)

// Client talks to the central service over HTTP. Every request carries a
// fresh correlation id in the X-Request-Id header so a failure can be
// traced from the relay's logs through to the central service's own.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client pointed at baseURL, with a 10s per-request timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type userDataResponse struct {
	Banned          bool     `json:"banned"`
	BanReason       string   `json:"ban_reason"`
	ViolationExpiry int64    `json:"violation_expiry"`
	Whitelisted     bool     `json:"whitelisted"`
	Roles           []string `json:"roles"`
}

// GetUserData fetches ban/whitelist/role state for accountID.
func (c *Client) GetUserData(ctx context.Context, accountID string) (relay.UserEntry, error) {
	var resp userDataResponse
	if err := c.get(ctx, "/api/v1/users/"+url.PathEscape(accountID), &resp); err != nil {
		return relay.UserEntry{}, err
	}
	return relay.UserEntry{
		Banned:          resp.Banned,
		BanReason:       resp.BanReason,
		ViolationExpiry: resp.ViolationExpiry,
		Whitelisted:     resp.Whitelisted,
		Roles:           resp.Roles,
	}, nil
}

type bootResponse struct {
	Maintenance         bool   `json:"maintenance"`
	TPS                 uint32 `json:"tps"`
	NoChat              bool   `json:"no_chat"`
	StatusPrintInterval int64  `json:"status_print_interval"`
}

// BootRefresh fetches the current boot-time configuration snapshot.
func (c *Client) BootRefresh(ctx context.Context) (relay.BootData, error) {
	var resp bootResponse
	if err := c.get(ctx, "/api/v1/boot", &resp); err != nil {
		return relay.BootData{}, err
	}
	return relay.BootData{
		Maintenance:         resp.Maintenance,
		TPS:                 resp.TPS,
		NoChat:              resp.NoChat,
		StatusPrintInterval: resp.StatusPrintInterval,
	}, nil
}

type whitelistResponse struct {
	Enabled bool `json:"enabled"`
}

// IsWhitelist reports whether whitelist enforcement is currently enabled.
func (c *Client) IsWhitelist(ctx context.Context) (bool, error) {
	var resp whitelistResponse
	if err := c.get(ctx, "/api/v1/whitelist", &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w: %w", path, errs.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %w", path, resp.StatusCode, errs.ErrUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w: %w", path, errs.ErrUpstream, err)
	}
	return nil
}
