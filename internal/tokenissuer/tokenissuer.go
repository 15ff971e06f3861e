// Package tokenissuer implements the default token-validation collaborator
// (relay.TokenIssuer): an HTTP call to an external issuer that hands back
// the account's authoritative display name for a valid token.
package tokenissuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrKareem1980/globed2/internal/errs"
)

// Issuer validates login tokens against an external HTTP service.
type Issuer struct {
	baseURL string
	http    *http.Client
}

// New returns an Issuer pointed at baseURL, with a 5s per-request timeout.
func New(baseURL string) *Issuer {
	return &Issuer{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type validateRequest struct {
	AccountID int32  `json:"account_id"`
	UserID    int32  `json:"user_id"`
	Token     string `json:"token"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Name  string `json:"name"`
}

// Validate reports the account's display name if token is valid for
// (accountID, userID). A rejected token or an unreachable issuer yields an
// error wrapping errs.ErrAuthentication; an unexpected status or a
// malformed response yields one wrapping errs.ErrUpstream.
func (iss *Issuer) Validate(ctx context.Context, accountID, userID int32, token string) (string, error) {
	body, err := json.Marshal(validateRequest{AccountID: accountID, UserID: userID, Token: token})
	if err != nil {
		return "", fmt.Errorf("encoding validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, iss.baseURL+"/api/v1/validate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := iss.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling token issuer: %w: %w", errs.ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("token rejected: %w", errs.ErrAuthentication)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token issuer returned status %d: %w", resp.StatusCode, errs.ErrUpstream)
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding validate response: %w: %w", errs.ErrUpstream, err)
	}
	if !out.Valid {
		return "", fmt.Errorf("token marked invalid: %w", errs.ErrAuthentication)
	}
	return out.Name, nil
}
