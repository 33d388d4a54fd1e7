package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/domain"
)

// DefaultTokenURL is the token authority shared by the Geoportal services.
const DefaultTokenURL = "https://www.geoservicos.ide.df.gov.br/arcgis/tokens/generateToken"

// TokenClient requests referer-bound tokens from an ArcGIS token authority.
// It implements ports.TokenProvider without caching; every call issues a
// fresh request.
type TokenClient struct {
	HTTPClient        *http.Client
	TokenURL          string
	Referer           string
	ExpirationMinutes int

	now func() time.Time
}

// NewTokenClient creates a TokenClient. An empty tokenURL falls back to
// DefaultTokenURL and a non-positive expiration to 60 minutes.
func NewTokenClient(httpClient *http.Client, tokenURL, referer string, expirationMinutes int) *TokenClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if expirationMinutes <= 0 {
		expirationMinutes = 60
	}
	return &TokenClient{
		HTTPClient:        httpClient,
		TokenURL:          tokenURL,
		Referer:           referer,
		ExpirationMinutes: expirationMinutes,
		now:               time.Now,
	}
}

// GetToken obtains a token for svc using its credentials.
func (t *TokenClient) GetToken(ctx context.Context, svc domain.ServiceDescriptor) (*domain.AuthToken, error) {
	if svc.Credentials.Empty() {
		return nil, &domain.AuthError{Service: svc.Name, Message: "credentials are missing"}
	}

	tokenURL := t.TokenURL
	if svc.TokenURL != "" {
		tokenURL = svc.TokenURL
	}

	form := url.Values{}
	form.Set("username", svc.Credentials.Username)
	form.Set("password", svc.Credentials.Password)
	form.Set("client", "referer")
	form.Set("referer", t.Referer)
	form.Set("expiration", strconv.Itoa(t.ExpirationMinutes))
	form.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &domain.AuthError{Service: svc.Name, Message: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, &domain.AuthError{Service: svc.Name, Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &domain.AuthError{Service: svc.Name, Message: "read token response", Err: err}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &domain.AuthError{Service: svc.Name,
			Message: fmt.Sprintf("unparseable token response (HTTP %d): %s", resp.StatusCode, snippet(body)), Err: err}
	}
	if tr.Error != nil {
		msg := tr.Error.Message
		if msg == "" {
			msg = "failed to obtain authentication token"
		}
		if d := tr.Error.detail(); d != "" {
			msg += " (" + d + ")"
		}
		return nil, &domain.AuthError{Service: svc.Name, Message: msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.AuthError{Service: svc.Name, Message: fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode)}
	}
	if tr.Token == "" {
		return nil, &domain.AuthError{Service: svc.Name, Message: "token endpoint returned no token"}
	}

	now := t.now()
	expiresAt := now.Add(time.Duration(t.ExpirationMinutes) * time.Minute)
	if tr.Expires > 0 {
		expiresAt = time.UnixMilli(tr.Expires)
	}

	return &domain.AuthToken{
		Value:            tr.Token,
		ObtainedFrom:     tokenURL,
		ExpiresInMinutes: t.ExpirationMinutes,
		ExpiresAt:        expiresAt,
	}, nil
}
