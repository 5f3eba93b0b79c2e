// Package oauth implements the federated login handshake: PKCE-bound
// authorization redirects, single-use state, code exchange and profile
// normalization for the supported providers.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Profile is the normalized identity a provider reports after a successful
// code exchange.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	FullName      string
	AvatarURL     string
}

// Provider encapsulates one upstream identity provider.
type Provider interface {
	Name() string
	AuthorizationURL(state, codeChallenge, redirectURI string) string
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (accessToken string, err error)
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// Credentials holds the client registration for one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both parts of the registration are present.
func (c Credentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// postForm exchanges an authorization code at the provider's token endpoint
// and returns the decoded JSON body.
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("oauth: token endpoint returned %d", resp.StatusCode)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("oauth: decode token response: %w", err)
	}
	return decoded, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("oauth: userinfo endpoint returned %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

func accessTokenFrom(body map[string]any) (string, error) {
	tok, _ := body["access_token"].(string)
	if tok == "" {
		return "", fmt.Errorf("oauth: token response has no access_token")
	}
	return tok, nil
}
