package oauth

import (
	"context"
	"net/http"
	"net/url"
)

const (
	googleAuthEndpoint     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenEndpoint    = "https://oauth2.googleapis.com/token"
	googleUserinfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Google implements Provider for Google OpenID Connect.
type Google struct {
	creds  Credentials
	client *http.Client
}

func NewGoogle(creds Credentials) *Google {
	return &Google{creds: creds, client: httpClient()}
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthorizationURL(state, codeChallenge, redirectURI string) string {
	q := url.Values{
		"client_id":             {g.creds.ClientID},
		"response_type":         {"code"},
		"scope":                 {"openid email profile"},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
		"prompt":                {"select_account"},
	}
	return googleAuthEndpoint + "?" + q.Encode()
}

func (g *Google) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (string, error) {
	body, err := postForm(ctx, g.client, googleTokenEndpoint, url.Values{
		"client_id":     {g.creds.ClientID},
		"client_secret": {g.creds.ClientSecret},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	})
	if err != nil {
		return "", err
	}
	return accessTokenFrom(body)
}

func (g *Google) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var data struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, g.client, googleUserinfoEndpoint, accessToken, &data); err != nil {
		return nil, err
	}
	if data.Email == "" {
		return nil, ErrNoEmail
	}
	return &Profile{
		Subject:       data.Sub,
		Email:         data.Email,
		EmailVerified: data.EmailVerified,
		FullName:      data.Name,
		AvatarURL:     data.Picture,
	}, nil
}
