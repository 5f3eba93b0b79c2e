package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const (
	githubAuthEndpoint     = "https://github.com/login/oauth/authorize"
	githubTokenEndpoint    = "https://github.com/login/oauth/access_token"
	githubUserinfoEndpoint = "https://api.github.com/user"
	githubEmailsEndpoint   = "https://api.github.com/user/emails"
)

// GitHub implements Provider for GitHub OAuth apps.
type GitHub struct {
	creds  Credentials
	client *http.Client
}

func NewGitHub(creds Credentials) *GitHub {
	return &GitHub{creds: creds, client: httpClient()}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) AuthorizationURL(state, codeChallenge, redirectURI string) string {
	q := url.Values{
		"client_id":             {g.creds.ClientID},
		"redirect_uri":          {redirectURI},
		"state":                 {state},
		"scope":                 {"read:user user:email"},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	return githubAuthEndpoint + "?" + q.Encode()
}

func (g *GitHub) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (string, error) {
	body, err := postForm(ctx, g.client, githubTokenEndpoint, url.Values{
		"client_id":     {g.creds.ClientID},
		"client_secret": {g.creds.ClientSecret},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"redirect_uri":  {redirectURI},
	})
	if err != nil {
		return "", err
	}
	return accessTokenFrom(body)
}

func (g *GitHub) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var user struct {
		ID        int64  `json:"id"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, g.client, githubUserinfoEndpoint, accessToken, &user); err != nil {
		return nil, err
	}

	email := user.Email
	if email == "" {
		// Profile email can be private; fall back to the emails API and
		// prefer the primary verified address.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, g.client, githubEmailsEndpoint, accessToken, &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
		if email == "" && len(emails) > 0 {
			email = emails[0].Email
		}
	}
	if email == "" {
		return nil, ErrNoEmail
	}

	return &Profile{
		Subject:       strconv.FormatInt(user.ID, 10),
		Email:         email,
		EmailVerified: true,
		FullName:      user.Name,
		AvatarURL:     user.AvatarURL,
	}, nil
}
