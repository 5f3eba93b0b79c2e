package oauth

import "errors"

var (
	ErrUnknownProvider  = errors.New("oauth: unknown provider")
	ErrInvalidState     = errors.New("oauth: invalid or reused state")
	ErrStateExpired     = errors.New("oauth: state expired")
	ErrProviderMismatch = errors.New("oauth: state issued for another provider")
	ErrNoEmail          = errors.New("oauth: provider returned no email address")
)
