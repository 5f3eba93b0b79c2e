package authn

import "errors"

var (
	ErrUserNotFound       = errors.New("authn: user not found")
	ErrInvalidCredentials = errors.New("authn: invalid credentials")
	ErrAccountLocked      = errors.New("authn: account is locked")
	ErrAccountInactive    = errors.New("authn: account is inactive")
	ErrEmailNotVerified   = errors.New("authn: email is not verified")
	ErrInvalidInput       = errors.New("authn: invalid input")
	ErrTokenUsed          = errors.New("authn: token already used")
)
