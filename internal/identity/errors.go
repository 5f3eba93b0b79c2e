package identity

import "errors"

var (
	ErrNotFound       = errors.New("identity: not found")
	ErrEmailTaken     = errors.New("identity: email already registered")
	ErrUsernameTaken  = errors.New("identity: username already taken")
	ErrProviderLinked = errors.New("identity: provider linkage already taken")
	ErrInvalidInput   = errors.New("identity: invalid input")
)
