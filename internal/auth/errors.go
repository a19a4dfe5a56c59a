package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserDisabled       = errors.New("auth: user disabled")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrForbidden          = errors.New("auth: forbidden")
	// ErrInvalidPassword rejects values bcrypt cannot hash: empty or longer than 72 bytes.
	ErrInvalidPassword = errors.New("auth: invalid password value")
)
