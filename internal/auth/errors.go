package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthenticated    = errors.New("auth: no active session")
	ErrInvalidToken       = errors.New("auth: invalid token")
)
