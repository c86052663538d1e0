package auth

import "errors"

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrAlreadyExists   = errors.New("auth: already exists")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrInvalidInput    = errors.New("auth: invalid input")
)
