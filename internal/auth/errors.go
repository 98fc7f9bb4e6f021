package auth

import "errors"

var (
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrInvalidAccount = errors.New("auth: invalid account id")
	ErrInvalidRole    = errors.New("auth: invalid role")
)
