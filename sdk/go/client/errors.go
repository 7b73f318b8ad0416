package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrNotLoggedIn      = errors.New("client is not logged in")
	ErrInvalidMessage   = errors.New("invalid message")

	ErrUnknownCharacter = errors.New("unknown character")
	ErrLoginFailed      = errors.New("login failed")
	ErrAlreadyBound     = errors.New("session already has a player")
)
