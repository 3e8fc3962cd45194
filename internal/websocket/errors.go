package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write queue full")
)

// Dial-related errors
var (
	ErrInvalidURL        = errors.New("invalid websocket url")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)
