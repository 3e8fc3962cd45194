package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types let the channel distinguish a
// frame it should ignore from a frame it cannot build
var (
	ErrInvalidRoomID     = errors.New("room ID must be 1-128 characters, alphanumeric plus _ - . : only")
	ErrInvalidFrameType  = errors.New("invalid frame type")
	ErrUnknownFrameType  = errors.New("unknown frame type")
	ErrMissingPayload    = errors.New("chat_message frame requires a payload")
	ErrInvalidPayload    = errors.New("invalid chat message payload")
	ErrInvalidSenderType = errors.New("sender type must be user or ai")
	ErrContentTooLarge   = errors.New("message content exceeds 64KB limit")
)
