package hub

import "errors"

// Hub-specific errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrInvalidRoomID     = errors.New("invalid room id")
	ErrRateLimited       = errors.New("sender exceeded the send limit")
)
