package channel

import "errors"

var (
	// ErrConnectionTimeout is returned by WaitForConnection when the channel
	// did not open in time. It also matches waiters.ErrTimeout.
	ErrConnectionTimeout = errors.New("chat channel not open")

	ErrNotOpen = errors.New("chat channel is not open")
)
