package records

import "errors"

var (
	ErrStoreClosed    = errors.New("artifact store is closed")
	ErrWriteTimeout   = errors.New("write operation timeout")
	ErrMissingSession = errors.New("session id is required")
	ErrMissingTeam    = errors.New("team id is required")
	ErrMissingProject = errors.New("project id is required")
)
