package interfaces

import "errors"

// Common boundary errors used across components
var (
	ErrArtifactNotFound = errors.New("artifact not found")
)
