package collab

import "errors"

var (
	ErrDocumentDestroyed = errors.New("document destroyed")
	ErrInvalidUpdate     = errors.New("invalid document update")
)
