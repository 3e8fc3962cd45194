package types

import "time"

// Result is the response shape of every call toward the record persistence
// layer. Callers branch on Success only; a failed call is never signalled by a
// panic or a Go error.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed result carrying a human readable reason.
func Fail[T any](reason string) Result[T] {
	return Result[T]{Success: false, Error: reason}
}

// Artifact is a document a team submitted for one session of a project.
// Its Content seeds an empty collaborative document.
type Artifact struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	SessionID string    `json:"session_id"`
	TeamID    string    `json:"team_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}
