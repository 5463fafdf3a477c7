package chat

import "errors"

var (
	ErrUnauthenticated = errors.New("connection is not authenticated")
	ErrUnauthorized    = errors.New("not the message owner")
	ErrNotFound        = errors.New("message not found")
	ErrInvalidFile     = errors.New("invalid file attachment")
)

// Error codes surfaced to clients on the "error" event.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeUnauthorized    = "unauthorized"
	CodeNotFound        = "not_found"
	CodePersistence     = "persistence"
	CodeBadRequest      = "bad_request"
)
