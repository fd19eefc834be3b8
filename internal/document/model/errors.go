package model

import (
	"context"
	"errors"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrCommentNotFound    = errors.New("comment not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrTimeout means the caller's deadline passed while waiting for the
	// document's edit lock. Nothing was applied.
	ErrTimeout = errors.New("timed out waiting for document lock")
)

// ErrorCode maps an error to a short stable code used in websocket error
// frames and metric labels.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrCommentNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	}
	return "internal"
}
